package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrToken indicates the directory returned a missing or malformed signaling
// token.
var ErrToken = errors.New("invalid signaling token")

// Token is a short-lived signaling bearer token. Tokens are plain values;
// any copy may be used. One token is normally shared between the signaling
// channel and the relay bind for a single session lifetime.
type Token struct {
	Value        string
	ExpiresAt    time.Time
	RawExpiresAt string
}

// Expired reports whether the token's deadline has passed.
func (t Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// IssueSignalingToken mints a fresh signaling token for agentID. No caching:
// callers issue one token per session attempt.
func (c *Client) IssueSignalingToken(ctx context.Context, agentID string) (Token, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return Token{}, fmt.Errorf("%w: empty agent id", ErrToken)
	}

	body, err := json.Marshal(map[string]string{"agent_id": agentID})
	if err != nil {
		return Token{}, fmt.Errorf("marshal token request: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/.gann/ws/token", body)
	if err != nil {
		return Token{}, err
	}

	var out struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return Token{}, fmt.Errorf("%w: parse token response: %v", ErrToken, err)
	}
	return newToken(out.Token, out.ExpiresAt)
}

// newToken validates the directory's token response. The expiry comes from
// expires_at when present; otherwise the unverified exp claim of the JWT is
// consulted before giving up.
func newToken(value, rawExpiresAt string) (Token, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Token{}, fmt.Errorf("%w: directory returned empty token", ErrToken)
	}

	if rawExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, rawExpiresAt)
		if err != nil {
			return Token{}, fmt.Errorf("%w: malformed expires_at %q: %v", ErrToken, rawExpiresAt, err)
		}
		return Token{Value: value, ExpiresAt: expiresAt, RawExpiresAt: rawExpiresAt}, nil
	}

	if expiresAt, ok := jwtExpiry(value); ok {
		return Token{
			Value:        value,
			ExpiresAt:    expiresAt,
			RawExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		}, nil
	}
	return Token{}, fmt.Errorf("%w: directory returned no expiry", ErrToken)
}

// jwtExpiry reads the exp claim from a JWT without verifying its signature.
// The directory remains the authority on validity; this only recovers the
// deadline when expires_at is absent.
func jwtExpiry(value string) (time.Time, bool) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(value, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
