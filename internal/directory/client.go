// Package directory is the authenticated HTTP client for the GANN directory
// service: token minting, agent registration, search, heartbeats, schema and
// ICE config fetches.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

const (
	// defaultHTTPTimeout is the per-request timeout used by the client.
	defaultHTTPTimeout = 15 * time.Second

	headerAPIKey  = "GANN-API-KEY"
	headerAgentID = "GANN-AGENT-ID"
)

// Client talks to one directory deployment on behalf of one agent.
type Client struct {
	baseURL    string
	apiKey     string
	agentID    string
	httpClient *http.Client
}

// NewClient creates a directory client. Trailing slashes are trimmed from
// baseURL; request paths are joined as baseURL + "/.gann/...".
func NewClient(baseURL, apiKey, agentID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		agentID:    strings.TrimSpace(agentID),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SetHTTPClient replaces the underlying HTTP client (tests).
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

// AgentCard is the self-description submitted at registration.
type AgentCard struct {
	AgentID     string            `json:"agent_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Schema      json.RawMessage   `json:"schema,omitempty"`
}

// AgentRecord is the directory's view of a registered agent.
type AgentRecord struct {
	AgentID     string            `json:"agent_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	LastSeenAt  string            `json:"last_seen_at,omitempty"`
	Status      string            `json:"status,omitempty"`
}

// ICEConfig carries server-suggested candidate hints for offer generation.
type ICEConfig struct {
	AdvertisedCandidates []string `json:"advertised_candidates,omitempty"`
	StunServers          []string `json:"stun_servers,omitempty"`
}

// Register creates or refreshes the agent's directory record.
func (c *Client) Register(ctx context.Context, card AgentCard) (AgentRecord, error) {
	body, err := json.Marshal(card)
	if err != nil {
		return AgentRecord{}, fmt.Errorf("marshal agent card: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/.gann/agents", body)
	if err != nil {
		return AgentRecord{}, err
	}
	var out struct {
		Agent AgentRecord `json:"agent"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return AgentRecord{}, fmt.Errorf("parse register response: %w", err)
	}
	return out.Agent, nil
}

// Search queries the directory for agents matching a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]AgentRecord, error) {
	path := "/.gann/agents?q=" + url.QueryEscape(query)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Agents []AgentRecord `json:"agents"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return out.Agents, nil
}

// Heartbeat reports liveness and load for the agent.
func (c *Client) Heartbeat(ctx context.Context, agentID string, load float64, status string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return fmt.Errorf("heartbeat: empty agent id")
	}
	body, err := json.Marshal(map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"load":      load,
		"status":    status,
	})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/.gann/agents/"+url.PathEscape(agentID)+"/heartbeat", body)
	return err
}

// FetchSchema returns the raw payload schema published by an agent.
// Validation against it is a separate collaborator's job.
func (c *Client) FetchSchema(ctx context.Context, agentID string) (json.RawMessage, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("fetch schema: empty agent id")
	}
	resp, err := c.doRequest(ctx, http.MethodGet, "/.gann/agents/"+url.PathEscape(agentID)+"/schema", nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp), nil
}

// ICEConfig fetches server-side candidate hints.
func (c *Client) ICEConfig(ctx context.Context) (ICEConfig, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/.gann/ice", nil)
	if err != nil {
		return ICEConfig{}, err
	}
	var out ICEConfig
	if err := json.Unmarshal(resp, &out); err != nil {
		return ICEConfig{}, fmt.Errorf("parse ice config: %w", err)
	}
	return out, nil
}

// SignalingURL derives the websocket URL for a minted token: https becomes
// wss, http becomes ws, and the token rides in the query string.
func (c *Client) SignalingURL(token string) (string, error) {
	return SignalingURL(c.baseURL, token)
}

// SignalingURL derives the signaling socket URL from a directory base URL.
func SignalingURL(baseURL, token string) (string, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		baseURL = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		baseURL = "ws://" + strings.TrimPrefix(baseURL, "http://")
	case strings.HasPrefix(baseURL, "wss://"), strings.HasPrefix(baseURL, "ws://"):
		// Already a socket URL.
	default:
		return "", fmt.Errorf("unsupported server URL scheme: %s", baseURL)
	}
	return baseURL + "/.gann/ws?token=" + url.QueryEscape(token), nil
}

// doRequest performs one authenticated request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("server URL not set")
	}

	fullURL := c.baseURL + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	if c.agentID != "" {
		req.Header.Set(headerAgentID, c.agentID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Tracef("directory: %s %s", method, path)
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("directory %s %s: status %d: %s", method, path, httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
