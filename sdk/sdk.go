// Package sdk is the public entry point of the GANN Go SDK: directory
// operations, signaling channel setup, and direct-first session negotiation.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Soika-Labs/gann-sdk-go/internal/directory"
	"github.com/Soika-Labs/gann-sdk-go/internal/e2ee"
	"github.com/Soika-Labs/gann-sdk-go/internal/negotiate"
	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

// Re-exported types so applications never import internal packages.
type (
	// Options configures one negotiation attempt.
	Options = negotiate.Options
	// SessionHandle is the uniform view over a negotiated session.
	SessionHandle = negotiate.SessionHandle
	// Channel is an open signaling channel to the directory.
	Channel = signaling.Channel
	// SignalingEvent is a server-to-client signaling frame.
	SignalingEvent = wire.SignalingEvent
	// QuicOffer is the advertised QUIC parameter blob.
	QuicOffer = wire.QuicOffer
	// AgentCard is the self-description submitted at registration.
	AgentCard = directory.AgentCard
	// AgentRecord is the directory's view of a registered agent.
	AgentRecord = directory.AgentRecord
	// Token is a short-lived signaling bearer token.
	Token = directory.Token
	// E2EEKeyPair is an ephemeral keypair for relay end-to-end encryption.
	E2EEKeyPair = e2ee.KeyPair
)

// GenerateE2EEKeyPair creates a keypair whose public key can be advertised
// via Options.E2EEPublicKeyB64.
func GenerateE2EEKeyPair() (*E2EEKeyPair, error) {
	return e2ee.GenerateKeyPair()
}

// Session modes.
const (
	ModeDirect = negotiate.ModeDirect
	ModeRelay  = negotiate.ModeRelay
)

// Client owns the directory HTTP collaborator and negotiation entry points
// for one agent.
type Client struct {
	agentID string

	mu        sync.Mutex
	directory *directory.Client
}

// New creates an SDK client for one agent identity.
func New(serverURL, apiKey, agentID string) (*Client, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("empty agent id")
	}
	if strings.TrimSpace(serverURL) == "" {
		return nil, fmt.Errorf("empty server URL")
	}
	return &Client{
		agentID:   agentID,
		directory: directory.NewClient(serverURL, apiKey, agentID),
	}, nil
}

// AgentID returns the local agent id.
func (c *Client) AgentID() string { return c.agentID }

// Register creates or refreshes this agent's directory record.
func (c *Client) Register(ctx context.Context, card AgentCard) (AgentRecord, error) {
	if card.AgentID == "" {
		card.AgentID = c.agentID
	}
	return c.dir().Register(ctx, card)
}

// Search queries the directory for agents matching a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]AgentRecord, error) {
	return c.dir().Search(ctx, query)
}

// FetchSchema returns the raw payload schema published by an agent.
func (c *Client) FetchSchema(ctx context.Context, agentID string) (json.RawMessage, error) {
	return c.dir().FetchSchema(ctx, agentID)
}

// IssueSignalingToken mints a fresh signaling token for this agent.
func (c *Client) IssueSignalingToken(ctx context.Context) (Token, error) {
	return c.dir().IssueSignalingToken(ctx, c.agentID)
}

// OpenChannel mints a token, dials the signaling socket, and waits for the
// channel to become ready. The caller owns the returned channel.
func (c *Client) OpenChannel(ctx context.Context) (*Channel, error) {
	token, err := c.IssueSignalingToken(ctx)
	if err != nil {
		return nil, err
	}
	socketURL, err := c.dir().SignalingURL(token.Value)
	if err != nil {
		return nil, err
	}
	sock, err := signaling.DialSocket(ctx, socketURL)
	if err != nil {
		return nil, err
	}
	channel, err := signaling.Open(c.agentID, sock, token.Value)
	if err != nil {
		sock.Close(0, "setup failed")
		return nil, err
	}
	if err := channel.Ready(ctx); err != nil {
		channel.Close(0, "ready failed")
		return nil, err
	}
	return channel, nil
}

// Dial negotiates a session with peerAgentID over an open channel. When
// opts.Token is empty the channel's token is reused for the relay bind.
func (c *Client) Dial(ctx context.Context, channel *Channel, peerAgentID string, opts Options) (*SessionHandle, error) {
	if opts.Token == "" {
		opts.Token = channel.Token()
	}
	return negotiate.Dial(ctx, channel, negotiate.QuicTransport{}, peerAgentID, opts)
}

// Accept waits for the next inbound offer on the channel and negotiates the
// responding side of the session.
func (c *Client) Accept(ctx context.Context, channel *Channel, opts Options) (*SessionHandle, error) {
	if opts.Token == "" {
		opts.Token = channel.Token()
	}
	return negotiate.Accept(ctx, channel, negotiate.QuicTransport{}, opts)
}

func (c *Client) dir() *directory.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory
}
