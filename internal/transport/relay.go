package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/Soika-Labs/gann-sdk-go/internal/e2ee"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

// RelayClient dials relay transports described by directory relay events.
type RelayClient struct {
	udp *net.UDPConn
	qt  *quic.Transport
}

// NewRelayClient binds a local UDP socket for relay connections.
func NewRelayClient(bindAddr string) (*RelayClient, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr %q: %w", bindAddr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bindAddr, err)
	}
	return &RelayClient{udp: udp, qt: &quic.Transport{Conn: udp}}, nil
}

// ConnectTransport establishes the QUIC connection to the relay named in the
// coordinates, pinning the relay's certificate fingerprint.
func (c *RelayClient) ConnectTransport(ctx context.Context, relay *wire.QuicRelayInfo) (*RelayTransport, error) {
	if relay == nil {
		return nil, fmt.Errorf("%w: nil relay info", wire.ErrValidation)
	}
	if relay.QuicAddr == "" {
		return nil, fmt.Errorf("%w: relay info has no address", wire.ErrValidation)
	}
	if relay.ServerFingerprintSHA256 == "" {
		return nil, fmt.Errorf("%w: relay info has no fingerprint", wire.ErrValidation)
	}

	serverName := relay.ServerName
	if serverName == "" {
		serverName = RelayServerName
	}
	alpn := relay.ALPN
	if alpn == "" {
		alpn = RelayALPN
	}

	addr, err := net.ResolveUDPAddr("udp", relay.QuicAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve relay addr %q: %w", relay.QuicAddr, err)
	}
	qc, err := c.qt.Dial(ctx, addr, pinnedClientTLS(serverName, alpn, relay.ServerFingerprintSHA256), &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("dial relay %q: %w", relay.QuicAddr, err)
	}

	logger.Debugf("transport: connected to relay %s (session=%s)", relay.QuicAddr, relay.SessionID)
	return &RelayTransport{qc: qc}, nil
}

// Close releases the socket. Idempotent.
func (c *RelayClient) Close() error {
	c.qt.Close()
	return c.udp.Close()
}

// RelayFrame is one application payload delivered through the relay.
type RelayFrame struct {
	SessionID string          `json:"session_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Payload   json.RawMessage `json:"payload"`
}

// relayRequest is the client-to-relay control frame. One request rides one
// bidirectional stream; FIN delimits both directions.
type relayRequest struct {
	Type      string          `json:"type"`
	Token     string          `json:"token"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type relayReply struct {
	OK        bool   `json:"ok"`
	PeerBound bool   `json:"peer_bound"`
	Error     string `json:"error,omitempty"`
}

// RelayTransport is one authenticated QUIC connection to the relay, scoped
// to the session it is bound on.
type RelayTransport struct {
	qc *quic.Conn
}

// RelayBind registers this side of the session on the relay. The returned
// bool reports whether the peer is already bound; false is a retry signal,
// not an error.
func (t *RelayTransport) RelayBind(ctx context.Context, token, sessionID string) (bool, error) {
	reply, err := t.roundTrip(ctx, relayRequest{Type: "bind", Token: token, SessionID: sessionID})
	if err != nil {
		return false, err
	}
	return reply.PeerBound, nil
}

// RelaySend forwards a payload to the bound peer. The relay may hold the
// frame until the peer binds.
func (t *RelayTransport) RelaySend(ctx context.Context, token, sessionID string, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", wire.ErrValidation)
	}
	_, err := t.roundTrip(ctx, relayRequest{Type: "send", Token: token, SessionID: sessionID, Payload: payload})
	return err
}

// RecvRelayData blocks for the next payload forwarded by the relay.
func (t *RelayTransport) RecvRelayData(ctx context.Context) (*RelayFrame, error) {
	rs, err := t.qc.AcceptUniStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept relay stream: %w", err)
	}
	data, err := io.ReadAll(rs)
	if err != nil {
		return nil, fmt.Errorf("read relay frame: %w", err)
	}
	var frame RelayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("parse relay frame: %w", err)
	}
	return &frame, nil
}

// RelaySendE2EE seals plaintext with the session shared key before relaying.
func (t *RelayTransport) RelaySendE2EE(ctx context.Context, token, sessionID string, sharedKey, plaintext []byte) error {
	sealed, err := e2ee.EncryptRelayPayload(sharedKey, sessionID, plaintext)
	if err != nil {
		return err
	}
	return t.RelaySend(ctx, token, sessionID, sealed)
}

// RecvRelayDataE2EE receives a frame and opens its sealed payload in place.
func (t *RelayTransport) RecvRelayDataE2EE(ctx context.Context, sharedKey []byte) (*RelayFrame, error) {
	frame, err := t.RecvRelayData(ctx)
	if err != nil {
		return nil, err
	}
	plaintext, err := e2ee.DecryptRelayPayload(sharedKey, frame.SessionID, frame.Payload)
	if err != nil {
		return nil, err
	}
	frame.Payload = plaintext
	return frame, nil
}

// Close terminates the relay connection. Idempotent.
func (t *RelayTransport) Close() error {
	return t.qc.CloseWithError(0, "closed")
}

// roundTrip performs one control request/reply exchange on a fresh stream.
func (t *RelayTransport) roundTrip(ctx context.Context, req relayRequest) (*relayReply, error) {
	req.SessionID = wire.TrimID(req.SessionID)
	if _, err := uuid.Parse(req.SessionID); err != nil {
		return nil, fmt.Errorf("%w: session id %q is not a UUID", wire.ErrValidation, req.SessionID)
	}
	if req.Token == "" {
		return nil, fmt.Errorf("%w: empty token", wire.ErrValidation)
	}

	qs, err := t.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open relay stream: %w", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		qs.CancelWrite(0)
		return nil, fmt.Errorf("marshal relay request: %w", err)
	}
	if _, err := qs.Write(data); err != nil {
		return nil, fmt.Errorf("write relay request: %w", err)
	}
	if err := qs.Close(); err != nil {
		return nil, fmt.Errorf("finish relay request: %w", err)
	}

	replyData, err := io.ReadAll(qs)
	if err != nil {
		return nil, fmt.Errorf("read relay reply: %w", err)
	}
	var reply relayReply
	if err := json.Unmarshal(replyData, &reply); err != nil {
		return nil, fmt.Errorf("parse relay reply: %w", err)
	}
	if !reply.OK {
		if reply.Error == "" {
			reply.Error = "relay refused " + req.Type
		}
		return nil, fmt.Errorf("relay %s: %s", req.Type, reply.Error)
	}
	return &reply, nil
}
