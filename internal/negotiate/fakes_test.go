package negotiate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/signaling/signalingtest"
	"github.com/Soika-Labs/gann-sdk-go/internal/transport"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

func newTestChannel(t *testing.T) (*signaling.Channel, *signalingtest.FakeSocket) {
	t.Helper()
	sock := signalingtest.New(true)
	channel, err := signaling.Open("agent-1", sock, "tok-1")
	require.NoError(t, err)
	return channel, sock
}

// relayEventFrame builds the wire frame for a quic_relay broadcast.
func relayEventFrame(sessionID, from string) string {
	return fmt.Sprintf(`{"event":"signaling","payload":{
		"session_id":%q,"from":%q,"to":"agent-1",
		"payload":{"kind":"quic_relay","relay":{
			"session_id":%q,"quic_addr":"198.51.100.7:7000","server_fingerprint_sha256":"aa"}}}}`,
		sessionID, from, sessionID)
}

// offerEventFrame builds the wire frame for an inbound quic_offer.
func offerEventFrame(sessionID, from string) string {
	return fmt.Sprintf(`{"event":"signaling","payload":{
		"session_id":%q,"from":%q,"to":"agent-1",
		"payload":{"kind":"quic_offer","offer":{
			"candidates":["127.0.0.1:4500"],"cert_der_b64":"AAAA",
			"fingerprint_sha256":"ff","alpn":"gann-peer/1","server_name":"gann-peer"}}}}`,
		sessionID, from)
}

type fakeConn struct {
	closes atomic.Int32
}

func (c *fakeConn) OpenBi(context.Context) (Stream, error)   { return nil, fmt.Errorf("no streams") }
func (c *fakeConn) AcceptBi(context.Context) (Stream, error) { return nil, fmt.Errorf("no streams") }
func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

type acceptOutcome struct {
	conn Conn
	err  error
}

type fakePeerServer struct {
	acceptCh chan acceptOutcome
	closes   atomic.Int32
}

func newFakePeerServer() *fakePeerServer {
	return &fakePeerServer{acceptCh: make(chan acceptOutcome, 1)}
}

func (s *fakePeerServer) Offer(candidates []string) *wire.QuicOffer {
	if len(candidates) == 0 {
		candidates = []string{"0.0.0.0:4500"}
	}
	return &wire.QuicOffer{
		Candidates:        transport.NormalizeCandidates(candidates),
		CertDerB64:        "AAAA",
		FingerprintSHA256: "ff",
		ALPN:              "gann-peer/1",
		ServerName:        "gann-peer",
	}
}

func (s *fakePeerServer) Accept(ctx context.Context) (Conn, error) {
	select {
	case outcome := <-s.acceptCh:
		return outcome.conn, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakePeerServer) Close() error {
	s.closes.Add(1)
	return nil
}

type fakePeerClient struct {
	connect func(ctx context.Context, offer *wire.QuicOffer) (Conn, error)
	closes  atomic.Int32
}

func (c *fakePeerClient) Connect(ctx context.Context, offer *wire.QuicOffer) (Conn, error) {
	return c.connect(ctx, offer)
}

func (c *fakePeerClient) Close() error {
	c.closes.Add(1)
	return nil
}

type bindCall struct {
	token     string
	sessionID string
}

type fakeRelayTransport struct {
	mu          sync.Mutex
	bindResults []bool
	bindErr     error
	calls       []bindCall
	sends       []json.RawMessage
	closes      atomic.Int32
}

func (t *fakeRelayTransport) RelayBind(ctx context.Context, token, sessionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, bindCall{token: token, sessionID: sessionID})
	if t.bindErr != nil {
		return false, t.bindErr
	}
	if len(t.bindResults) == 0 {
		return true, nil
	}
	result := t.bindResults[0]
	if len(t.bindResults) > 1 {
		t.bindResults = t.bindResults[1:]
	}
	return result, nil
}

func (t *fakeRelayTransport) RelaySend(ctx context.Context, token, sessionID string, payload json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends = append(t.sends, payload)
	return nil
}

func (t *fakeRelayTransport) RecvRelayData(ctx context.Context) (*transport.RelayFrame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (t *fakeRelayTransport) Close() error {
	t.closes.Add(1)
	return nil
}

func (t *fakeRelayTransport) bindCalls() []bindCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]bindCall, len(t.calls))
	copy(out, t.calls)
	return out
}

type fakeRelayClient struct {
	rt         *fakeRelayTransport
	connectErr error
	closes     atomic.Int32
}

func (c *fakeRelayClient) ConnectTransport(ctx context.Context, relay *wire.QuicRelayInfo) (RelayTransport, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.rt, nil
}

func (c *fakeRelayClient) Close() error {
	c.closes.Add(1)
	return nil
}

type fakeTransport struct {
	server      *fakePeerServer
	client      *fakePeerClient
	relayClient *fakeRelayClient
}

func (t *fakeTransport) NewPeerServer(bindAddr string) (PeerServer, error) {
	if t.server == nil {
		return nil, fmt.Errorf("no peer server configured")
	}
	return t.server, nil
}

func (t *fakeTransport) NewPeerClient(bindAddr string) (PeerClient, error) {
	if t.client == nil {
		return nil, fmt.Errorf("no peer client configured")
	}
	return t.client, nil
}

func (t *fakeTransport) NewRelayClient(bindAddr string) (RelayClient, error) {
	if t.relayClient == nil {
		return nil, fmt.Errorf("no relay client configured")
	}
	return t.relayClient, nil
}
