package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/Soika-Labs/gann-sdk-go/internal/e2ee"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

// stubRelay is a minimal in-process relay server: it answers bind/send
// control streams with scripted replies and pushes data frames to the client
// on uni streams.
type stubRelay struct {
	t           *testing.T
	listener    *quic.Listener
	qt          *quic.Transport
	udp         *net.UDPConn
	fingerprint string

	mu          sync.Mutex
	bindReplies []relayReply
	requests    []relayRequest

	conn   *quic.Conn
	connCh chan *quic.Conn
}

func newStubRelay(t *testing.T) *stubRelay {
	t.Helper()

	udpAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	udp, err := net.ListenUDP("udp", udpAddr)
	require.NoError(t, err)

	cert, _, fingerprint, err := selfSignedCert(RelayServerName)
	require.NoError(t, err)

	qt := &quic.Transport{Conn: udp}
	listener, err := qt.Listen(&tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{RelayALPN},
	}, &quic.Config{})
	require.NoError(t, err)

	s := &stubRelay{
		t:           t,
		listener:    listener,
		qt:          qt,
		udp:         udp,
		fingerprint: fingerprint,
		connCh:      make(chan *quic.Conn, 1),
	}
	go s.serve()

	t.Cleanup(func() {
		listener.Close()
		qt.Close()
		udp.Close()
	})
	return s
}

func (s *stubRelay) addr() string {
	return s.udp.LocalAddr().String()
}

func (s *stubRelay) relayInfo(sessionID string) *wire.QuicRelayInfo {
	return &wire.QuicRelayInfo{
		SessionID:               sessionID,
		QuicAddr:                s.addr(),
		ServerFingerprintSHA256: s.fingerprint,
	}
}

// scriptBind queues replies for upcoming bind requests; the last one repeats.
func (s *stubRelay) scriptBind(replies ...relayReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindReplies = replies
}

func (s *stubRelay) recorded() []relayRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]relayRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *stubRelay) serve() {
	conn, err := s.listener.Accept(context.Background())
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connCh <- conn

	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		data, err := io.ReadAll(stream)
		if err != nil {
			return
		}
		var req relayRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		reply := relayReply{OK: true}
		if req.Type == "bind" && len(s.bindReplies) > 0 {
			reply = s.bindReplies[0]
			if len(s.bindReplies) > 1 {
				s.bindReplies = s.bindReplies[1:]
			}
		}
		s.mu.Unlock()

		out, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if _, err := stream.Write(out); err != nil {
			return
		}
		stream.Close()
	}
}

// push sends one data frame to the connected client on a uni stream.
func (s *stubRelay) push(frame RelayFrame) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(s.t, conn, "no client connected yet")

	stream, err := conn.OpenUniStreamSync(context.Background())
	require.NoError(s.t, err)
	data, err := json.Marshal(frame)
	require.NoError(s.t, err)
	_, err = stream.Write(data)
	require.NoError(s.t, err)
	require.NoError(s.t, stream.Close())
}

func dialStubRelay(t *testing.T, s *stubRelay, sessionID string) *RelayTransport {
	t.Helper()
	rc, err := NewRelayClient("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt, err := rc.ConnectTransport(ctx, s.relayInfo(sessionID))
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	select {
	case <-s.connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("stub relay never saw the connection")
	}
	return rt
}

func TestRelayBindRoundTrip(t *testing.T) {
	sessionID := uuid.NewString()
	stub := newStubRelay(t)
	stub.scriptBind(
		relayReply{OK: true, PeerBound: false},
		relayReply{OK: true, PeerBound: true},
	)
	rt := dialStubRelay(t, stub, sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peerReady, err := rt.RelayBind(ctx, "tok-1", sessionID)
	require.NoError(t, err)
	require.False(t, peerReady)

	peerReady, err = rt.RelayBind(ctx, "tok-1", sessionID)
	require.NoError(t, err)
	require.True(t, peerReady)

	requests := stub.recorded()
	require.Len(t, requests, 2)
	for _, req := range requests {
		require.Equal(t, "bind", req.Type)
		require.Equal(t, "tok-1", req.Token)
		require.Equal(t, sessionID, req.SessionID)
	}
}

func TestRelayBindSurfacesRefusal(t *testing.T) {
	sessionID := uuid.NewString()
	stub := newStubRelay(t)
	stub.scriptBind(relayReply{OK: false, Error: "bad token"})
	rt := dialStubRelay(t, stub, sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := rt.RelayBind(ctx, "tok-1", sessionID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad token")
}

func TestRelaySendAndRecv(t *testing.T) {
	sessionID := uuid.NewString()
	stub := newStubRelay(t)
	rt := dialStubRelay(t, stub, sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := json.RawMessage(`{"text":"hello"}`)
	require.NoError(t, rt.RelaySend(ctx, "tok-1", sessionID, payload))

	requests := stub.recorded()
	require.Len(t, requests, 1)
	require.Equal(t, "send", requests[0].Type)
	require.JSONEq(t, string(payload), string(requests[0].Payload))

	stub.push(RelayFrame{SessionID: sessionID, From: "peer-A", To: "agent-1", Payload: payload})

	frame, err := rt.RecvRelayData(ctx)
	require.NoError(t, err)
	require.Equal(t, sessionID, frame.SessionID)
	require.Equal(t, "peer-A", frame.From)
	require.JSONEq(t, string(payload), string(frame.Payload))
}

func TestRelayE2EERoundTrip(t *testing.T) {
	sessionID := uuid.NewString()
	stub := newStubRelay(t)
	rt := dialStubRelay(t, stub, sessionID)

	alice, err := e2ee.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := e2ee.GenerateKeyPair()
	require.NoError(t, err)
	key, err := alice.DeriveRelaySharedKey(bob.PublicKeyB64(), sessionID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plaintext := []byte(`{"secret":42}`)
	require.NoError(t, rt.RelaySendE2EE(ctx, "tok-1", sessionID, key, plaintext))

	// The relay only ever sees the sealed envelope.
	requests := stub.recorded()
	require.Len(t, requests, 1)
	require.NotContains(t, string(requests[0].Payload), "secret")
	opened, err := e2ee.DecryptRelayPayload(key, sessionID, requests[0].Payload)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	// Peer-sealed frames open transparently on receive.
	peerKey, err := bob.DeriveRelaySharedKey(alice.PublicKeyB64(), sessionID)
	require.NoError(t, err)
	sealed, err := e2ee.EncryptRelayPayload(peerKey, sessionID, plaintext)
	require.NoError(t, err)
	stub.push(RelayFrame{SessionID: sessionID, From: "peer-A", To: "agent-1", Payload: sealed})

	frame, err := rt.RecvRelayDataE2EE(ctx, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, []byte(frame.Payload))
}

func TestRelayRequestValidation(t *testing.T) {
	sessionID := uuid.NewString()
	stub := newStubRelay(t)
	rt := dialStubRelay(t, stub, sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := rt.RelayBind(ctx, "tok-1", "not-a-uuid")
	require.ErrorIs(t, err, wire.ErrValidation)

	_, err = rt.RelayBind(ctx, "", sessionID)
	require.ErrorIs(t, err, wire.ErrValidation)

	err = rt.RelaySend(ctx, "tok-1", "also-not-a-uuid", json.RawMessage(`{}`))
	require.ErrorIs(t, err, wire.ErrValidation)

	err = rt.RelaySend(ctx, "tok-1", sessionID, nil)
	require.ErrorIs(t, err, wire.ErrValidation)

	// Rejected requests never reach the relay.
	require.Empty(t, stub.recorded())
}
