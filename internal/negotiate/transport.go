// Package negotiate implements the direct-first session negotiation protocol:
// an initiator races a direct QUIC accept against relay availability, a
// responder races a direct connect against the relay event, and both converge
// on a single session handle.
package negotiate

import (
	"context"
	"encoding/json"

	"github.com/Soika-Labs/gann-sdk-go/internal/transport"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

// Conn is the direct connection surface the negotiator needs.
type Conn interface {
	OpenBi(ctx context.Context) (Stream, error)
	AcceptBi(ctx context.Context) (Stream, error)
	Close() error
}

// Stream is one bidirectional stream on a direct connection.
type Stream interface {
	Write(data []byte) error
	Finish() error
	Read(maxBytes int) ([]byte, error)
}

// PeerServer is the listening side of a direct connection attempt.
type PeerServer interface {
	Offer(candidates []string) *wire.QuicOffer
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// PeerClient is the dialing side of a direct connection attempt.
type PeerClient interface {
	Connect(ctx context.Context, offer *wire.QuicOffer) (Conn, error)
	Close() error
}

// RelayClient dials relay transports.
type RelayClient interface {
	ConnectTransport(ctx context.Context, relay *wire.QuicRelayInfo) (RelayTransport, error)
	Close() error
}

// RelayTransport is the bound relay connection for one session.
type RelayTransport interface {
	RelayBind(ctx context.Context, token, sessionID string) (bool, error)
	RelaySend(ctx context.Context, token, sessionID string, payload json.RawMessage) error
	RecvRelayData(ctx context.Context) (*transport.RelayFrame, error)
	Close() error
}

// Transport creates the primitives above. The QUIC implementation lives in
// internal/transport; tests substitute fakes.
type Transport interface {
	NewPeerServer(bindAddr string) (PeerServer, error)
	NewPeerClient(bindAddr string) (PeerClient, error)
	NewRelayClient(bindAddr string) (RelayClient, error)
}

// QuicTransport adapts internal/transport's concrete QUIC types to the
// negotiator's interfaces.
type QuicTransport struct{}

func (QuicTransport) NewPeerServer(bindAddr string) (PeerServer, error) {
	srv, err := transport.NewPeerServer(bindAddr)
	if err != nil {
		return nil, err
	}
	return quicPeerServer{srv}, nil
}

func (QuicTransport) NewPeerClient(bindAddr string) (PeerClient, error) {
	cl, err := transport.NewPeerClient(bindAddr)
	if err != nil {
		return nil, err
	}
	return quicPeerClient{cl}, nil
}

func (QuicTransport) NewRelayClient(bindAddr string) (RelayClient, error) {
	cl, err := transport.NewRelayClient(bindAddr)
	if err != nil {
		return nil, err
	}
	return quicRelayClient{cl}, nil
}

type quicPeerServer struct{ srv *transport.PeerServer }

func (s quicPeerServer) Offer(candidates []string) *wire.QuicOffer { return s.srv.Offer(candidates) }
func (s quicPeerServer) Accept(ctx context.Context) (Conn, error) {
	conn, err := s.srv.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return quicConn{conn}, nil
}
func (s quicPeerServer) Close() error { return s.srv.Close() }

type quicPeerClient struct{ cl *transport.PeerClient }

func (c quicPeerClient) Connect(ctx context.Context, offer *wire.QuicOffer) (Conn, error) {
	conn, err := c.cl.Connect(ctx, offer)
	if err != nil {
		return nil, err
	}
	return quicConn{conn}, nil
}
func (c quicPeerClient) Close() error { return c.cl.Close() }

type quicConn struct{ conn *transport.Conn }

func (c quicConn) OpenBi(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenBi(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c quicConn) AcceptBi(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptBi(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c quicConn) Close() error { return c.conn.Close() }

type quicRelayClient struct{ cl *transport.RelayClient }

func (c quicRelayClient) ConnectTransport(ctx context.Context, relay *wire.QuicRelayInfo) (RelayTransport, error) {
	rt, err := c.cl.ConnectTransport(ctx, relay)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
func (c quicRelayClient) Close() error { return c.cl.Close() }
