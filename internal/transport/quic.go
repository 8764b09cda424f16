// Package transport wraps QUIC primitives behind the small surface the
// negotiation core needs: a listening peer server, a dialing peer client,
// and the relay client/transport pair.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

// defaultReadChunk bounds a single Stream.Read when the caller passes no
// limit.
const defaultReadChunk = 64 * 1024

// Conn is one established QUIC connection to a peer.
type Conn struct {
	qc *quic.Conn
}

// RemoteAddr reports the peer's UDP address.
func (c *Conn) RemoteAddr() string {
	return c.qc.RemoteAddr().String()
}

// OpenBi opens a new bidirectional stream.
func (c *Conn) OpenBi(ctx context.Context) (*Stream, error) {
	qs, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &Stream{qs: qs}, nil
}

// AcceptBi waits for the peer to open a bidirectional stream.
func (c *Conn) AcceptBi(ctx context.Context) (*Stream, error) {
	qs, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return &Stream{qs: qs}, nil
}

// Close terminates the connection. Idempotent.
func (c *Conn) Close() error {
	return c.qc.CloseWithError(0, "closed")
}

// Stream is one bidirectional QUIC stream.
type Stream struct {
	qs *quic.Stream
}

// Write sends the full buffer.
func (s *Stream) Write(data []byte) error {
	if _, err := s.qs.Write(data); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}

// Finish closes the send side, signalling FIN to the peer.
func (s *Stream) Finish() error {
	return s.qs.Close()
}

// Read returns the next chunk of at most maxBytes (default 64 KiB), or nil
// once the peer finished the stream.
func (s *Stream) Read(maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = defaultReadChunk
	}
	buf := make([]byte, maxBytes)
	n, err := s.qs.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, nil
	}
	return nil, fmt.Errorf("stream read: %w", err)
}

// PeerServer listens for one direct QUIC connection from a dialing peer.
type PeerServer struct {
	udp         *net.UDPConn
	qt          *quic.Transport
	listener    *quic.Listener
	certDER     []byte
	fingerprint string
}

// NewPeerServer binds bindAddr, mints an ephemeral certificate, and starts
// listening.
func NewPeerServer(bindAddr string) (*PeerServer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr %q: %w", bindAddr, err)
	}
	// An IPv4 bind address gets an IPv4-only socket, so a 0.0.0.0 bind is
	// reported (and advertised) as 0.0.0.0 rather than the dual-stack [::].
	network := "udp"
	if udpAddr.IP.To4() != nil {
		network = "udp4"
	}
	udp, err := net.ListenUDP(network, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bindAddr, err)
	}

	cert, der, fingerprint, err := selfSignedCert(PeerServerName)
	if err != nil {
		udp.Close()
		return nil, err
	}

	tlsConf := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{PeerALPN},
	}
	qt := &quic.Transport{Conn: udp}
	listener, err := qt.Listen(tlsConf, &quic.Config{})
	if err != nil {
		qt.Close()
		udp.Close()
		return nil, fmt.Errorf("listen quic: %w", err)
	}

	logger.Debugf("transport: peer server listening on %s", udp.LocalAddr())
	return &PeerServer{
		udp:         udp,
		qt:          qt,
		listener:    listener,
		certDER:     der,
		fingerprint: fingerprint,
	}, nil
}

// LocalAddr reports the bound UDP address.
func (s *PeerServer) LocalAddr() string {
	return s.udp.LocalAddr().String()
}

// Offer generates the QUIC offer advertised through signaling. When no
// candidate overrides are given, the bound address is advertised; any-address
// candidates are normalised so remote peers receive reachable addresses.
func (s *PeerServer) Offer(candidates []string) *wire.QuicOffer {
	if len(candidates) == 0 {
		candidates = []string{s.udp.LocalAddr().String()}
	}
	return &wire.QuicOffer{
		Candidates:        NormalizeCandidates(candidates),
		CertDerB64:        base64.StdEncoding.EncodeToString(s.certDER),
		FingerprintSHA256: s.fingerprint,
		ALPN:              PeerALPN,
		ServerName:        PeerServerName,
	}
}

// Accept waits for the next inbound connection.
func (s *PeerServer) Accept(ctx context.Context) (*Conn, error) {
	qc, err := s.listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	logger.Debugf("transport: accepted direct connection from %s", qc.RemoteAddr())
	return &Conn{qc: qc}, nil
}

// Close stops listening and releases the socket. Idempotent.
func (s *PeerServer) Close() error {
	err := s.listener.Close()
	s.qt.Close()
	s.udp.Close()
	return err
}

// PeerClient dials direct QUIC connections described by offers.
type PeerClient struct {
	udp *net.UDPConn
	qt  *quic.Transport
}

// NewPeerClient binds a local UDP socket for outbound peer connections.
func NewPeerClient(bindAddr string) (*PeerClient, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr %q: %w", bindAddr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bindAddr, err)
	}
	return &PeerClient{udp: udp, qt: &quic.Transport{Conn: udp}}, nil
}

// Connect tries the offer's candidates in order and returns the first
// connection whose certificate matches the offered fingerprint.
func (c *PeerClient) Connect(ctx context.Context, offer *wire.QuicOffer) (*Conn, error) {
	if offer == nil {
		return nil, fmt.Errorf("%w: nil offer", wire.ErrValidation)
	}
	if len(offer.Candidates) == 0 {
		return nil, fmt.Errorf("%w: offer has no candidates", wire.ErrValidation)
	}
	if offer.FingerprintSHA256 == "" {
		return nil, fmt.Errorf("%w: offer has no certificate fingerprint", wire.ErrValidation)
	}

	serverName := offer.ServerName
	if serverName == "" {
		serverName = PeerServerName
	}
	alpn := offer.ALPN
	if alpn == "" {
		alpn = PeerALPN
	}
	tlsConf := pinnedClientTLS(serverName, alpn, offer.FingerprintSHA256)

	var lastErr error
	for _, candidate := range offer.Candidates {
		addr, err := net.ResolveUDPAddr("udp", candidate)
		if err != nil {
			lastErr = fmt.Errorf("resolve candidate %q: %w", candidate, err)
			continue
		}
		qc, err := c.qt.Dial(ctx, addr, tlsConf.Clone(), &quic.Config{})
		if err != nil {
			lastErr = fmt.Errorf("dial %q: %w", candidate, err)
			continue
		}
		logger.Debugf("transport: connected directly to %s", candidate)
		return &Conn{qc: qc}, nil
	}
	return nil, fmt.Errorf("no candidate reachable: %w", lastErr)
}

// Close releases the socket. Idempotent.
func (c *PeerClient) Close() error {
	c.qt.Close()
	return c.udp.Close()
}
