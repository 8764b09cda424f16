package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeerLoopbackConnectAndExchange(t *testing.T) {
	server, err := NewPeerServer("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	offer := server.Offer(nil)
	require.NotEmpty(t, offer.Candidates)
	require.NotEmpty(t, offer.CertDerB64)
	require.Len(t, offer.FingerprintSHA256, 64)
	require.Equal(t, PeerALPN, offer.ALPN)

	client, err := NewPeerClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type acceptResult struct {
		conn *Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := server.Accept(ctx)
		accepted <- acceptResult{conn: conn, err: err}
	}()

	clientConn, err := client.Connect(ctx, offer)
	require.NoError(t, err)
	defer clientConn.Close()

	res := <-accepted
	require.NoError(t, res.err)
	serverConn := res.conn
	defer serverConn.Close()

	// Client opens a stream, writes, finishes; server echoes back.
	clientStream, err := clientConn.OpenBi(ctx)
	require.NoError(t, err)
	require.NoError(t, clientStream.Write([]byte("ping")))
	require.NoError(t, clientStream.Finish())

	serverStream, err := serverConn.AcceptBi(ctx)
	require.NoError(t, err)
	var received []byte
	for {
		chunk, err := serverStream.Read(0)
		require.NoError(t, err)
		if chunk == nil {
			break
		}
		received = append(received, chunk...)
	}
	require.Equal(t, "ping", string(received))

	require.NoError(t, serverStream.Write([]byte("pong")))
	require.NoError(t, serverStream.Finish())

	reply, err := clientStream.Read(0)
	require.NoError(t, err)
	require.Equal(t, "pong", string(reply))
}

func TestOfferNormalizesAnyAddressBind(t *testing.T) {
	server, err := NewPeerServer("0.0.0.0:0")
	require.NoError(t, err)
	defer server.Close()

	offer := server.Offer(nil)
	require.Len(t, offer.Candidates, 1)
	require.Contains(t, offer.Candidates[0], "127.0.0.1:")
}

func TestConnectRejectsWrongFingerprint(t *testing.T) {
	server, err := NewPeerServer("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	offer := server.Offer(nil)
	offer.FingerprintSHA256 = "00000000000000000000000000000000"

	client, err := NewPeerClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.Connect(ctx, offer)
	require.Error(t, err)
}
