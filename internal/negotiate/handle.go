package negotiate

import (
	"sync"

	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

// Mode identifies which transport a negotiation settled on.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
)

// SessionHandle is the uniform view over an established session, direct or
// relayed. It exclusively owns the transport resources it refers to; closing
// the signaling channel does not close active handles.
type SessionHandle struct {
	Mode        Mode
	SessionID   string
	PeerAgentID string

	// Direct mode.
	Conn Conn

	// Relay mode.
	Relay     *wire.QuicRelayInfo
	Transport RelayTransport
	PeerReady bool
	Token     string

	closeOnce sync.Once
	closers   []func() error
}

func newDirectHandle(sessionID, peerAgentID string, conn Conn, closers ...func() error) *SessionHandle {
	return &SessionHandle{
		Mode:        ModeDirect,
		SessionID:   sessionID,
		PeerAgentID: peerAgentID,
		Conn:        conn,
		closers:     append([]func() error{conn.Close}, closers...),
	}
}

func newRelayHandle(sessionID, peerAgentID string, relay *wire.QuicRelayInfo, rt RelayTransport, peerReady bool, token string, closers ...func() error) *SessionHandle {
	return &SessionHandle{
		Mode:        ModeRelay,
		SessionID:   sessionID,
		PeerAgentID: peerAgentID,
		Relay:       relay,
		Transport:   rt,
		PeerReady:   peerReady,
		Token:       token,
		closers:     append([]func() error{rt.Close}, closers...),
	}
}

// Close releases the underlying transport resources. Idempotent.
func (h *SessionHandle) Close() error {
	var firstErr error
	h.closeOnce.Do(func() {
		for _, closeFn := range h.closers {
			if err := closeFn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
