package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Soika-Labs/gann-sdk-go/internal/emitter"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

// Channel event names accepted by On.
const (
	EventOpen      = "open"
	EventClose     = "close"
	EventError     = "error"
	EventSignaling = "signaling"
	EventSession   = "session"
	EventControl   = "control"
	EventHeartbeat = "heartbeat"
	EventRaw       = "raw"
)

// ErrChannelClosed is returned for sends submitted after local teardown.
// Channels are single-use.
var ErrChannelClosed = errors.New("signaling channel closed")

// TerminatedError reports that the channel closed underneath a waiter.
type TerminatedError struct {
	Code   int
	Reason string
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("signaling channel terminated (code=%d reason=%q)", e.Code, e.Reason)
}

// CloseEvent is the payload delivered to "close" listeners.
type CloseEvent struct {
	Code   int
	Reason string
}

type channelState int

const (
	stateConnecting channelState = iota
	stateOpen
	stateClosed
)

// terminalFragments classifies socket errors that mean the connection is
// gone; these never surface on "error".
var terminalFragments = []string{
	"connection closed",
	"websocket is not open",
	"already closed",
	"econnreset",
	"epipe",
	"ebadf",
}

func isTerminalError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, frag := range terminalFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Channel owns one socket to the directory and exposes a typed event surface
// plus the signal-command send API. It is single-use: once closed it rejects
// further sends.
type Channel struct {
	agentID string
	token   string

	mu       sync.Mutex
	sock     Socket
	state    channelState
	queue    []string
	detach   []func()
	readyErr error
	readyCh  chan struct{}

	events *emitter.Emitter
}

// Open wraps a socket into a channel and begins listening for its lifecycle.
// The socket may already be connected or still dialing; both are handled.
func Open(agentID string, sock Socket, token string) (*Channel, error) {
	agentID = wire.TrimID(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("%w: empty agent id", wire.ErrValidation)
	}
	if sock == nil {
		return nil, fmt.Errorf("%w: nil socket", wire.ErrValidation)
	}

	c := &Channel{
		agentID: agentID,
		token:   token,
		sock:    sock,
		readyCh: make(chan struct{}),
		events:  emitter.New(),
	}

	c.detach = []func(){
		sock.OnOpen(c.onSocketOpen),
		sock.OnMessage(c.onSocketMessage),
		sock.OnError(c.onSocketError),
		sock.OnClose(c.onSocketClose),
	}

	// The adapter may have connected before our handlers attached.
	if sock.Open() {
		c.onSocketOpen()
	}
	return c, nil
}

// AgentID returns the local agent id the channel was opened for.
func (c *Channel) AgentID() string { return c.agentID }

// Token returns the bearer token associated with this channel, when set.
// The same token is reused for relay binds within a session lifetime.
func (c *Channel) Token() string { return c.token }

// Ready blocks until the channel has opened, failed, or ctx is done.
// It settles exactly once; later calls return the settled result.
func (c *Channel) Ready(ctx context.Context) error {
	select {
	case <-c.readyCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerCount reports how many listeners are subscribed to an event.
func (c *Channel) ListenerCount(event string) int {
	return c.events.ListenerCount(event)
}

// On subscribes a listener and returns its unsubscribe func.
func (c *Channel) On(event string, fn func(value any)) (off func()) {
	return c.events.On(event, fn)
}

// OnSignaling subscribes to inbound signaling events.
func (c *Channel) OnSignaling(fn func(*wire.SignalingEvent)) (off func()) {
	return c.events.On(EventSignaling, func(value any) {
		if evt, ok := value.(*wire.SignalingEvent); ok {
			fn(evt)
		}
	})
}

// OnClose subscribes to the single close event.
func (c *Channel) OnClose(fn func(CloseEvent)) (off func()) {
	return c.events.On(EventClose, func(value any) {
		if evt, ok := value.(CloseEvent); ok {
			fn(evt)
		}
	})
}

// OnError subscribes to non-terminal channel errors.
func (c *Channel) OnError(fn func(error)) (off func()) {
	return c.events.On(EventError, func(value any) {
		if err, ok := value.(error); ok {
			fn(err)
		}
	})
}

// SendQuicOffer emits the opening offer command. The directory assigns the
// session id, so none is sent.
func (c *Channel) SendQuicOffer(to string, offer *wire.QuicOffer) error {
	cmd, err := wire.NewOfferCommand(to, offer)
	if err != nil {
		return err
	}
	return c.sendCommand(cmd)
}

// SendQuicAnswer emits an answer on an assigned session.
func (c *Channel) SendQuicAnswer(sessionID, to string, answer *wire.QuicAnswer) error {
	cmd, err := wire.NewAnswerCommand(sessionID, to, answer)
	if err != nil {
		return err
	}
	return c.sendCommand(cmd)
}

// SendQuicCandidate passes an additional candidate hint through.
func (c *Channel) SendQuicCandidate(sessionID, to string, candidate json.RawMessage) error {
	cmd, err := wire.NewCandidateCommand(sessionID, to, candidate)
	if err != nil {
		return err
	}
	return c.sendCommand(cmd)
}

// DisconnectSession notifies the peer of local teardown for a session.
func (c *Channel) DisconnectSession(sessionID, to, reason string) error {
	cmd, err := wire.NewDisconnectCommand(sessionID, to, reason)
	if err != nil {
		return err
	}
	return c.sendCommand(cmd)
}

// sendCommand writes the command now if the socket is open, or enqueues it
// for the post-open drain. Enqueued frames are delivered exactly once, in
// submission order.
func (c *Channel) sendCommand(cmd wire.Command) error {
	frame, err := cmd.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return ErrChannelClosed
	case stateConnecting:
		c.queue = append(c.queue, frame)
		pending := len(c.queue)
		c.mu.Unlock()
		logger.Tracef("signaling: queued %s command (%d pending)", cmd.Payload.Kind, pending)
		return nil
	default:
		sock := c.sock
		c.mu.Unlock()
		if err := sock.Send(frame); err != nil {
			c.handleError(err)
			return err
		}
		return nil
	}
}

// Close tears the channel down locally. Idempotent.
func (c *Channel) Close(code int, reason string) {
	c.transitionClosed(code, reason, true)
}

func (c *Channel) onSocketOpen() {
	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = stateOpen
	pending := c.queue
	c.queue = nil

	// Drain head-to-tail before any further sends run; writes are
	// synchronous with respect to the channel lock.
	var drainErr error
	for _, frame := range pending {
		if err := c.sock.Send(frame); err != nil {
			drainErr = err
			break
		}
	}
	c.settleReadyLocked(nil)
	c.mu.Unlock()

	logger.Debugf("signaling: channel open (agent=%s, drained=%d)", c.agentID, len(pending))
	c.events.Emit(EventOpen, nil)
	if drainErr != nil {
		c.handleError(drainErr)
	}
}

func (c *Channel) onSocketMessage(text string) {
	evt, ok := wire.ParseFrame([]byte(text))
	if !ok {
		logger.Tracef("signaling: dropped malformed frame (%d bytes)", len(text))
		return
	}

	c.events.Emit(EventRaw, evt)
	switch evt.Type {
	case wire.EventSignaling:
		c.events.Emit(EventSignaling, evt.Signaling)
	case wire.EventSession:
		c.events.Emit(EventSession, evt.Session)
	case wire.EventControl:
		c.events.Emit(EventControl, evt.Control)
	case wire.EventHeartbeat:
		c.events.Emit(EventHeartbeat, evt.Heartbeat)
	}
}

func (c *Channel) onSocketError(err error) {
	c.handleError(err)
}

func (c *Channel) onSocketClose(code int, reason string) {
	c.transitionClosed(code, reason, false)
}

// handleError applies the terminal/non-terminal classification.
func (c *Channel) handleError(err error) {
	if err == nil {
		return
	}
	if isTerminalError(err) {
		// The connection is gone; surface at most one close, never "error".
		if !c.sock.Open() {
			c.transitionClosed(1006, err.Error(), false)
		}
		return
	}

	c.mu.Lock()
	pending := c.state == stateConnecting && !c.readySettledLocked()
	if pending {
		c.settleReadyLocked(err)
	}
	c.mu.Unlock()

	if !pending {
		logger.Warnf("signaling: channel error: %v", err)
		c.events.Emit(EventError, err)
	}
}

// transitionClosed enters the terminal state exactly once: detaches socket
// listeners, fails a pending ready, emits "close", and clears the emitter.
func (c *Channel) transitionClosed(code int, reason string, closeSocket bool) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	detach := c.detach
	c.detach = nil
	c.queue = nil
	sock := c.sock
	c.settleReadyLocked(&TerminatedError{Code: code, Reason: reason})
	c.mu.Unlock()

	for _, off := range detach {
		off()
	}
	if closeSocket {
		_ = sock.Close(code, reason)
	}

	logger.Debugf("signaling: channel closed (code=%d reason=%q)", code, reason)
	c.events.Emit(EventClose, CloseEvent{Code: code, Reason: reason})
	c.events.Clear()
}

func (c *Channel) readySettledLocked() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// settleReadyLocked resolves the one-shot ready signal. A nil error means the
// channel opened; settling twice is a no-op, so an open channel that later
// closes keeps its resolved ready.
func (c *Channel) settleReadyLocked(err error) {
	if c.readySettledLocked() {
		return
	}
	c.readyErr = err
	close(c.readyCh)
}
