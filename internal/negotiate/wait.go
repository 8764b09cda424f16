package negotiate

import (
	"context"
	"sync"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

type sigResult struct {
	evt *wire.SignalingEvent
	err error
}

// signalWaiter resolves once with the first signaling event matching its
// predicate, or with an error when the channel closes, errors, or the
// deadline elapses. Subscriptions attach at construction so an event racing
// the caller's next step is not missed. The owner must call cancel (usually
// deferred) to release the subscriptions; resolution itself only settles the
// result and clears the timer.
type signalWaiter struct {
	ch chan sigResult

	resolveOnce sync.Once
	releaseOnce sync.Once
	offs        []func()
	timer       *time.Timer
}

func newSignalWaiter(channel *signaling.Channel, timeout time.Duration, label string, pred func(*wire.SignalingEvent) bool) *signalWaiter {
	w := &signalWaiter{ch: make(chan sigResult, 1)}
	w.timer = time.AfterFunc(timeout, func() {
		w.resolve(sigResult{err: timeoutError(label)})
	})

	w.offs = append(w.offs,
		channel.OnSignaling(func(evt *wire.SignalingEvent) {
			if pred(evt) {
				w.resolve(sigResult{evt: evt})
			}
		}),
		channel.OnClose(func(evt signaling.CloseEvent) {
			w.resolve(sigResult{err: &signaling.TerminatedError{Code: evt.Code, Reason: evt.Reason}})
		}),
		channel.OnError(func(err error) {
			w.resolve(sigResult{err: err})
		}),
	)
	return w
}

// resolve settles the waiter exactly once and clears its timer.
func (w *signalWaiter) resolve(res sigResult) {
	w.resolveOnce.Do(func() {
		w.timer.Stop()
		w.ch <- res
	})
}

// cancel settles the waiter (if still pending) and detaches its channel
// subscriptions. Safe to call multiple times.
func (w *signalWaiter) cancel() {
	w.resolve(sigResult{err: context.Canceled})
	w.releaseOnce.Do(func() {
		for _, off := range w.offs {
			off()
		}
	})
}

// wait blocks for the waiter's result or ctx.
func (w *signalWaiter) wait(ctx context.Context) (*wire.SignalingEvent, error) {
	select {
	case res := <-w.ch:
		return res.evt, res.err
	case <-ctx.Done():
		w.cancel()
		return nil, ctx.Err()
	}
}

// relaySessionID extracts the canonical session id from a relay event,
// preferring the relay coordinates over the envelope.
func relaySessionID(evt *wire.SignalingEvent) string {
	if evt == nil {
		return ""
	}
	if evt.Payload.Relay != nil && evt.Payload.Relay.SessionID != "" {
		return evt.Payload.Relay.SessionID
	}
	return evt.SessionID
}
