// Package signaling owns the persistent full-duplex channel between an agent
// and the directory: framing, send queueing, event dispatch, lifecycle.
package signaling

// Socket is the capability set the channel requires from its underlying
// full-duplex text-framed connection. Concrete adapters bind it to whatever
// the host environment provides (see WebSocket in this package).
//
// Handler registration returns a detach func. Send and Close must be safe to
// call from handler callbacks.
type Socket interface {
	OnOpen(fn func()) (off func())
	OnMessage(fn func(text string)) (off func())
	OnError(fn func(err error)) (off func())
	OnClose(fn func(code int, reason string)) (off func())

	Send(text string) error
	Close(code int, reason string) error

	// Open reports whether the socket is currently connected.
	Open() bool
}
