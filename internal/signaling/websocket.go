package signaling

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

// WebSocket adapts a gorilla/websocket connection to the Socket capability
// set. Text frames only; one read pump goroutine delivers messages in order.
type WebSocket struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	open     bool
	nextID   int
	onOpen   map[int]func()
	onMsg    map[int]func(string)
	onErr    map[int]func(error)
	onClose  map[int]func(int, string)
	writeMu  sync.Mutex
	closedCh chan struct{}
	once     sync.Once
}

// DialSocket connects to a signaling URL (ws:// or wss://) and starts the
// read pump. The returned socket reports Open immediately.
func DialSocket(ctx context.Context, url string) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial signaling socket: %w", err)
	}

	s := &WebSocket{
		conn:     conn,
		open:     true,
		onOpen:   make(map[int]func()),
		onMsg:    make(map[int]func(string)),
		onErr:    make(map[int]func(error)),
		onClose:  make(map[int]func(int, string)),
		closedCh: make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

func (s *WebSocket) OnOpen(fn func()) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.onOpen[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onOpen, id)
	}
}

func (s *WebSocket) OnMessage(fn func(string)) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.onMsg[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onMsg, id)
	}
}

func (s *WebSocket) OnError(fn func(error)) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.onErr[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onErr, id)
	}
}

func (s *WebSocket) OnClose(fn func(int, string)) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.onClose[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onClose, id)
	}
}

// Send writes one text frame. Fails once the socket is no longer open.
func (s *WebSocket) Send(text string) error {
	s.mu.Lock()
	open := s.open
	conn := s.conn
	s.mu.Unlock()
	if !open {
		return fmt.Errorf("websocket is not open")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. Idempotent.
func (s *WebSocket) Close(code int, reason string) error {
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	conn := s.conn
	s.mu.Unlock()

	if wasOpen {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		s.writeMu.Unlock()
	}
	err := conn.Close()
	s.dispatchClose(code, reason)
	return err
}

func (s *WebSocket) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *WebSocket) readPump() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.open = false
			s.mu.Unlock()

			if closeErr, ok := err.(*websocket.CloseError); ok {
				s.dispatchClose(closeErr.Code, closeErr.Text)
			} else {
				for _, fn := range s.errHandlers() {
					fn(err)
				}
				s.dispatchClose(websocket.CloseAbnormalClosure, err.Error())
			}
			return
		}
		if msgType != websocket.TextMessage {
			logger.Tracef("signaling: ignoring non-text frame (type=%d)", msgType)
			continue
		}
		for _, fn := range s.msgHandlers() {
			fn(string(data))
		}
	}
}

func (s *WebSocket) dispatchClose(code int, reason string) {
	s.once.Do(func() {
		close(s.closedCh)
		for _, fn := range s.closeHandlers() {
			fn(code, reason)
		}
	})
}

func (s *WebSocket) msgHandlers() []func(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(string), 0, len(s.onMsg))
	for _, fn := range s.onMsg {
		out = append(out, fn)
	}
	return out
}

func (s *WebSocket) errHandlers() []func(error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(error), 0, len(s.onErr))
	for _, fn := range s.onErr {
		out = append(out, fn)
	}
	return out
}

func (s *WebSocket) closeHandlers() []func(int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(int, string), 0, len(s.onClose))
	for _, fn := range s.onClose {
		out = append(out, fn)
	}
	return out
}
