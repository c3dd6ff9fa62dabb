package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message. Every frame this
	// protocol accepts is a small flat JSON object (the largest, warp.status, caps each string field at 256
	// bytes), so this is generous headroom rather than a tight fit.
	maxMessageSize = 8192

	// writeWait is the time allowed to write a single frame (including a close frame) to the peer.
	writeWait = 10 * time.Second

	// sendBufferSize is the depth of a Session's outbound queue before a slow reader is disconnected.
	sendBufferSize = 256
)

// Session wraps one upgraded WebSocket connection. It implements registry.Socket so the registry and the
// heartbeat/verification loops can address it without depending on the concrete connection type. Each
// Session runs a readPump (driving dispatch) and a writePump (draining the send channel) in their own
// goroutines: a buffered channel plus a done closure decouples a slow or wedged writer from the hub's
// broadcast path instead of letting Send block the caller.
type Session struct {
	conn *websocket.Conn
	log  zerolog.Logger
	ip   *string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// newSession wraps conn. ip is the resolved client address (see ResolveClientIP), recorded once at upgrade
// time since fasthttp's connection is reused across requests and isn't safe to re-derive later.
func newSession(conn *websocket.Conn, ip *string, logger zerolog.Logger) *Session {
	return &Session{
		conn: conn,
		ip:   ip,
		log:  logger,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// IP returns the resolved client address, or nil if none of the priority headers were present.
func (s *Session) IP() *string {
	return s.ip
}

// Send enqueues a frame for the write pump. registry.Socket interface.
func (s *Session) Send(data []byte) error {
	select {
	case <-s.done:
		return ErrSocketNotOpen
	default:
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSocketNotOpen
	default:
		s.log.Warn().Msg("session send buffer full, closing connection")
		s.closeSend()
		_ = s.conn.Close()
		return ErrSocketNotOpen
	}
}

// Close sends a WebSocket close frame with the given code and reason, then tears down the connection.
// registry.Socket interface.
func (s *Session) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.closeSend()
	return s.conn.Close()
}

// IsOpen reports whether the session can still accept writes. registry.Socket interface.
func (s *Session) IsOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// closeSend signals the write pump to drain and stop. Safe to call more than once or concurrently; only the
// first call has any effect, since unregistering a session from two goroutines at once (readPump exiting
// while a heartbeat tick evicts the same entry) must never panic on a double-close.
func (s *Session) closeSend() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writePump drains the send channel onto the wire until closeSend is called, at which point it flushes
// whatever is still buffered before returning.
func (s *Session) writePump() {
	defer func() { _ = s.conn.Close() }()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug().Err(err).Msg("websocket write error")
				return
			}
		case <-s.done:
			for {
				select {
				case msg := <-s.send:
					_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// readPump reads frames off the wire and hands each to the hub for dispatch. It runs until the connection
// errors or is closed, then unregisters the session. This protocol has no per-connection read deadline: an
// unauthenticated socket is not yet in the registry and so isn't reachable by the heartbeat loop either;
// no separate timeout is invented for that state.
func (s *Session) readPump(h *Hub) {
	defer func() {
		h.HandleClose(s)
		s.closeSend()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		h.Dispatch(s, message)
	}
}
