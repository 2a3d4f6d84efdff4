package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the minimal connection surface the manager drives. WriteMessage
// and Close must be safe to call concurrently with each other; ReadMessage
// is only ever called from the channel's read loop.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a WebSocket session. The context bounds the handshake.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Socket, error)
}

// CloseStatus is the error a Socket read returns once the peer (or the
// transport) has closed the session.
type CloseStatus struct {
	Code   int
	Reason string
}

func (e *CloseStatus) Error() string {
	return e.Reason
}

// closeInfo extracts the close code and reason from a read error. Reads
// that fail without a close frame count as abnormal closure (1006).
func closeInfo(err error) (int, string) {
	var cs *CloseStatus
	if errors.As(err, &cs) {
		return cs.Code, cs.Reason
	}
	return 1006, err.Error()
}

// WebsocketDialer is the production Dialer built on gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer; the per-connect timeout comes from
// the dial context, not a handshake deadline.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{dialer: &websocket.Dialer{}}
}

// Dial opens the WebSocket and wraps it as a Socket.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &gorillaSocket{conn: conn}, nil
}

type gorillaSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *gorillaSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseStatus{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (s *gorillaSocket) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *gorillaSocket) Close(code int, reason string) error {
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
