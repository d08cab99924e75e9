package transport

import (
	"net/url"
	"sync"

	"golang.org/x/net/websocket"
)

// WebsocketStream turns binary websocket messages into a byte stream.
// A Message may carry any number of bytes, frame boundaries don't matter.
type WebsocketStream struct {
	conn    *websocket.Conn
	pending []byte
	rlock   sync.Mutex
}

// NewWebsocketStream wraps conn.
func NewWebsocketStream(conn *websocket.Conn) *WebsocketStream {
	return &WebsocketStream{conn: conn}
}

// DialWebsocket connects to a websocket URL.
func DialWebsocket(target, origin string) (*WebsocketStream, error) {
	if origin == "" {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		scheme := "http"
		if u.Scheme == "wss" {
			scheme = "https"
		}
		origin = scheme + "://" + u.Host
	}
	conn, err := websocket.Dial(target, "", origin)
	if err != nil {
		return nil, err
	}
	return NewWebsocketStream(conn), nil
}

// Read implements io.Reader.
func (s *WebsocketStream) Read(p []byte) (int, error) {
	s.rlock.Lock()
	defer s.rlock.Unlock()
	for len(s.pending) == 0 {
		var msg []byte
		if err := websocket.Message.Receive(s.conn, &msg); err != nil {
			return 0, err
		}
		s.pending = msg
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write implements io.Writer, p is sent as one binary message.
func (s *WebsocketStream) Write(p []byte) (int, error) {
	if err := websocket.Message.Send(s.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer.
func (s *WebsocketStream) Close() error {
	return s.conn.Close()
}
