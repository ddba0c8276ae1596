// Package wstransport is a WebSocket-backed RawConnection implementation,
// demonstrating the transport contract against a real framed-message
// stream library (gorilla/websocket) rather than a raw socket.
package wstransport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/p2pstack/corenet/internal/p2perr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps a *websocket.Conn as a transport.RawConnection, treating each
// binary WebSocket message as one opaque chunk.
type Conn struct {
	ws *websocket.Conn
}

// Dial connects to a ws:// or wss:// URL.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, p2perr.Wrap(p2perr.KindConnectionClosed, "wstransport: dial", err)
	}
	return &Conn{ws: ws}, nil
}

// Upgrade upgrades an inbound HTTP request to a WebSocket RawConnection —
// the server-side half of Dial.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, p2perr.Wrap(p2perr.KindConnectionClosed, "wstransport: upgrade", err)
	}
	return &Conn{ws: ws}, nil
}

func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, nil // orderly close: empty chunk, no error
		}
		return nil, p2perr.Wrap(p2perr.KindConnectionClosed, "wstransport: read", err)
	}
	if mt != websocket.BinaryMessage {
		return nil, p2perr.New(p2perr.KindMalformedMessage, "wstransport: expected binary message")
	}
	return data, nil
}

func (c *Conn) Write(ctx context.Context, b []byte) error {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return p2perr.Wrap(p2perr.KindConnectionClosed, "wstransport: write", err)
	}
	return nil
}

func (c *Conn) Close() error { return c.ws.Close() }

func (c *Conn) LocalMultiaddr() string  { return c.ws.LocalAddr().String() }
func (c *Conn) RemoteMultiaddr() string { return c.ws.RemoteAddr().String() }
