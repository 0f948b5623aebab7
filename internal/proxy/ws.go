package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control UI is same-origin behind the proxy, but tools like
	// wscat send no Origin header at all.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS bridges a browser WebSocket to the gateway's own socket,
// attaching the auth token on the upstream dial.
func (p *Proxy) ServeWS(w http.ResponseWriter, r *http.Request) {
	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer client.Close()

	if !p.gw.Running(r.Context()) {
		closeWith(client, websocket.CloseTryAgainLater, "OpenClaw not running")
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if token := p.gw.CurrentToken(); token != "" {
		header.Set("X-Auth-Token", token)
	}
	upstream, _, err := dialer.DialContext(r.Context(), fmt.Sprintf("ws://127.0.0.1:%d/", p.port), header)
	if err != nil {
		slog.Warn("ws upstream dial failed", "error", err)
		closeWith(client, websocket.CloseTryAgainLater, "OpenClaw not running")
		return
	}
	defer upstream.Close()

	// Pump both directions; the first side to finish tears down the
	// other through the context.
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return relay(client, upstream) })
	g.Go(func() error { return relay(upstream, client) })
	g.Go(func() error {
		<-ctx.Done()
		client.Close()
		upstream.Close()
		return nil
	})
	g.Wait()

	closeWith(client, websocket.CloseInternalServerErr, "Proxy connection ended")
}

func relay(src, dst *websocket.Conn) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			return err
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
