package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/gateway"
	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// WSPath is the proxied WebSocket endpoint the injected script points
// browsers at.
const WSPath = "/api/openclaw/ws"

const notRunningPage = `<html>
<head><title>OpenClaw Not Running</title></head>
<body style="font-family: sans-serif; padding: 40px; text-align: center;">
<h1>OpenClaw is not running</h1>
<p>Start OpenClaw from the dashboard first.</p>
</body>
</html>`

const accessDeniedPage = `<html>
<head><title>Access Denied</title></head>
<body style="font-family: sans-serif; padding: 40px; text-align: center;">
<h1>Access Denied</h1>
<p>This OpenClaw instance belongs to another user.</p>
</body>
</html>`

// Authorizer resolves and screens the requesting user. Satisfied by
// *auth.Guard.
type Authorizer interface {
	CurrentUser(ctx context.Context, r *http.Request) (*store.User, error)
}

// Gateway is the slice of the lifecycle controller the proxy needs.
type Gateway interface {
	Running(ctx context.Context) bool
	CurrentToken() string
	OwnerUserID() string
}

// Proxy forwards control-UI traffic to the local gateway process,
// injecting the auth token so the browser never needs to know it.
type Proxy struct {
	gw     Gateway
	authz  Authorizer
	port   int
	client *http.Client
}

// New builds a proxy targeting the gateway on the given loopback port.
func New(gw Gateway, authz Authorizer, port int) *Proxy {
	return &Proxy{
		gw:    gw,
		authz: authz,
		port:  port,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// The upstream is loopback; follow its redirects ourselves
			// so paths stay under the proxy prefix.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeUI handles /api/openclaw/ui/{path...}. The bare prefix without a
// trailing slash is redirected so relative asset URLs resolve.
func (p *Proxy) ServeUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/openclaw/ui" {
		http.Redirect(w, r, "/api/openclaw/ui/", http.StatusTemporaryRedirect)
		return
	}

	ctx := r.Context()
	if !p.gw.Running(ctx) {
		serveHTML(w, http.StatusServiceUnavailable, notRunningPage)
		return
	}

	user, err := p.authz.CurrentUser(ctx, r)
	if err != nil {
		serveHTML(w, http.StatusForbidden, accessDeniedPage)
		return
	}
	if owner := p.gw.OwnerUserID(); owner != "" && owner != user.ID {
		serveHTML(w, http.StatusForbidden, accessDeniedPage)
		return
	}

	p.forward(w, r, r.PathValue("path"))
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, upstreamPath string) {
	target := fmt.Sprintf("http://127.0.0.1:%d/%s", p.port, upstreamPath)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad gateway request", http.StatusBadGateway)
		return
	}
	for name, values := range r.Header {
		switch strings.ToLower(name) {
		case "host", "content-length":
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("gateway proxy upstream error", "path", upstreamPath, "error", err)
		http.Error(w, "gateway unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "gateway read error", http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		body = injectWSOverride(body, p.gw.CurrentToken(), WSPath, p.port)
	}

	for name, values := range resp.Header {
		switch strings.ToLower(name) {
		case "content-encoding", "content-length", "transfer-encoding", "connection":
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func serveHTML(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, page)
}

var (
	_ Gateway    = (*gateway.Controller)(nil)
	_ Authorizer = (*auth.Guard)(nil)
)
