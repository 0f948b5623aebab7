package proxy

import (
	"fmt"
	"strings"
)

// wsOverrideScript is injected into proxied HTML so the control UI's
// WebSocket connections come back through the proxy instead of trying
// to reach the gateway's loopback port directly.
const wsOverrideScript = `
<script>
window.__OPENCLAW_PROXY_TOKEN__ = "%s";
window.__OPENCLAW_PROXY_WS_URL__ = (window.location.protocol === 'https:' ? 'wss:' : 'ws:') + '//' + window.location.host + '%s';

(function() {
    const originalWS = window.WebSocket;
    const proxyWsUrl = window.__OPENCLAW_PROXY_WS_URL__;
    const gatewayPort = '%d';

    window.WebSocket = function(url, protocols) {
        let finalUrl = url;

        if (url.includes('127.0.0.1:' + gatewayPort) ||
            url.includes('localhost:' + gatewayPort) ||
            url.includes('0.0.0.0:' + gatewayPort) ||
            (url.includes(':' + gatewayPort) && !url.includes('/api/openclaw/'))) {
            finalUrl = proxyWsUrl;
        }

        try {
            const urlObj = new URL(url, window.location.origin);
            if (urlObj.port === gatewayPort || urlObj.pathname === '/' && !url.startsWith(proxyWsUrl)) {
                finalUrl = proxyWsUrl;
            }
        } catch (e) {}

        console.log('[OpenClaw Proxy] WebSocket:', url, '->', finalUrl);
        return new originalWS(finalUrl, protocols);
    };

    window.WebSocket.prototype = originalWS.prototype;
    window.WebSocket.CONNECTING = originalWS.CONNECTING;
    window.WebSocket.OPEN = originalWS.OPEN;
    window.WebSocket.CLOSING = originalWS.CLOSING;
    window.WebSocket.CLOSED = originalWS.CLOSED;
})();
</script>
`

// injectWSOverride inserts the rewrite script into an HTML document:
// before </head> when present, else right after <body>, else prepended.
func injectWSOverride(html []byte, token, wsPath string, gatewayPort int) []byte {
	script := fmt.Sprintf(wsOverrideScript, token, wsPath, gatewayPort)
	doc := string(html)

	switch {
	case strings.Contains(doc, "</head>"):
		doc = strings.Replace(doc, "</head>", script+"</head>", 1)
	case strings.Contains(doc, "<body>"):
		doc = strings.Replace(doc, "<body>", "<body>"+script, 1)
	default:
		doc = script + doc
	}
	return []byte(doc)
}
