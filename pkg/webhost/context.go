package webhost

import (
	"net/http"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/ui/view"
)

// Request is the per-call request context passed to stages as "request".
type Request struct {
	ID   string
	HTTP *http.Request
}

// Path returns the request path.
func (r *Request) Path() string {
	return r.HTTP.URL.Path
}

// ScriptAttrs exposes the request to scripted sections.
func (r *Request) ScriptAttrs() map[string]any {
	query := make(map[string]string)
	for k, v := range r.HTTP.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	return map[string]any{
		"id":          r.ID,
		"method":      r.HTTP.Method,
		"path":        r.HTTP.URL.Path,
		"query":       query,
		"remote_addr": r.HTTP.RemoteAddr,
	}
}

// Client is the per-connection context passed to stages as "client".
// Stages add content to its Document.
type Client struct {
	// ID identifies the browser session and survives across requests.
	ID string

	// Path is the path of the page being rendered, including the prefix.
	Path string

	// RemoteAddr is the peer address.
	RemoteAddr string

	Document *view.Document
}

// ScriptAttrs exposes the client to scripted sections.
func (c *Client) ScriptAttrs() map[string]any {
	return map[string]any{
		"id":          c.ID,
		"path":        c.Path,
		"remote_addr": c.RemoteAddr,
	}
}

// Redirect is a page result that sends the browser elsewhere.
type Redirect struct {
	To string
}
