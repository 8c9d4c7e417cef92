package policy

// AccessQuery is the rule every access module must define.
const AccessQuery = "data.mtmanager.access.allow"

// AccessPackage is the package path access modules must declare.
const AccessPackage = "data.mtmanager.access"

// AccessInput is the document evaluated as input by access modules.
type AccessInput struct {
	// Path is the request path of the page being rendered.
	Path string `json:"path"`

	// ClientID identifies the browser session.
	ClientID string `json:"client_id"`

	// RemoteAddr is the peer address of the request.
	RemoteAddr string `json:"remote_addr"`

	// Method is the HTTP method.
	Method string `json:"method,omitempty"`
}

// DefaultAccessModule allows every request.
const DefaultAccessModule = `package mtmanager.access

import rego.v1

# Every page is public unless a site policy says otherwise.
default allow := true
`
