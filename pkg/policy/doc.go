// Package policy provides Open Policy Agent (OPA) access control for pages.
//
// An access module is a Rego module in package mtmanager.access that
// defines a boolean rule allow. The module is evaluated once per render
// with an AccessInput document:
//
//	{"path": "/ui/devices", "client_id": "...", "remote_addr": "10.0.0.5:51234", "method": "GET"}
//
// Without a configured module every page is allowed. A site policy that
// only admits the local network:
//
//	package mtmanager.access
//
//	import rego.v1
//
//	default allow := false
//
//	allow if net.cidr_contains("10.0.0.0/8", split(input.remote_addr, ":")[0])
//
// Usage:
//
//	p, err := policy.LoadAccessPolicy(ctx, settings.UI.AccessPolicy, logger)
//	if err != nil {
//	    return err
//	}
//	allowed, err := p.Allowed(ctx, policy.AccessInput{Path: r.URL.Path})
//
// Watch recompiles the module whenever its file changes.
package policy
