// Package layout composes page handlers with cross-cutting sections.
//
// # Overview
//
// A Layout owns a Registry of sections (header, footer and similar
// fragments). Each section runs either before or after the page handler,
// ordered by position within its phase. Values produced by earlier stages
// are written to a per-render Pool and become named inputs of later
// stages and of the handler itself.
//
//	l := layout.New(host)
//
//	l.MustSection(layout.Sync(header, layout.Required("client")))
//	l.MustSection(layout.Async(footer), layout.WithPhase(layout.PhaseAfter))
//
//	l.MustPage(layout.PageOptions{Path: "/dashboard", Title: "Dashboard"},
//	    layout.Sync(dashboard, layout.Required("client"), layout.Required("header")))
//
// # Lifecycle
//
// The registry is open until the first page is bound. Page finalizes it;
// from then on registering a section fails with a setup error and the
// section order is fixed for every render.
//
// # Signatures
//
// Handlers declare their inputs up front with Required and Optional. The
// signature a page advertises to its host is the handler's parameters
// with "client" and "request" guaranteed present and every
// section-supplied name removed.
//
// # Rendering
//
// Each render runs the before sections, the handler and the after
// sections strictly in sequence. An async stage suspends the render until
// its result arrives. A non-nil result is stored under the section name,
// or under "body" for the handler; writing a key twice is a binding
// conflict. The render returns the handler's result only.
//
// # Errors
//
// Errors are classified by Kind:
//
//   - setup: bad registrations, raised while composing
//   - binding_conflict: a pool key written twice during a render
//   - missing_input: a required parameter with no value
//   - stage_failed: an error returned by section or page code
//
// Render errors fail only that render and are never retried.
package layout
