// Package ui defines the MikroTik Manager layout: the sections shared by
// every page and the pages themselves.
package ui

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/config"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/layout"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/policy"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/scripting"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/ui/view"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/webhost"
)

// Store is the read side of the store used by pages.
type Store interface {
	CountDevices(ctx context.Context) (int, error)
	ListDevices(ctx context.Context) ([]*stores.Device, error)
	GetDevice(ctx context.Context, id string) (*stores.Device, error)
	ListBackups(ctx context.Context, deviceID string, limit int) ([]*stores.DeviceBackup, error)
}

// AccessChecker decides whether a client may see a page.
type AccessChecker interface {
	Allowed(ctx context.Context, input policy.AccessInput) (bool, error)
}

// Deps are the dependencies of the layout.
type Deps struct {
	Settings *config.Settings
	Store    Store

	// Access is consulted before every page. Nil allows everything.
	Access AccessChecker

	// Scripts evaluates the script sections from the settings. Nil skips them.
	Scripts   *scripting.Evaluator
	ScriptDir string

	Observer layout.Observer
	Logger   zerolog.Logger
}

// Build creates the layout, registers its sections and binds every page
// with host.
func Build(host layout.Host, deps Deps) (*layout.Layout, error) {
	l, err := NewLayout(host, deps)
	if err != nil {
		return nil, err
	}
	if err := RegisterPages(l, deps); err != nil {
		return nil, err
	}
	return l, nil
}

// NewLayout creates the layout and registers its sections.
func NewLayout(host layout.Host, deps Deps) (*layout.Layout, error) {
	if deps.Settings == nil || deps.Store == nil {
		return nil, fmt.Errorf("settings and store are required")
	}

	opts := []layout.Option{layout.WithLogger(deps.Logger)}
	if deps.Observer != nil {
		opts = append(opts, layout.WithObserver(deps.Observer))
	}
	l := layout.New(host, opts...)

	if deps.Access != nil {
		if _, err := l.Section(accessSection(deps.Access), layout.WithPosition(0)); err != nil {
			return nil, err
		}
	}

	if _, err := l.Section(headerSection(deps.Settings)); err != nil {
		return nil, err
	}

	if deps.Scripts != nil && len(deps.Settings.UI.Scripts) > 0 {
		if err := scripting.Register(l, deps.Scripts, deps.Settings.UI.Scripts, deps.ScriptDir); err != nil {
			return nil, err
		}
	}

	if _, err := l.Section(footerSection(deps.Settings, deps.Store), layout.WithPhase(layout.PhaseAfter)); err != nil {
		return nil, err
	}

	return l, nil
}

func accessSection(access AccessChecker) layout.Handler {
	return layout.Sync(func(ctx context.Context, args layout.Args) (any, error) {
		client, err := layout.Arg[*webhost.Client](args, layout.ClientParam)
		if err != nil {
			return nil, err
		}
		request, err := layout.Arg[*webhost.Request](args, layout.RequestParam)
		if err != nil {
			return nil, err
		}

		allowed, err := access.Allowed(ctx, policy.AccessInput{
			Path:       client.Path,
			ClientID:   client.ID,
			RemoteAddr: client.RemoteAddr,
			Method:     request.HTTP.Method,
		})
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", webhost.ErrForbidden, client.Path)
		}
		return nil, nil
	}, layout.Required(layout.ClientParam), layout.Required(layout.RequestParam)).Named("access")
}

// NavItem is one navigation button in the header.
type NavItem struct {
	Label   string
	Path    string
	Tooltip string
}

// Navigation lists the header buttons, relative to the UI prefix.
var Navigation = []NavItem{
	{Label: "Graphs", Path: "/graphs", Tooltip: "Diagrammansicht"},
	{Label: "Measurements", Path: "/measurements", Tooltip: "Messdatenansicht"},
	{Label: "Files", Path: "/files", Tooltip: "Dateiansicht"},
	{Label: "Devices", Path: "/devices", Tooltip: "Geräteansicht"},
}

// Header is the value of the header section.
type Header struct {
	Title string

	// Active is the navigation path matching the current page, if any.
	Active string
}

func headerSection(settings *config.Settings) layout.Handler {
	prefix := settings.UIPrefix()
	title := settings.Branding.Title

	return layout.Sync(func(_ context.Context, args layout.Args) (any, error) {
		client, err := layout.Arg[*webhost.Client](args, layout.ClientParam)
		if err != nil {
			return nil, err
		}

		header := &Header{Title: title}
		nav := view.Row().Class("header-left")
		for _, item := range Navigation {
			target := prefix + item.Path
			active := client.Path == target
			if active {
				header.Active = item.Path
			}
			nav.Add(view.Button(item.Label, target, active).Attr("title", item.Tooltip))
		}

		client.Document.AddHeader(view.Row(
			nav,
			view.Row(view.Label(title).Class("title")).Class("header-middle"),
		).Class("header"))

		return header, nil
	}, layout.Required(layout.ClientParam)).Named("header")
}

// Footer is the value of the footer section.
type Footer struct {
	DeviceCount int
}

func footerSection(settings *config.Settings, store Store) layout.Handler {
	branding := settings.Branding

	return layout.Async(func(ctx context.Context, args layout.Args) <-chan layout.Result {
		ch := make(chan layout.Result, 1)
		go func() {
			client, err := layout.Arg[*webhost.Client](args, layout.ClientParam)
			if err != nil {
				ch <- layout.Result{Err: err}
				return
			}

			count, err := store.CountDevices(ctx)
			if err != nil {
				ch <- layout.Result{Err: fmt.Errorf("count devices: %w", err)}
				return
			}

			text := fmt.Sprintf("%s %s · %d devices", branding.Title, branding.Version, count)
			client.Document.AddFooter(view.Label(text).Class("footer"))
			ch <- layout.Result{Value: &Footer{DeviceCount: count}}
		}()
		return ch
	}, layout.Required(layout.ClientParam)).Named("footer")
}
