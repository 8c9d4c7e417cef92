package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/layout"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/ui/view"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/webhost"
)

// backupsShown limits the backups listed on the device page.
const backupsShown = 10

// RegisterPages binds every page of the application on l.
func RegisterPages(l *layout.Layout, deps Deps) error {
	s := deps.Settings
	options := func(path, title string) layout.PageOptions {
		return layout.PageOptions{
			Path:            path,
			Title:           title,
			ResponseTimeout: s.UI.ResponseTimeout,
		}
	}
	p := &pages{store: deps.Store, prefix: s.UIPrefix(), description: s.Branding.Description}

	routes := []struct {
		opts    layout.PageOptions
		handler layout.Handler
	}{
		{options("/dashboard", "Dashboard"), layout.Sync(p.dashboard,
			layout.Required(layout.ClientParam), layout.Required(layout.RequestParam), layout.Required("header"))},
		{options("/devices", "Devices"), layout.Sync(p.devices,
			layout.Required(layout.ClientParam))},
		{options("/devices/{id}", "Device"), layout.Sync(p.device,
			layout.Required(layout.ClientParam), layout.Required("id"))},
	}
	for _, route := range routes {
		if _, err := l.Page(route.opts, route.handler); err != nil {
			return err
		}
	}
	return nil
}

type pages struct {
	store       Store
	prefix      string
	description string
}

func (p *pages) dashboard(_ context.Context, args layout.Args) (any, error) {
	client, err := layout.Arg[*webhost.Client](args, layout.ClientParam)
	if err != nil {
		return nil, err
	}
	header, err := layout.Arg[*Header](args, "header")
	if err != nil {
		return nil, err
	}

	client.Document.Add(
		view.Label("Diese Seite ist noch in Arbeit.").Class("text-red-500"),
		view.Heading(1, header.Title),
	)
	if p.description != "" {
		client.Document.Add(view.Markdown(p.description))
	}
	return nil, nil
}

func (p *pages) devices(ctx context.Context, args layout.Args) (any, error) {
	client, err := layout.Arg[*webhost.Client](args, layout.ClientParam)
	if err != nil {
		return nil, err
	}

	devices, err := p.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	client.Document.Add(view.Heading(1, "Devices"))
	if len(devices) == 0 {
		client.Document.Add(view.Markdown("No devices yet. Add one with `mtmanager devices add`."))
		return devices, nil
	}

	rows := make([][]view.Node, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []view.Node{
			view.Link(d.Name, p.prefix+"/devices/"+d.ID),
			view.Text(fmt.Sprintf("%s:%d", d.Host, d.Port)),
			view.Text(d.Identity),
			view.Text(lastSeen(d)),
		})
	}
	client.Document.Add(view.Table([]string{"Name", "Address", "Identity", "Last seen"}, rows))
	return devices, nil
}

func (p *pages) device(ctx context.Context, args layout.Args) (any, error) {
	client, err := layout.Arg[*webhost.Client](args, layout.ClientParam)
	if err != nil {
		return nil, err
	}
	id, err := layout.Arg[string](args, "id")
	if err != nil {
		return nil, err
	}

	device, err := p.store.GetDevice(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, fmt.Errorf("%w: device %s", webhost.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	backups, err := p.store.ListBackups(ctx, device.ID, backupsShown)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	client.Document.Add(
		view.Heading(1, device.Name),
		view.Row(view.Label("Address"), view.Text(fmt.Sprintf("%s:%d", device.Host, device.Port))),
		view.Row(view.Label("User"), view.Text(device.Username)),
		view.Row(view.Label("Identity"), view.Text(device.Identity)),
		view.Row(view.Label("Last seen"), view.Text(lastSeen(device))),
		view.Heading(2, "Backups"),
	)

	if len(backups) == 0 {
		client.Document.Add(view.Text("No backups yet."))
		return device, nil
	}

	rows := make([][]view.Node, 0, len(backups))
	for _, b := range backups {
		rows = append(rows, []view.Node{
			view.Text(b.CreatedAt.Format("2006-01-02 15:04:05")),
			view.Text(fmt.Sprintf("%d bytes", len(b.Content))),
		})
	}
	client.Document.Add(
		view.Table([]string{"Created", "Size"}, rows),
		view.Heading(3, "Latest export"),
		view.Pre(backups[0].Content),
	)
	return device, nil
}

func lastSeen(d *stores.Device) string {
	if d.LastSeenAt == nil {
		return "never"
	}
	return d.LastSeenAt.Format("2006-01-02 15:04:05")
}
