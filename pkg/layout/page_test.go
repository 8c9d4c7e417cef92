package layout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	pages map[string]*ComposedPage
	opts  map[string]PageOptions
	err   error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		pages: make(map[string]*ComposedPage),
		opts:  make(map[string]PageOptions),
	}
}

func (h *fakeHost) RegisterPage(opts PageOptions, page *ComposedPage) error {
	if h.err != nil {
		return h.err
	}
	h.pages[opts.Path] = page
	h.opts[opts.Path] = opts
	return nil
}

func TestLayoutPageRegistersComposedPage(t *testing.T) {
	host := newFakeHost()
	l := New(host)

	l.MustSection(Sync(func(_ context.Context, args Args) (any, error) {
		return "header for " + args[ClientParam].(string), nil
	}, Required(ClientParam)).Named("header"))

	dark := true
	opts := PageOptions{
		Path:             "/dashboard",
		Title:            "Dashboard",
		Viewport:         "width=device-width",
		Favicon:          "logo.png",
		Dark:             &dark,
		Language:         "de",
		ResponseTimeout:  5 * time.Second,
		ReconnectTimeout: 10 * time.Second,
		Extra:            map[string]any{"api_router": "v1"},
	}

	dashboard := Sync(func(_ context.Context, args Args) (any, error) {
		return args["header"].(string) + " / " + args["id"].(string), nil
	}, Required(RequestParam), Required(ClientParam), Required("header"), Required("id"))

	got, err := l.Page(opts, dashboard)
	require.NoError(t, err)
	assert.Equal(t, dashboard.Name(), got.Name())
	assert.Equal(t, dashboard.Params(), got.Params())

	page := host.pages["/dashboard"]
	require.NotNil(t, page)
	assert.Equal(t, opts, host.opts["/dashboard"])
	assert.Equal(t, opts, page.Options())
	assert.Equal(t, []string{"request", "client", "id"}, page.Signature().Names())

	result, err := page.Invoke(context.Background(), map[string]any{
		RequestParam: "req",
		ClientParam:  "alice",
		"id":         "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "header for alice / 42", result)
}

func TestLayoutPageFinalizesRegistry(t *testing.T) {
	l := New(newFakeHost())
	l.MustSection(nopSync("header"))

	assert.Equal(t, RegistryOpen, l.Registry().State())
	l.MustPage(PageOptions{Path: "/"}, nopSync("index"))
	assert.Equal(t, RegistryClosed, l.Registry().State())

	_, err := l.Section(nopSync("footer"), WithPhase(PhaseAfter))
	assert.True(t, IsSetupError(err))
}

func TestLayoutPageDefaultsResponseTimeout(t *testing.T) {
	host := newFakeHost()
	l := New(host)

	l.MustPage(PageOptions{Path: "/"}, nopSync("index"))
	assert.Equal(t, DefaultResponseTimeout, host.opts["/"].ResponseTimeout)
}

func TestLayoutPageHostError(t *testing.T) {
	host := newFakeHost()
	host.err = errors.New("duplicate path")
	l := New(host)

	_, err := l.Page(PageOptions{Path: "/"}, nopSync("index"))
	require.Error(t, err)
	assert.True(t, IsSetupError(err))
	assert.ErrorIs(t, err, host.err)
}

func TestLayoutPageWithoutHandler(t *testing.T) {
	l := New(newFakeHost())
	_, err := l.Page(PageOptions{Path: "/"}, Handler{})
	assert.True(t, IsSetupError(err))
}

func TestLayoutMultiplePagesShareSections(t *testing.T) {
	host := newFakeHost()
	l := New(host)

	calls := 0
	l.MustSection(Sync(func(context.Context, Args) (any, error) {
		calls++
		return nil, nil
	}).Named("counter"))

	l.MustPage(PageOptions{Path: "/a"}, nopSync("a"))
	l.MustPage(PageOptions{Path: "/b"}, nopSync("b"))

	for _, path := range []string{"/a", "/b"} {
		_, err := host.pages[path].Invoke(context.Background(), map[string]any{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestLayoutObserverOption(t *testing.T) {
	host := newFakeHost()
	obs := &stageLog{}
	l := New(host, WithObserver(obs))
	l.MustSection(nopSync("header"))
	l.MustPage(PageOptions{Path: "/"}, nopSync("index"))

	_, err := host.pages["/"].Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, obs.stages, 2)
}

func TestLayoutMustPagePanicsWithoutHost(t *testing.T) {
	l := New(nil)
	assert.Panics(t, func() {
		l.MustPage(PageOptions{Path: "/"}, nopSync("index"))
	})
}
