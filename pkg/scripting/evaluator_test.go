package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/config"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/layout"
)

type fakeClient struct {
	id   string
	path string
}

func (c fakeClient) ScriptAttrs() map[string]any {
	return map[string]any{"id": c.id, "path": c.path}
}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return name
}

func loadScript(t *testing.T, src string, params ...string) *Script {
	t.Helper()
	dir := t.TempDir()
	file := writeScript(t, dir, "section.star", src)
	script, err := Load(config.ScriptSection{Name: "hint", File: file, Params: params}, dir)
	require.NoError(t, err)
	return script
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := writeScript(t, dir, "a.star", "result = 1\n")

	script, err := Load(config.ScriptSection{Name: "a", File: file, Params: []string{"client", "limit?"}}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.star"), script.Filename)
	require.Len(t, script.Params, 2)
	assert.Equal(t, layout.Required("client"), script.Params[0])
	assert.Equal(t, layout.Optional("limit", nil), script.Params[1])

	_, err = Load(config.ScriptSection{Name: "b", File: "missing.star"}, dir)
	assert.Error(t, err)

	_, err = Load(config.ScriptSection{Name: "c", File: file, Params: []string{"result"}}, dir)
	assert.Error(t, err)

	_, err = Load(config.ScriptSection{Name: "d", File: file, Params: []string{" "}}, dir)
	assert.Error(t, err)
}

func TestEvalResult(t *testing.T) {
	e := NewEvaluator(time.Second, zerolog.Nop())
	script := loadScript(t, `result = "You are on " + client.path + " as " + client.id`, "client")

	v, err := e.Eval(context.Background(), script, map[string]any{
		"client": fakeClient{id: "c1", path: "/ui/dashboard"},
	})
	require.NoError(t, err)
	assert.Equal(t, "You are on /ui/dashboard as c1", v)
}

func TestEvalStructuredResult(t *testing.T) {
	e := NewEvaluator(time.Second, zerolog.Nop())
	script := loadScript(t, `
def double(xs):
    return [x * 2 for x in xs]

result = {"values": double(numbers), "label": label, "point": struct(x = 1, y = 2.5)}
`, "numbers", "label")

	v, err := e.Eval(context.Background(), script, map[string]any{
		"numbers": []any{1, 2, 3},
		"label":   "n",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"values": []any{int64(2), int64(4), int64(6)},
		"label":  "n",
		"point":  map[string]any{"x": int64(1), "y": 2.5},
	}, v)
}

func TestEvalNoResult(t *testing.T) {
	e := NewEvaluator(time.Second, zerolog.Nop())

	v, err := e.Eval(context.Background(), loadScript(t, "x = 1\n"), nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = e.Eval(context.Background(), loadScript(t, "result = None\n"), nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvalErrors(t *testing.T) {
	e := NewEvaluator(time.Second, zerolog.Nop())

	_, err := e.Eval(context.Background(), loadScript(t, "result = (\n"), nil)
	assert.Error(t, err, "syntax error")

	_, err = e.Eval(context.Background(), loadScript(t, "result = 1 // 0\n"), nil)
	assert.ErrorContains(t, err, "division by zero")

	_, err = e.Eval(context.Background(), loadScript(t, "result = x\n", "x"), map[string]any{"x": make(chan int)})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestEvalTimeout(t *testing.T) {
	e := NewEvaluator(50*time.Millisecond, zerolog.Nop())
	script := loadScript(t, `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

result = spin()
`)

	start := time.Now()
	_, err := e.Eval(context.Background(), script, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type captureHost struct {
	pages map[string]*layout.ComposedPage
}

func (h *captureHost) RegisterPage(opts layout.PageOptions, page *layout.ComposedPage) error {
	if h.pages == nil {
		h.pages = make(map[string]*layout.ComposedPage)
	}
	h.pages[opts.Path] = page
	return nil
}

func TestRegisterSections(t *testing.T) {
	dir := t.TempDir()
	first := 0
	sections := []config.ScriptSection{
		{Name: "greeting", File: writeScript(t, dir, "greeting.star", `result = "hi " + client.id`), Params: []string{"client"}, Position: &first},
		{Name: "shout", File: writeScript(t, dir, "shout.star", `result = greeting.upper()`), Params: []string{"greeting"}},
		{Name: "trailer", Phase: "after", File: writeScript(t, dir, "trailer.star", `result = len(body)`), Params: []string{"body"}},
	}

	host := &captureHost{}
	l := layout.New(host)
	require.NoError(t, Register(l, NewEvaluator(time.Second, zerolog.Nop()), sections, dir))

	page := func(_ context.Context, args layout.Args) (any, error) {
		return args["shout"], nil
	}
	_, err := l.Page(layout.PageOptions{Path: "/p"}, layout.Sync(page, layout.Required("shout")))
	require.NoError(t, err)

	composed := host.pages["/p"]
	require.NotNil(t, composed)
	assert.Equal(t, []string{"client", "request"}, composed.Signature().Names())

	out, err := composed.Invoke(context.Background(), map[string]any{
		"client":  fakeClient{id: "c1"},
		"request": "req",
	})
	require.NoError(t, err)
	assert.Equal(t, "HI C1", out)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	dir := t.TempDir()
	file := writeScript(t, dir, "a.star", "result = 1\n")
	sections := []config.ScriptSection{
		{Name: "a", File: file},
		{Name: "a", File: file},
	}

	err := Register(layout.New(&captureHost{}), NewEvaluator(time.Second, zerolog.Nop()), sections, dir)
	assert.True(t, layout.IsSetupError(err))
}
