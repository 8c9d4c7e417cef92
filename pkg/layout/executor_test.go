package layout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the order stages ran in.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func returning(rec *recorder, name string, v any, params ...Param) Handler {
	return Sync(func(context.Context, Args) (any, error) {
		rec.add(name)
		return v, nil
	}, params...).Named(name)
}

func delayed(rec *recorder, name string, d time.Duration, v any, params ...Param) Handler {
	return Async(func(ctx context.Context, _ Args) <-chan Result {
		ch := make(chan Result, 1)
		go func() {
			time.Sleep(d)
			rec.add(name)
			ch <- Result{Value: v}
		}()
		return ch
	}, params...).Named(name)
}

func baseInput() map[string]any {
	return map[string]any{
		RequestParam: "req",
		ClientParam:  "cli",
	}
}

func TestExecutorOrderAndResult(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())

	r.MustRegister(returning(rec, "c", "c"), WithPhase(PhaseAfter), WithPosition(1))
	r.MustRegister(returning(rec, "b", "b"), WithPosition(2))
	r.MustRegister(returning(rec, "a", "a"), WithPosition(1))

	var seen Args
	h := Sync(func(_ context.Context, args Args) (any, error) {
		rec.add("h")
		seen = args
		return "h", nil
	}, Required("a"), Required("b"))

	exec := NewExecutor("/page", r, h, nil)
	pool := NewPool(baseInput())

	result, err := exec.Run(context.Background(), pool)
	require.NoError(t, err)

	assert.Equal(t, "h", result)
	assert.Equal(t, []string{"a", "b", "h", "c"}, rec.entries())
	assert.Equal(t, Args{"a": "a", "b": "b"}, seen)
	assert.Equal(t, map[string]any{
		RequestParam: "req",
		ClientParam:  "cli",
		"a":          "a",
		"b":          "b",
		BodyKey:      "h",
		"c":          "c",
	}, pool.Snapshot())
}

func TestExecutorAfterResultNotReturned(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	r.MustRegister(returning(rec, "after", "ignored"), WithPhase(PhaseAfter))

	exec := NewExecutor("/", r, returning(rec, "page", nil), nil)

	result, err := exec.Execute(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExecutorAfterSectionSeesBody(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var body any
	r.MustRegister(Sync(func(_ context.Context, args Args) (any, error) {
		body = args[BodyKey]
		return nil, nil
	}, Required(BodyKey)).Named("footer"), WithPhase(PhaseAfter))

	exec := NewExecutor("/", r, Sync(func(context.Context, Args) (any, error) {
		return "content", nil
	}), nil)

	_, err := exec.Execute(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, "content", body)
}

func TestExecutorMissingInput(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.MustRegister(nopSync("header"))

	called := false
	h := Sync(func(context.Context, Args) (any, error) {
		called = true
		return nil, nil
	}, Required("foo"))

	exec := NewExecutor("/", r, h, nil)
	_, err := exec.Execute(context.Background(), baseInput())

	require.Error(t, err)
	assert.True(t, IsMissingInput(err))
	assert.False(t, called)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "foo", lerr.Param)
	assert.Equal(t, BodyKey, lerr.Section)
}

func TestExecutorMissingInputInSection(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	r.MustRegister(returning(rec, "needs", "x", Required("later")))
	r.MustRegister(returning(rec, "later", "y"))

	exec := NewExecutor("/", r, returning(rec, "page", nil), nil)
	_, err := exec.Execute(context.Background(), baseInput())

	assert.True(t, IsMissingInput(err))
	assert.Empty(t, rec.entries())
}

func TestExecutorOptionalParamUsesDefault(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var got Args
	h := Sync(func(_ context.Context, args Args) (any, error) {
		got = args
		return nil, nil
	}, Optional("page", 1), Required("client"))

	exec := NewExecutor("/", r, h, nil)
	_, err := exec.Execute(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, Args{"page": 1, "client": "cli"}, got)

	input := baseInput()
	input["page"] = 7
	_, err = exec.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 7, got["page"])
}

type user struct{ Name string }

func TestExecutorTypedNilResultsWriteNothing(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	r.MustRegister(returning(rec, "user", (*user)(nil)))
	r.MustRegister(delayed(rec, "tags", time.Millisecond, []string(nil)))

	var got Args
	h := Sync(func(_ context.Context, args Args) (any, error) {
		got = args
		return map[string]int(nil), nil
	}, Optional("user", "dflt"), Optional("tags", []string{"none"}))

	pool := NewPool(baseInput())
	result, err := NewExecutor("/", r, h, nil).Run(context.Background(), pool)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, Args{"user": "dflt", "tags": []string{"none"}}, got)

	_, ok := pool.Lookup("user")
	assert.False(t, ok)
	_, ok = pool.Lookup(BodyKey)
	assert.False(t, ok)
	assert.Equal(t, 2, pool.Len())
}

func TestIsNil(t *testing.T) {
	var iface error
	assert.True(t, isNil(nil))
	assert.True(t, isNil((*user)(nil)))
	assert.True(t, isNil([]int(nil)))
	assert.True(t, isNil(map[string]any(nil)))
	assert.True(t, isNil((func())(nil)))
	assert.True(t, isNil((chan int)(nil)))
	assert.True(t, isNil(iface))

	assert.False(t, isNil(&user{}))
	assert.False(t, isNil([]int{}))
	assert.False(t, isNil(0))
	assert.False(t, isNil(""))
	assert.False(t, isNil(user{}))
}

func TestExecutorIgnoresUnknownPoolEntries(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var got Args
	h := Sync(func(_ context.Context, args Args) (any, error) {
		got = args
		return nil, nil
	})

	input := baseInput()
	input["extra"] = true
	_, err := NewExecutor("/", r, h, nil).Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExecutorBindingConflict(t *testing.T) {
	t.Run("section collides with caller value", func(t *testing.T) {
		rec := &recorder{}
		r := NewRegistry(zerolog.Nop())
		r.MustRegister(returning(rec, "user", "from-section"))

		input := baseInput()
		input["user"] = "from-caller"

		_, err := NewExecutor("/", r, returning(rec, "page", "h"), nil).Execute(context.Background(), input)
		require.Error(t, err)
		assert.True(t, IsBindingConflict(err))
		assert.Equal(t, []string{"user"}, rec.entries())
	})

	t.Run("section collides with body", func(t *testing.T) {
		rec := &recorder{}
		r := NewRegistry(zerolog.Nop())
		r.MustRegister(returning(rec, BodyKey, "x"), WithPhase(PhaseAfter))

		_, err := NewExecutor("/", r, returning(rec, "page", "h"), nil).Execute(context.Background(), baseInput())
		require.Error(t, err)
		assert.True(t, IsBindingConflict(err))

		var lerr *Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, BodyKey, lerr.Param)
	})

	t.Run("handler collides with section named body", func(t *testing.T) {
		rec := &recorder{}
		r := NewRegistry(zerolog.Nop())
		r.MustRegister(returning(rec, BodyKey, "x"))

		_, err := NewExecutor("/", r, returning(rec, "page", "h"), nil).Execute(context.Background(), baseInput())
		assert.True(t, IsBindingConflict(err))
		assert.Equal(t, []string{BodyKey, "page"}, rec.entries())
	})

	t.Run("nil result never conflicts", func(t *testing.T) {
		rec := &recorder{}
		r := NewRegistry(zerolog.Nop())
		r.MustRegister(returning(rec, "client", nil))

		_, err := NewExecutor("/", r, returning(rec, "page", "h"), nil).Execute(context.Background(), baseInput())
		assert.NoError(t, err)
	})
}

func TestExecutorAsyncKeepsPositionOrder(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())

	r.MustRegister(delayed(rec, "slow", 40*time.Millisecond, "s"), WithPosition(1))
	r.MustRegister(returning(rec, "fast", "f"), WithPosition(2))
	r.MustRegister(delayed(rec, "medium", 20*time.Millisecond, "m"), WithPosition(3))
	r.MustRegister(delayed(rec, "tail", 30*time.Millisecond, "t"), WithPhase(PhaseAfter))
	r.MustRegister(returning(rec, "last", nil), WithPhase(PhaseAfter))

	var got Args
	h := Async(func(_ context.Context, args Args) <-chan Result {
		got = args
		ch := make(chan Result, 1)
		go func() {
			time.Sleep(10 * time.Millisecond)
			rec.add("page")
			ch <- Result{Value: "body"}
		}()
		return ch
	}, Required("slow"), Required("fast"), Required("medium"))

	result, err := NewExecutor("/", r, h, nil).Execute(context.Background(), baseInput())
	require.NoError(t, err)

	assert.Equal(t, "body", result)
	assert.Equal(t, []string{"slow", "fast", "medium", "page", "tail", "last"}, rec.entries())
	assert.Equal(t, Args{"slow": "s", "fast": "f", "medium": "m"}, got)
}

func TestExecutorAsyncError(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	boom := errors.New("boom")
	r.MustRegister(Async(func(context.Context, Args) <-chan Result {
		ch := make(chan Result, 1)
		ch <- Result{Err: boom}
		return ch
	}).Named("failing"))

	_, err := NewExecutor("/", r, nopSync("page"), nil).Execute(context.Background(), baseInput())
	require.Error(t, err)
	assert.True(t, IsStageFailed(err))
	assert.ErrorIs(t, err, boom)
}

func TestExecutorSyncErrorStopsPipeline(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	boom := errors.New("boom")

	r.MustRegister(Sync(func(context.Context, Args) (any, error) {
		rec.add("failing")
		return nil, boom
	}).Named("failing"))
	r.MustRegister(returning(rec, "after", "x"), WithPhase(PhaseAfter))

	_, err := NewExecutor("/", r, returning(rec, "page", "h"), nil).Execute(context.Background(), baseInput())
	assert.ErrorIs(t, err, boom)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "failing", lerr.Section)
	assert.Equal(t, []string{"failing"}, rec.entries())
}

func TestExecutorCancellationStopsFurtherStages(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())

	release := make(chan struct{})
	r.MustRegister(Async(func(ctx context.Context, _ Args) <-chan Result {
		ch := make(chan Result, 1)
		go func() {
			<-release
			ch <- Result{Value: "late"}
		}()
		return ch
	}).Named("hanging"))
	r.MustRegister(returning(rec, "next", "n"))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewExecutor("/", r, returning(rec, "page", "h"), nil).Execute(ctx, baseInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsStageFailed(err))
	assert.Empty(t, rec.entries())
}

func TestExecutorCancelledBeforeStart(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	r.MustRegister(returning(rec, "header", "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor("/", r, returning(rec, "page", "h"), nil).Execute(ctx, baseInput())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.entries())
}

func TestExecutorAsyncClosedChannel(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	h := Async(func(context.Context, Args) <-chan Result {
		ch := make(chan Result)
		close(ch)
		return ch
	})

	_, err := NewExecutor("/", r, h, nil).Execute(context.Background(), baseInput())
	assert.True(t, IsStageFailed(err))
}

func TestExecutorRendersAreIndependent(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	r.MustRegister(returning(rec, "header", "x"))
	exec := NewExecutor("/", r, returning(rec, "page", "h"), nil)

	for i := 0; i < 3; i++ {
		result, err := exec.Execute(context.Background(), baseInput())
		require.NoError(t, err)
		assert.Equal(t, "h", result)
	}
	assert.Len(t, rec.entries(), 6)
}

type stageLog struct {
	mu     sync.Mutex
	stages []StageInfo
	errs   []error
}

func (o *stageLog) ObserveStage(ctx context.Context, stage StageInfo, run func(context.Context) error) error {
	err := run(ctx)
	o.mu.Lock()
	o.stages = append(o.stages, stage)
	o.errs = append(o.errs, err)
	o.mu.Unlock()
	return err
}

func TestExecutorObserverSeesEveryStage(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	r.MustRegister(returning(rec, "header", "x"))
	r.MustRegister(delayed(rec, "footer", time.Millisecond, nil), WithPhase(PhaseAfter))

	obs := &stageLog{}
	_, err := NewExecutor("/dash", r, returning(rec, "page", "h"), obs).Execute(context.Background(), baseInput())
	require.NoError(t, err)

	require.Len(t, obs.stages, 3)
	assert.Equal(t, StageInfo{Page: "/dash", Name: "header", Kind: StageSection, Phase: PhaseBefore, Position: 1}, obs.stages[0])
	assert.Equal(t, StageInfo{Page: "/dash", Name: BodyKey, Kind: StageHandler}, obs.stages[1])
	assert.Equal(t, StageInfo{Page: "/dash", Name: "footer", Kind: StageSection, Phase: PhaseAfter, Position: 1, Async: true}, obs.stages[2])
}

func TestArg(t *testing.T) {
	args := Args{"name": "router", "count": 3, "nothing": nil}

	name, err := Arg[string](args, "name")
	require.NoError(t, err)
	assert.Equal(t, "router", name)

	_, err = Arg[string](args, "count")
	assert.Error(t, err)

	_, err = Arg[int](args, "missing")
	assert.Error(t, err)

	n, err := Arg[*recorder](args, "nothing")
	require.NoError(t, err)
	assert.Nil(t, n)
}
