package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/localdev/internal/build"
	"github.com/conneroisu/localdev/internal/logging"
)

// recorder captures calls from every collaborator in one ordered log.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.log() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeChannel struct {
	rec    *recorder
	closed bool
}

func (f *fakeChannel) Start(context.Context) error { f.rec.add("channel:start"); return nil }
func (f *fakeChannel) Reload(string)               { f.rec.add("reload") }
func (f *fakeChannel) Port() int                   { return 40000 }
func (f *fakeChannel) Close(context.Context) error {
	f.closed = true
	f.rec.add("channel:close")
	return nil
}

type fakeComponents struct{ rec *recorder }

func (f *fakeComponents) InvalidatePath(path string) bool {
	f.rec.add("invalidate:" + filepath.Base(path))
	return true
}

type fakeStatic struct {
	rec   *recorder
	delay time.Duration
}

func (f *fakeStatic) Rebuild(_ context.Context, path string) error {
	f.rec.add("rebuild:start:" + filepath.Base(path))
	time.Sleep(f.delay)
	f.rec.add("rebuild:done:" + filepath.Base(path))
	return nil
}

type fakeLabels struct {
	hooks []func(context.Context)
}

func (f *fakeLabels) OnReload(fn func(context.Context)) { f.hooks = append(f.hooks, fn) }

func (f *fakeLabels) fire() {
	for _, h := range f.hooks {
		h(context.Background())
	}
}

func newTestCoordinator(cfg CoordinatorConfig) (*Coordinator, *recorder, *fakeChannel, *fakeLabels) {
	rec := &recorder{}
	channel := &fakeChannel{rec: rec}
	labels := &fakeLabels{}
	c := NewCoordinator(cfg, channel, &fakeComponents{rec: rec}, &fakeStatic{rec: rec, delay: 20 * time.Millisecond}, logging.NewTestLogger(), labels)
	return c, rec, channel, labels
}

func TestCoordinator_StaticAddRebuildsBeforeReload(t *testing.T) {
	c, rec, _, _ := newTestCoordinator(CoordinatorConfig{})

	c.HandleStaticEvents(context.Background(), []ChangeEvent{{Type: EventAdd, Path: "/p/staticresources/chartJs.js"}})

	assert.Equal(t, []string{
		"rebuild:start:chartJs.js",
		"rebuild:done:chartJs.js",
		"reload",
	}, rec.log())
}

func TestCoordinator_StaticChangeRebuildsAndUnlinkOnlyReloads(t *testing.T) {
	c, rec, _, _ := newTestCoordinator(CoordinatorConfig{})

	c.HandleStaticEvents(context.Background(), []ChangeEvent{{Type: EventChange, Path: "/p/staticresources/a.js"}})
	c.HandleStaticEvents(context.Background(), []ChangeEvent{{Type: EventUnlink, Path: "/p/staticresources/b.js"}})

	assert.Equal(t, []string{
		"rebuild:start:a.js",
		"rebuild:done:a.js",
		"reload",
		"reload",
	}, rec.log())
}

func TestCoordinator_StaticChangeRefreshesServedCopy(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "staticresources")
	require.NoError(t, os.MkdirAll(source, 0o755))
	file := filepath.Join(source, "chartJs.js")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o644))

	builder := build.NewStaticBuilder(filepath.Join(root, "out"), []build.AssetSource{
		{Kind: build.StaticResources, Dir: source},
	}, logging.NewTestLogger())
	require.NoError(t, builder.BuildAll(context.Background()))
	served := filepath.Join(builder.AssetsDir(), "staticresources", "chartJs")

	rec := &recorder{}
	c := NewCoordinator(CoordinatorConfig{}, &fakeChannel{rec: rec}, &fakeComponents{rec: rec}, builder, logging.NewTestLogger())

	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))
	c.HandleStaticEvents(context.Background(), []ChangeEvent{{Type: EventChange, Path: file}})

	data, err := os.ReadFile(served)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, []string{"reload"}, rec.log())
}

func TestCoordinator_ComponentEvents(t *testing.T) {
	c, rec, _, _ := newTestCoordinator(CoordinatorConfig{})
	ctx := context.Background()

	t.Run("change invalidates then reloads once", func(t *testing.T) {
		c.HandleComponentEvents(ctx, []ChangeEvent{
			{Type: EventChange, Path: "/p/lwc/hello/hello.js"},
			{Type: EventChange, Path: "/p/lwc/hello/hello.html"},
		})
		assert.Equal(t, []string{"invalidate:hello.js", "invalidate:hello.html", "reload"}, rec.log())
	})

	t.Run("add and unlink invalidate silently", func(t *testing.T) {
		before := rec.count("reload")
		c.HandleComponentEvents(ctx, []ChangeEvent{
			{Type: EventAdd, Path: "/p/lwc/hello/hello.css"},
			{Type: EventUnlink, Path: "/p/lwc/hello/old.css"},
		})
		assert.Equal(t, before, rec.count("reload"))
		assert.Equal(t, 1, rec.count("invalidate:hello.css"))
		assert.Equal(t, 1, rec.count("invalidate:old.css"))
	})
}

func TestCoordinator_Lifecycle(t *testing.T) {
	root := t.TempDir()
	lwc := filepath.Join(root, "lwc", "hello")
	static := filepath.Join(root, "staticresources")
	require.NoError(t, os.MkdirAll(lwc, 0o755))
	require.NoError(t, os.MkdirAll(static, 0o755))

	c, rec, channel, labels := newTestCoordinator(CoordinatorConfig{
		ComponentDirs:       []string{filepath.Join(root, "lwc"), filepath.Join(root, "missing")},
		ComponentExtensions: []string{".js", ".html"},
		StaticDirs:          []string{static},
	})
	ctx := context.Background()

	assert.Equal(t, CoordinatorIdle, c.State())
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, CoordinatorWatching, c.State())
	assert.Equal(t, 40000, c.Port())
	assert.Error(t, c.Start(ctx))

	t.Run("labels reload is broadcast once", func(t *testing.T) {
		before := rec.count("reload")
		labels.fire()
		assert.Equal(t, before+1, rec.count("reload"))
	})

	t.Run("component file change reaches the channel", func(t *testing.T) {
		file := filepath.Join(lwc, "hello.js")
		require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))
		require.Eventually(t, func() bool { return rec.count("invalidate:hello.js") >= 1 }, 5*time.Second, 10*time.Millisecond)

		before := rec.count("reload")
		require.NoError(t, os.WriteFile(file, []byte("ab"), 0o644))
		require.Eventually(t, func() bool { return rec.count("reload") > before }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("static add rebuilds", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(static, "chartJs.js"), []byte("x"), 0o644))
		require.Eventually(t, func() bool { return rec.count("rebuild:done:chartJs.js") >= 1 }, 5*time.Second, 10*time.Millisecond)
	})

	require.NoError(t, c.Close(ctx))
	assert.True(t, channel.closed)
	assert.Equal(t, CoordinatorClosed, c.State())
	assert.NoError(t, c.Close(ctx), "close is idempotent")
	assert.Equal(t, 1, rec.count("channel:close"))
}

func TestCoordinator_CloseWithoutStart(t *testing.T) {
	c, rec, channel, _ := newTestCoordinator(CoordinatorConfig{})
	require.NoError(t, c.Close(context.Background()))
	assert.False(t, channel.closed)
	assert.Empty(t, rec.log())
}
