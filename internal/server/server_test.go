package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lderrors "github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/project"
	"github.com/conneroisu/localdev/internal/services"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/types"
)

type fakeService struct {
	closed atomic.Int32
	last   atomic.Value
}

func (f *fakeService) Name() string { return "fake" }

func (f *fakeService) Mappings() []specifier.Mapping {
	return []specifier.Mapping{{Prefix: "x/", URITemplate: "/webruntime/x/{mode}/{locale}/*"}}
}

func (f *fakeService) Initialize(context.Context) error { return nil }

func (f *fakeService) Request(_ context.Context, spec string, params types.Params) (*types.Resource, error) {
	f.last.Store(params)
	switch spec {
	case "x/ok":
		return &types.Resource{Type: types.ResourceComponent, Specifier: spec, Code: "export default 1;", Success: true}, nil
	case "x/json":
		return &types.Resource{Type: types.ResourceJSON, Specifier: spec, Code: `{"a":1}`, Success: true}, nil
	case "x/broken":
		return &types.Resource{Type: types.ResourceJSON, Specifier: spec, Payload: &lderrors.Payload{Message: "Unexpected token", Line: 3}}, nil
	case "x/silent":
		return types.CompilerSilent(spec), nil
	case "x/bad":
		return nil, fmt.Errorf("%w: %s", specifier.ErrInvalidSpecifier, spec)
	case "x/boom":
		return nil, fmt.Errorf("compiler crashed")
	}
	return nil, nil
}

func (f *fakeService) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeWatcher struct {
	started atomic.Int32
	closed  atomic.Int32
}

func (w *fakeWatcher) Start(context.Context) error { w.started.Add(1); return nil }
func (w *fakeWatcher) Close(context.Context) error { w.closed.Add(1); return nil }
func (w *fakeWatcher) Port() int                   { return 45678 }

type fixture struct {
	server    *Server
	service   *fakeService
	watcher   *fakeWatcher
	sourceDir string
	assetsDir string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	root := t.TempDir()
	sourceDir := filepath.Join(root, "force-app", "main", "default")
	assetsDir := filepath.Join(root, ".localdevserver", "assets")
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, "lwc", "hello"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(assetsDir, "staticresources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "lwc", "hello", "hello.js"), []byte("export default class Hello {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "lwc", "hello", "notes.txt"), []byte("private"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.js"), []byte("secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "staticresources", "chartJs"), []byte("chart"), 0o644))

	svc := &fakeService{}
	registry := services.NewRegistry(logging.NewTestLogger())
	require.NoError(t, registry.Register(svc))

	watcher := &fakeWatcher{}
	opts := Options{
		Host:            "127.0.0.1",
		Project:         project.Metadata{Name: "demo", Namespace: "c", SFDX: true},
		ModuleSourceDir: sourceDir,
		AssetsDir:       assetsDir,
		Locale:          "en",
		LiveReload:      true,
		Registry:        registry,
		Watcher:         watcher,
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts, logging.NewTestLogger())
	require.NoError(t, err)
	return &fixture{server: s, service: svc, watcher: watcher, sourceDir: sourceDir, assetsDir: assetsDir}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestLocaldevScript(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/localdev/"+f.server.Nonce()+"/localdev.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/javascript")
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, `window.LocalDev = {"project":{"projectName":"demo","namespace":"c","isSfdx":true}`), body)
	assert.Contains(t, body, `"reloadPort":45678`)
	assert.Contains(t, body, "new WebSocket")

	assert.Equal(t, http.StatusNotFound, f.get(t, "/localdev/wrong-nonce/localdev.js").Code)
}

func TestLocaldevScript_NoLiveReload(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.LiveReload = false })

	body := f.get(t, "/localdev/"+f.server.Nonce()+"/localdev.js").Body.String()
	assert.NotContains(t, body, "reloadPort")
	assert.NotContains(t, body, "WebSocket")
}

func TestShow(t *testing.T) {
	f := newFixture(t, nil)
	base := "/localdev/" + f.server.Nonce() + "/show?file="

	rec := f.get(t, base+filepath.Join(f.sourceDir, "lwc", "hello", "hello.js"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "export default class Hello {}", rec.Body.String())

	rec = f.get(t, base+"lwc/hello/hello.js")
	assert.Equal(t, http.StatusOK, rec.Code, "relative to the module source dir")

	for _, rejected := range []string{
		"lwc/hello/notes.txt",
		"../../../secret.js",
		filepath.Join(f.sourceDir, "..", "..", "..", "secret.js"),
		"lwc/hello/missing.js",
		"lwc/hello",
		"",
	} {
		assert.Equal(t, http.StatusNotFound, f.get(t, base+rejected).Code, rejected)
	}
}

func TestAssets(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/assets/project/158104e2eb/staticresources/chartJs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chart", rec.Body.String())

	assert.Equal(t, http.StatusOK, f.get(t, "/assets/project/anotherkey/staticresources/chartJs").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/assets/project/158104e2eb/staticresources/missing").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/assets/project/158104e2eb/staticresources").Code)
}

func TestModuleRoutes(t *testing.T) {
	f := newFixture(t, nil)

	testCases := []struct {
		path        string
		status      int
		contentType string
		body        string
	}{
		{"/webruntime/x/dev/en_US/ok", http.StatusOK, "application/javascript", "export default 1;"},
		{"/webruntime/x/dev/en_US/ok.js", http.StatusOK, "application/javascript", "export default 1;"},
		{"/webruntime/x/prod/en/json", http.StatusOK, "application/json", `{"a":1}`},
		{"/webruntime/x/dev/en/broken", http.StatusUnprocessableEntity, "application/json", `"message":"Unexpected token"`},
		{"/webruntime/x/dev/en/silent", http.StatusInternalServerError, "application/json", lderrors.MessageCompilerSilent},
		{"/webruntime/x/dev/en/bad", http.StatusBadRequest, "text/plain", "Invalid specifier for custom component"},
		{"/webruntime/x/dev/en/boom", http.StatusInternalServerError, "text/plain", "Internal Server Error"},
		{"/webruntime/x/dev/en/unknown", http.StatusNotFound, "text/plain", "Not Found"},
		{"/webruntime/x/staging/en/ok", http.StatusBadRequest, "text/plain", "invalid mode"},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			rec := f.get(t, tc.path)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), tc.contentType)
			assert.Contains(t, rec.Body.String(), tc.body)
		})
	}

	f.get(t, "/webruntime/x/prod/fr_CA/ok")
	assert.Equal(t, types.Params{Mode: types.ModeProd, Locale: "fr_CA"}, f.service.last.Load())
}

func TestAPIRoutes(t *testing.T) {
	var apiHits, apexHits atomic.Int32
	f := newFixture(t, func(o *Options) {
		o.APIPrefix = "/webruntime/api"
		o.API = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiHits.Add(1)
			_, _ = io.WriteString(w, r.URL.Path)
		})
		o.Apex = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apexHits.Add(1)
		})
	})

	rec := f.get(t, "/webruntime/api/services/data/v49.0/ui-api/records")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/webruntime/api/services/data/v49.0/ui-api/records", rec.Body.String())

	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webruntime/api/apex/execute", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int32(1), apiHits.Load())
	assert.Equal(t, int32(1), apexHits.Load())
}

func TestIndex(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>demo</title>")
	assert.Contains(t, body, `<script src="/localdev/`+f.server.Nonce()+`/localdev.js"></script>`)
	assert.Contains(t, body, "/webruntime/component/dev/en/")
}

func TestIndex_Custom(t *testing.T) {
	index := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(index, []byte(`<html><head><title>Custom</title></head><body><x-app></x-app></body></html>`), 0o644))
	f := newFixture(t, func(o *Options) { o.IndexPath = index })

	rec := f.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<head><script src="/localdev/`+f.server.Nonce()+`/localdev.js"></script><title>Custom</title>`)
	assert.Contains(t, rec.Body.String(), "<x-app></x-app>")
}

func TestInjectScripts(t *testing.T) {
	out, err := injectScripts([]byte(`<!DOCTYPE html><p>hi</p>`), "/a.js", "/b.js")
	require.NoError(t, err)
	assert.Contains(t, string(out), `<head><script src="/a.js"></script><script src="/b.js"></script></head>`)

	again, err := injectScripts(out, "/a.js", "/b.js")
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again), "injection is idempotent")
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Extensions = []Extension{ExtensionFunc(func(host Host) error {
			host.Route(http.MethodGet, "/before", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, RequestID(r.Context()))
			}))
			host.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("X-Tagged", "yes")
					next.ServeHTTP(w, r)
				})
			})
			host.Route(http.MethodGet, "/panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic("boom")
			}))
			return nil
		})}
	})

	rec := f.get(t, "/before")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), rec.Body.String())
	assert.Len(t, rec.Body.String(), 36)
	assert.Empty(t, rec.Header().Get("X-Tagged"), "middleware only applies to later routes")

	rec = f.get(t, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Tagged"))

	req := httptest.NewRequest(http.MethodGet, "/before", nil)
	req.Header.Set(RequestIDHeader, "4a1f0a4e-7a53-4d6b-9b7a-0d0c2f3f9b11")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "4a1f0a4e-7a53-4d6b-9b7a-0d0c2f3f9b11", rec.Body.String())
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Options{}, logging.NewTestLogger())
	assert.Error(t, err)
}

func TestStartShutdown(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx) }()

	select {
	case <-f.server.Started():
	case err := <-done:
		t.Fatalf("server stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + f.server.Addr().String() + "/localdev/" + f.server.Nonce() + "/localdev.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), f.watcher.started.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Equal(t, int32(1), f.watcher.closed.Load())
	assert.Equal(t, int32(1), f.service.closed.Load())
	require.NoError(t, f.server.Shutdown(context.Background()))
	assert.Equal(t, int32(1), f.watcher.closed.Load(), "shutdown runs once")
}
