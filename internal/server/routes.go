package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/services"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/types"
	"github.com/conneroisu/localdev/internal/validation"
)

// showExtensions are the source files /show may serve.
var showExtensions = []string{".html", ".css", ".js"}

type localdevRoutes struct {
	s *Server
}

func (e localdevRoutes) Register(host Host) error {
	base := "/localdev/" + e.s.nonce
	host.Route(http.MethodGet, base+"/localdev.js", http.HandlerFunc(e.s.handleLocaldevScript))
	host.Route(http.MethodGet, base+"/show", http.HandlerFunc(e.s.handleShow))
	host.Route(http.MethodGet, "/", http.HandlerFunc(e.s.handleIndex))
	return nil
}

type clientConfig struct {
	Project    any    `json:"project"`
	Mode       string `json:"mode"`
	Locale     string `json:"locale"`
	ReloadPort int    `json:"reloadPort,omitempty"`
}

const reloadClient = `(function () {
  var port = window.LocalDev.reloadPort;
  if (!port) { return; }
  var socket = new WebSocket("ws://" + location.hostname + ":" + port + "/");
  socket.onmessage = function (event) {
    var msg = JSON.parse(event.data);
    if (msg.type === "reload") { location.reload(); }
  };
})();
`

func (s *Server) handleLocaldevScript(w http.ResponseWriter, r *http.Request) {
	cfg := clientConfig{
		Project: s.opts.Project,
		Mode:    string(s.opts.Mode),
		Locale:  s.opts.Locale,
	}
	if s.opts.LiveReload && s.opts.Watcher != nil {
		cfg.ReloadPort = s.opts.Watcher.Port()
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintf(w, "window.LocalDev = %s;\n", data)
	if cfg.ReloadPort != 0 {
		fmt.Fprint(w, reloadClient)
	}
}

// handleShow serves one project source file. Anything outside the module
// source directory or with another extension is a plain 404.
func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" || s.opts.ModuleSourceDir == "" {
		http.NotFound(w, r)
		return
	}

	resolved, err := validation.ValidatePathWithin(s.opts.ModuleSourceDir, file)
	if err != nil {
		s.logger.Debug(r.Context(), "Rejected show request", "file", file, "reason", err.Error())
		http.NotFound(w, r)
		return
	}
	if err := validation.ValidateFileExtension(resolved, showExtensions); err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	script := "/localdev/" + s.nonce + "/localdev.js"

	if s.opts.IndexPath != "" {
		page, err := os.ReadFile(s.opts.IndexPath)
		if err != nil {
			s.logger.Error(r.Context(), err, "Failed to read index page", "path", s.opts.IndexPath)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		out, err := injectScripts(page, script)
		if err != nil {
			s.logger.Error(r.Context(), err, "Failed to prepare index page", "path", s.opts.IndexPath)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(out)
		return
	}

	base := fmt.Sprintf("/webruntime/component/%s/%s/", s.opts.Mode, s.opts.Locale)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := shellPage(s.opts.Project.Name, script, base).Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "Failed to render shell page")
	}
}

type assetRoutes struct {
	dir    string
	logger logging.Logger
}

// Register serves /assets/project/{versionKey}/* from the asset output
// directory. The version key only busts browser caches and is ignored.
func (e assetRoutes) Register(host Host) error {
	files := http.FileServer(http.Dir(e.dir))
	host.Route(http.MethodGet, "/assets/project/{versionKey}/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := path.Clean("/" + chi.URLParam(r, "*"))
		info, err := os.Stat(filepath.Join(e.dir, filepath.FromSlash(rest)))
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = rest
		r2.URL.RawPath = ""
		files.ServeHTTP(w, r2)
	}))
	return nil
}

type moduleRoutes struct {
	registry *services.Registry
	logger   logging.Logger
}

// Register adds one GET route per service mapping. Templates look like
// /webruntime/label/{mode}/{locale}/*; the wildcard is appended to the
// mapping prefix to rebuild the specifier.
func (e moduleRoutes) Register(host Host) error {
	for _, svc := range e.registry.Services() {
		for _, m := range svc.Mappings() {
			if m.URITemplate == "" {
				continue
			}
			if !strings.HasSuffix(m.URITemplate, "/*") {
				return fmt.Errorf("service %s: template %q must end in /*", svc.Name(), m.URITemplate)
			}
			host.Route(http.MethodGet, m.URITemplate, e.handler(svc, m))
		}
	}
	return nil
}

func (e moduleRoutes) handler(svc services.Service, m specifier.Mapping) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		mode, err := types.ParseMode(chi.URLParam(r, "mode"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		locale := chi.URLParam(r, "locale")
		spec := m.Prefix + strings.TrimSuffix(chi.URLParam(r, "*"), ".js")

		res, err := svc.Request(ctx, spec, types.Params{Mode: mode, Locale: locale})
		if err != nil {
			if errors.Is(err, specifier.ErrInvalidSpecifier) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			e.logger.Error(ctx, err, "Module request failed", "service", svc.Name(), "specifier", spec)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeResource(w, res)
	})
}

// writeResource serves a compiled resource:
//
//	nil                     404
//	fatal payload           422 JSON payload
//	failed, no payload      500 JSON diagnostics
//	JSON                    200 JSON
//	component               200 JavaScript
func writeResource(w http.ResponseWriter, res *types.Resource) {
	switch {
	case res == nil:
		http.Error(w, "Not Found", http.StatusNotFound)
	case res.Payload != nil:
		writeJSON(w, http.StatusUnprocessableEntity, res.Payload)
	case !res.Success:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"specifier":   res.Specifier,
			"diagnostics": res.Diagnostics,
		})
	case res.Type == types.ResourceJSON:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(res.Code))
	default:
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		_, _ = w.Write([]byte(res.Code))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiRoutes struct {
	prefix string
	api    http.Handler
	apex   http.Handler
}

func (e apiRoutes) Register(host Host) error {
	if e.apex != nil {
		host.Route(http.MethodPost, e.prefix+"/apex/execute", e.apex)
	}
	if e.api != nil {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
			host.Route(method, e.prefix+"/*", e.api)
		}
	}
	return nil
}
