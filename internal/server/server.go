// Package server is the HTTP extension host of the dev server. It routes
// module requests to the addressable services, serves the localdev client
// routes and built assets, and forwards API calls to the org.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/project"
	"github.com/conneroisu/localdev/internal/services"
	"github.com/conneroisu/localdev/internal/types"
)

const shutdownTimeout = 5 * time.Second

// Watcher is the file watch coordinator as seen by the server.
type Watcher interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	Port() int
}

// Options configure a Server. Registry is required; everything else is
// optional.
type Options struct {
	Host string
	Port int

	Project         project.Metadata
	ModuleSourceDir string
	AssetsDir       string
	IndexPath       string
	Mode            types.Mode
	Locale          string
	LiveReload      bool

	Registry  *services.Registry
	Watcher   Watcher
	APIPrefix string
	API       http.Handler
	Apex      http.Handler

	Extensions []Extension
}

// Server serves one project.
type Server struct {
	opts    Options
	nonce   string
	router  chi.Router
	logger  logging.Logger
	started chan struct{}

	mu           sync.Mutex
	httpServer   *http.Server
	addr         net.Addr
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the router. Extensions register in this order: localdev
// routes, service modules, assets, API proxy, then Options.Extensions.
func New(opts Options, logger logging.Logger) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("server requires a service registry")
	}
	if opts.Mode == "" {
		opts.Mode = types.ModeDev
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}

	s := &Server{
		opts:    opts,
		nonce:   uuid.NewString(),
		router:  chi.NewRouter(),
		logger:  logger.WithComponent("server"),
		started: make(chan struct{}),
	}

	s.router.Use(RequestIDMiddleware, LoggingMiddleware(s.logger), RecoveryMiddleware(s.logger))

	host := newChiHost(s.router)
	extensions := []Extension{
		localdevRoutes{s: s},
		moduleRoutes{registry: opts.Registry, logger: s.logger},
	}
	if opts.AssetsDir != "" {
		extensions = append(extensions, assetRoutes{dir: opts.AssetsDir, logger: s.logger})
	}
	if opts.APIPrefix != "" {
		extensions = append(extensions, apiRoutes{prefix: opts.APIPrefix, api: opts.API, apex: opts.Apex})
	}
	extensions = append(extensions, opts.Extensions...)

	for _, ext := range extensions {
		if err := ext.Register(host); err != nil {
			return nil, fmt.Errorf("registering routes: %w", err)
		}
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Nonce is the session nonce in the /localdev/ routes.
func (s *Server) Nonce() string {
	return s.nonce
}

// Addr returns the bound address once Start has listened.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Started is closed once the server accepts connections.
func (s *Server) Started() <-chan struct{} {
	return s.started
}

// Start initializes the services, starts the watcher and serves until ctx is
// cancelled or serving fails. It always shuts down before returning.
func (s *Server) Start(ctx context.Context) error {
	if err := s.opts.Registry.InitializeAll(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)))
	if err != nil {
		_ = s.opts.Registry.CloseAll()
		return fmt.Errorf("listening: %w", err)
	}

	if s.opts.Watcher != nil {
		if err := s.opts.Watcher.Start(ctx); err != nil {
			ln.Close()
			_ = s.opts.Registry.CloseAll()
			return fmt.Errorf("starting file watchers: %w", err)
		}
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.started)

	s.logger.Info(ctx, "Server listening", "addr", ln.Addr().String(), "nonce", s.nonce)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops the HTTP server, the watchers and the services. It is safe
// to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		var errs []error
		s.mu.Lock()
		httpServer := s.httpServer
		s.mu.Unlock()
		if httpServer != nil {
			if err := httpServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if s.opts.Watcher != nil {
			if err := s.opts.Watcher.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.opts.Registry.CloseAll(); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}
