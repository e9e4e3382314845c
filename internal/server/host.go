package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Host is the capability extensions get: register a route and register a
// middleware. A middleware applies to every route registered after it.
type Host interface {
	Route(method, pattern string, handler http.Handler)
	Use(middleware ...Middleware)
}

// Extension adds routes to a Host.
type Extension interface {
	Register(host Host) error
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc func(host Host) error

// Register calls f.
func (f ExtensionFunc) Register(host Host) error {
	return f(host)
}

type chiHost struct {
	router      chi.Router
	middlewares []func(http.Handler) http.Handler
}

func newChiHost(router chi.Router) *chiHost {
	return &chiHost{router: router}
}

func (h *chiHost) Route(method, pattern string, handler http.Handler) {
	h.router.With(h.middlewares...).Method(method, pattern, handler)
}

func (h *chiHost) Use(middleware ...Middleware) {
	for _, mw := range middleware {
		h.middlewares = append(h.middlewares, mw)
	}
}
