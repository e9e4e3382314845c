// Package services implements the addressable services: each one owns a set
// of specifier prefixes, compiles the modules behind them and keeps its own
// module cache.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/types"
)

// Service is an addressable service.
type Service interface {
	// Name identifies the service in logs and in the resolver.
	Name() string
	// Mappings declares the specifier prefixes the service owns and the
	// URI templates they are served under.
	Mappings() []specifier.Mapping
	// Initialize prepares the service. Errors are fatal at startup.
	Initialize(ctx context.Context) error
	// Request compiles spec. A nil resource with a nil error means the
	// service does not know the specifier.
	Request(ctx context.Context, spec string, params types.Params) (*types.Resource, error)
	// Close releases watchers and other resources.
	Close() error
}

// Registry routes specifiers to services.
type Registry struct {
	resolver *specifier.Resolver
	services map[string]Service
	order    []Service
	logger   logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		resolver: specifier.NewResolver(),
		services: make(map[string]Service),
		logger:   logger.WithComponent("services"),
	}
}

// Register adds a service. Earlier registrations win prefix ties.
func (r *Registry) Register(svc Service) error {
	if _, exists := r.services[svc.Name()]; exists {
		return fmt.Errorf("service %q already registered", svc.Name())
	}
	r.services[svc.Name()] = svc
	r.order = append(r.order, svc)
	r.resolver.Register(svc.Name(), svc.Mappings()...)
	return nil
}

// Services returns the registered services in registration order.
func (r *Registry) Services() []Service {
	return append([]Service(nil), r.order...)
}

// Lookup returns the service owning spec.
func (r *Registry) Lookup(spec string) (Service, bool) {
	name, _, ok := r.resolver.Resolve(spec)
	if !ok {
		return nil, false
	}
	svc, ok := r.services[name]
	return svc, ok
}

// Request forwards spec to its owner. Unowned specifiers yield (nil, nil).
func (r *Registry) Request(ctx context.Context, spec string, params types.Params) (*types.Resource, error) {
	svc, ok := r.Lookup(spec)
	if !ok {
		return nil, nil
	}
	return svc.Request(ctx, spec, params)
}

// InitializeAll initializes every service in order and stops at the first
// failure.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, svc := range r.order {
		if err := svc.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing %s service: %w", svc.Name(), err)
		}
		r.logger.Debug(ctx, "Service initialized", "service", svc.Name())
	}
	return nil
}

// CloseAll closes every service and joins their errors.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, svc := range r.order {
		if err := svc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s service: %w", svc.Name(), err))
		}
	}
	return errors.Join(errs...)
}
