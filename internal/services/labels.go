package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/localdev/internal/build"
	"github.com/conneroisu/localdev/internal/compiler"
	lderrors "github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/labels"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/types"
	"github.com/conneroisu/localdev/internal/watcher"
)

// ErrLabelsFileMissing is wrapped in the configuration error raised when an
// explicitly configured labels file does not exist.
var ErrLabelsFileMissing = errors.New("custom labels file not found")

// MessageLocaleRequired is the diagnostic for a request without a locale.
const MessageLocaleRequired = "A locale is required"

// LabelsState is the lifecycle state of the labels service.
type LabelsState int

const (
	LabelsUninitialized LabelsState = iota
	LabelsLoaded
	LabelsReloading
)

func (s LabelsState) String() string {
	switch s {
	case LabelsUninitialized:
		return "uninitialized"
	case LabelsLoaded:
		return "loaded"
	case LabelsReloading:
		return "reloading"
	default:
		return "unknown"
	}
}

// LabelsOptions configures the labels service.
type LabelsOptions struct {
	// Path of the CustomLabels metadata file. Empty disables labels.
	Path string
	// Explicit is set when the user configured Path. A missing explicit
	// file fails startup; a missing default file just means no labels.
	Explicit bool
	// DefaultLocale is used for requests without a locale, normally "en".
	DefaultLocale string
	Debounce      time.Duration
}

// LabelsService serves @salesforce/label/ specifiers.
//
// The table and the module cache change together under mu: a request holds
// the read lock for its whole duration, a reload holds the write lock while
// it clears the cache and swaps the table.
type LabelsService struct {
	opts     LabelsOptions
	compiler compiler.Compiler
	cache    *build.ModuleCache
	logger   logging.Logger

	mu      sync.RWMutex
	state   LabelsState
	table   *labels.Table
	watcher *watcher.FileWatcher

	hooksMu sync.Mutex
	hooks   []func(ctx context.Context)
}

// NewLabelsService creates the service. It does nothing until Initialize.
func NewLabelsService(opts LabelsOptions, c compiler.Compiler, logger logging.Logger) *LabelsService {
	logger = logger.WithComponent("labels")
	return &LabelsService{
		opts:     opts,
		compiler: c,
		cache:    build.NewModuleCache(nil, logger),
		logger:   logger,
		table:    labels.NewTable(),
	}
}

func (s *LabelsService) Name() string { return "labels" }

func (s *LabelsService) Mappings() []specifier.Mapping {
	return []specifier.Mapping{
		{Prefix: specifier.LabelPrefix, URITemplate: "/webruntime/label/{mode}/{locale}/*"},
	}
}

// OnReload registers fn to run once after every completed reload.
func (s *LabelsService) OnReload(fn func(ctx context.Context)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// State returns the current lifecycle state.
func (s *LabelsService) State() LabelsState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Initialize loads the labels file and starts watching it.
func (s *LabelsService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != LabelsUninitialized {
		return nil
	}

	path := s.opts.Path
	if path == "" {
		s.state = LabelsLoaded
		s.logger.Debug(ctx, "No custom labels configured")
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) || s.opts.Explicit {
			return lderrors.NewConfigError("project.custom_labels_path", fmt.Errorf("%w: %s", ErrLabelsFileMissing, path))
		}
		s.state = LabelsLoaded
		s.logger.Debug(ctx, "Custom labels file not present", "path", path)
		return nil
	}

	s.table = s.load(ctx)
	s.state = LabelsLoaded

	fw, err := watcher.NewFileWatcher(s.opts.Debounce, s.logger)
	if err != nil {
		return fmt.Errorf("creating labels watcher: %w", err)
	}
	if err := fw.AddFile(path); err != nil {
		fw.Stop()
		return fmt.Errorf("watching %s: %w", path, err)
	}
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		return s.handleEvents(ctx, events)
	})
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return err
	}
	s.watcher = fw

	s.logger.Info(ctx, "Custom labels loaded", "path", path, "labels", s.table.Len())
	return nil
}

// load reads the table, treating unreadable or empty files as no labels.
func (s *LabelsService) load(ctx context.Context) *labels.Table {
	table, err := labels.Load(s.opts.Path)
	if err != nil {
		s.logger.Warn(ctx, err, "Failed to read custom labels, continuing without labels", "path", s.opts.Path)
		return labels.NewTable()
	}
	if table.Len() == 0 {
		s.logger.Warn(ctx, nil, "No custom labels found", "path", s.opts.Path)
	}
	return table
}

func (s *LabelsService) handleEvents(ctx context.Context, events []watcher.ChangeEvent) error {
	reload := false
	for _, event := range events {
		switch event.Type {
		case watcher.EventChange, watcher.EventAdd:
			reload = true
		case watcher.EventUnlink:
			s.logger.Warn(ctx, nil, "Custom labels file removed, keeping loaded labels", "path", event.Path)
		}
	}
	if !reload {
		return nil
	}
	return s.Reload(ctx)
}

// Reload replaces the table from disk and drops every compiled label, then
// runs the reload hooks once.
func (s *LabelsService) Reload(ctx context.Context) error {
	if s.opts.Path == "" {
		return nil
	}

	s.mu.Lock()
	s.state = LabelsReloading
	table, err := labels.Load(s.opts.Path)
	if err != nil {
		s.state = LabelsLoaded
		s.mu.Unlock()
		return fmt.Errorf("reloading custom labels: %w", err)
	}
	s.cache.Clear()
	s.table = table
	s.state = LabelsLoaded
	s.mu.Unlock()

	if table.Len() == 0 {
		s.logger.Warn(ctx, nil, "No custom labels found", "path", s.opts.Path)
	}
	s.logger.Info(ctx, "Custom labels reloaded", "labels", table.Len())

	s.hooksMu.Lock()
	hooks := append([]func(context.Context){}, s.hooks...)
	s.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(ctx)
	}
	return nil
}

// Request compiles a single label, a section ("c.*") or every label ("").
// Single labels yield one module. Section and full requests yield a JSON
// resource mapping each label specifier to its compiled module.
func (s *LabelsService) Request(ctx context.Context, spec string, params types.Params) (*types.Resource, error) {
	section, name := specifier.ParseLabel(strings.TrimPrefix(spec, specifier.LabelPrefix))

	if params.Locale == "" {
		params.Locale = s.opts.DefaultLocale
	}
	if params.Locale == "" {
		return types.Failure(spec, lderrors.Diagnostic{
			Message: MessageLocaleRequired,
			Level:   lderrors.ErrorSeverityError,
		}), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if name != "" {
		return s.compileLabel(ctx, labels.ID(section, name), params)
	}

	ids := s.table.IDs(section)
	modules := make(map[string]string, len(ids))
	deps := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := s.compileLabel(ctx, id, params)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return res, nil
		}
		modules[res.Specifier] = res.Code
		deps = append(deps, res.Specifier)
	}

	code, err := json.Marshal(modules)
	if err != nil {
		return nil, err
	}
	return &types.Resource{
		Type:      types.ResourceJSON,
		Specifier: spec,
		Code:      string(code),
		Metadata:  types.Metadata{Dependencies: deps},
		Success:   true,
	}, nil
}

// compileLabel must be called with mu held.
func (s *LabelsService) compileLabel(ctx context.Context, id string, params types.Params) (*types.Resource, error) {
	value, ok := s.table.Lookup(id, params.Locale)
	if !ok {
		value = "[" + id + "]"
	}

	spec := specifier.LabelPrefix + id
	key := build.Key{Specifier: spec, Mode: params.Mode, Locale: params.Locale}
	return s.cache.GetOrCompile(ctx, key, syntheticCompute(s.compiler, spec, id, exportDefault(value), params))
}

// CacheStats exposes the label cache counters.
func (s *LabelsService) CacheStats() build.CacheStats {
	return s.cache.Stats()
}

// Close stops the labels watcher.
func (s *LabelsService) Close() error {
	s.mu.Lock()
	fw := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if fw == nil {
		return nil
	}
	return fw.Stop()
}
