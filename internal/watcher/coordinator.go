package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/conneroisu/localdev/internal/logging"
)

// ReloadChannel broadcasts reload signals to browsers.
type ReloadChannel interface {
	Start(ctx context.Context) error
	Reload(reason string)
	Port() int
	Close(ctx context.Context) error
}

// ComponentInvalidator drops compiled output for a changed source file.
type ComponentInvalidator interface {
	InvalidatePath(path string) bool
}

// StaticRebuilder copies a changed static resource into the served tree.
type StaticRebuilder interface {
	Rebuild(ctx context.Context, path string) error
}

// ReloadNotifier is a service that reloads itself and reports when done.
type ReloadNotifier interface {
	OnReload(fn func(ctx context.Context))
}

// CoordinatorState is the lifecycle state of a Coordinator.
type CoordinatorState int

const (
	CoordinatorIdle CoordinatorState = iota
	CoordinatorWatching
	CoordinatorClosed
)

// CoordinatorConfig lists what to watch.
type CoordinatorConfig struct {
	ComponentDirs       []string
	ComponentExtensions []string
	StaticDirs          []string
	Debounce            time.Duration
}

// Coordinator owns the component and static resource watchers and the
// shared reload channel, and decides per event whether to invalidate,
// rebuild or reload.
//
//	component change        invalidate, reload
//	component add/unlink    invalidate
//	static add/change       rebuild, then reload
//	static unlink           reload
//	labels reloaded         reload
//
// Every delivered batch produces at most one reload.
type Coordinator struct {
	cfg        CoordinatorConfig
	channel    ReloadChannel
	components ComponentInvalidator
	static     StaticRebuilder
	notifiers  []ReloadNotifier
	logger     logging.Logger

	mu               sync.Mutex
	state            CoordinatorState
	componentWatcher *FileWatcher
	staticWatcher    *FileWatcher
}

// NewCoordinator creates an idle coordinator. components, static and the
// notifiers may be nil.
func NewCoordinator(
	cfg CoordinatorConfig,
	channel ReloadChannel,
	components ComponentInvalidator,
	static StaticRebuilder,
	logger logging.Logger,
	notifiers ...ReloadNotifier,
) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		channel:    channel,
		components: components,
		static:     static,
		notifiers:  notifiers,
		logger:     logger.WithComponent("coordinator"),
	}
}

// State returns the lifecycle state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Port returns the reload channel port.
func (c *Coordinator) Port() int {
	return c.channel.Port()
}

// Start opens the reload channel and the watchers.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CoordinatorIdle {
		return fmt.Errorf("coordinator cannot start from state %d", c.state)
	}

	if err := c.channel.Start(ctx); err != nil {
		return fmt.Errorf("starting reload channel: %w", err)
	}

	if c.components != nil {
		var filters []FileFilter
		if len(c.cfg.ComponentExtensions) > 0 {
			filters = append(filters, ExtensionFilter(c.cfg.ComponentExtensions...))
		}
		fw, err := c.watch(ctx, c.cfg.ComponentDirs, func(ctx context.Context, events []ChangeEvent) {
			c.HandleComponentEvents(ctx, events)
		}, filters...)
		if err != nil {
			c.abort(ctx)
			return fmt.Errorf("watching components: %w", err)
		}
		c.componentWatcher = fw
	}

	if c.static != nil {
		fw, err := c.watch(ctx, c.cfg.StaticDirs, func(ctx context.Context, events []ChangeEvent) {
			c.HandleStaticEvents(ctx, events)
		})
		if err != nil {
			c.abort(ctx)
			return fmt.Errorf("watching static resources: %w", err)
		}
		c.staticWatcher = fw
	}

	for _, n := range c.notifiers {
		n.OnReload(func(context.Context) {
			c.channel.Reload("labels changed")
		})
	}

	c.state = CoordinatorWatching
	c.logger.Info(ctx, "Watching for changes",
		"component_dirs", len(c.cfg.ComponentDirs),
		"static_dirs", len(c.cfg.StaticDirs),
		"reload_port", c.channel.Port(),
	)
	return nil
}

// watch starts one FileWatcher over the existing dirs. It returns nil when
// none of the dirs exist.
func (c *Coordinator) watch(ctx context.Context, dirs []string, handle func(context.Context, []ChangeEvent), filters ...FileFilter) (*FileWatcher, error) {
	var existing []string
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			existing = append(existing, dir)
		} else {
			c.logger.Debug(ctx, "Skipping missing watch directory", "dir", dir)
		}
	}
	if len(existing) == 0 {
		return nil, nil
	}

	fw, err := NewFileWatcher(c.cfg.Debounce, c.logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(NoHiddenFilter)
	for _, filter := range filters {
		fw.AddFilter(filter)
	}
	for _, dir := range existing {
		if err := fw.AddRecursive(dir); err != nil {
			fw.Stop()
			return nil, err
		}
	}
	fw.AddHandler(func(events []ChangeEvent) error {
		handle(ctx, events)
		return nil
	})
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}

// abort undoes a partial Start. Called with mu held.
func (c *Coordinator) abort(ctx context.Context) {
	if c.componentWatcher != nil {
		c.componentWatcher.Stop()
		c.componentWatcher = nil
	}
	c.channel.Close(ctx)
}

// HandleComponentEvents invalidates every touched component and reloads
// once if any of them changed in place.
func (c *Coordinator) HandleComponentEvents(ctx context.Context, events []ChangeEvent) {
	reload := false
	for _, event := range events {
		if c.components != nil {
			c.components.InvalidatePath(event.Path)
		}
		if event.Type == EventChange {
			reload = true
		}
		c.logger.Debug(ctx, "Component source event", "type", event.Type, "path", event.Path)
	}
	if reload {
		c.channel.Reload("component changed")
	}
}

// HandleStaticEvents rebuilds added and changed resources before reloading,
// so the browser finds the current file when it re-requests it.
func (c *Coordinator) HandleStaticEvents(ctx context.Context, events []ChangeEvent) {
	if len(events) == 0 {
		return
	}
	for _, event := range events {
		if event.Type == EventUnlink || c.static == nil {
			continue
		}
		if err := c.static.Rebuild(ctx, event.Path); err != nil {
			c.logger.Error(ctx, err, "Failed to rebuild static resource", "path", event.Path)
		}
	}
	c.channel.Reload("static resource changed")
}

// Close stops the watchers and the reload channel. It is safe to call more
// than once.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CoordinatorClosed {
		return nil
	}
	wasStarted := c.state == CoordinatorWatching
	c.state = CoordinatorClosed

	var errs []error
	for _, fw := range []*FileWatcher{c.componentWatcher, c.staticWatcher} {
		if fw == nil {
			continue
		}
		if err := fw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	c.componentWatcher, c.staticWatcher = nil, nil

	if wasStarted {
		if err := c.channel.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing reload channel: %w", err))
		}
	}
	return errors.Join(errs...)
}
