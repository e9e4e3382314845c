package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/localdev/internal/logging"
)

// FileWatcher watches for file changes with debouncing
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	roots     []string
	files     map[string]bool
	mutex     sync.RWMutex
	logger    logging.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
	stopErr  error
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	return string(e)
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles one delivered batch of change events
type ChangeHandler func(events []ChangeEvent) error

// Debouncer groups rapid file changes together. A zero delay delivers every
// event as its own batch.
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debouncer := &Debouncer{
		delay:   debounceDelay,
		events:  make(chan ChangeEvent, 100),
		output:  make(chan []ChangeEvent, 10),
		pending: make([]ChangeEvent, 0),
	}

	fw := &FileWatcher{
		watcher:   watcher,
		debouncer: debouncer,
		filters:   make([]FileFilter, 0),
		handlers:  make([]ChangeHandler, 0),
		files:     make(map[string]bool),
		logger:    logger.WithComponent("file-watcher"),
	}

	return fw, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddFile watches a single file. The parent directory is watched and events
// for its other entries are dropped.
func (fw *FileWatcher) AddFile(path string) error {
	cleanPath, err := cleanAbs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if err := fw.watcher.Add(filepath.Dir(cleanPath)); err != nil {
		return err
	}

	fw.mutex.Lock()
	fw.files[cleanPath] = true
	fw.mutex.Unlock()
	return nil
}

// AddRecursive adds a directory and all subdirectories to watch.
// Directories created later below root are picked up as they appear.
func (fw *FileWatcher) AddRecursive(root string) error {
	cleanRoot, err := cleanAbs(root)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}
	if err := fw.addTree(cleanRoot); err != nil {
		return err
	}

	fw.mutex.Lock()
	fw.roots = append(fw.roots, cleanRoot)
	fw.mutex.Unlock()
	return nil
}

func (fw *FileWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if NoGitFilter(path) && NoNodeModulesFilter(path) {
				return fw.watcher.Add(path)
			}
			return filepath.SkipDir
		}
		return nil
	})
}

func cleanAbs(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	return absPath, nil
}

// Start starts the file watcher
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	if fw.started {
		fw.mutex.Unlock()
		return fmt.Errorf("file watcher already started")
	}
	fw.started = true
	ctx, fw.cancel = context.WithCancel(ctx)
	fw.mutex.Unlock()

	fw.wg.Add(3)
	go func() {
		defer fw.wg.Done()
		fw.debouncer.start(ctx)
	}()
	go func() {
		defer fw.wg.Done()
		fw.processEvents(ctx)
	}()
	go func() {
		defer fw.wg.Done()
		fw.watchLoop(ctx)
	}()

	return nil
}

// Stop stops the file watcher and waits for its goroutines. It is safe to
// call more than once.
func (fw *FileWatcher) Stop() error {
	fw.stopOnce.Do(func() {
		fw.mutex.Lock()
		cancel := fw.cancel
		fw.mutex.Unlock()
		if cancel != nil {
			cancel()
		}

		fw.debouncer.stop()
		fw.stopErr = fw.watcher.Close()
		fw.wg.Wait()
	})
	return fw.stopErr
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	var eventType EventType
	switch {
	case event.Has(fsnotify.Create):
		eventType = EventAdd
	case event.Has(fsnotify.Write):
		eventType = EventChange
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		eventType = EventUnlink
	default:
		return
	}

	path := filepath.Clean(event.Name)
	if !fw.inScope(path) {
		return
	}

	info, err := os.Stat(path)
	var modTime time.Time
	var size int64
	if err == nil {
		modTime = info.ModTime()
		size = info.Size()
		if eventType == EventAdd && info.IsDir() {
			if err := fw.addTree(path); err != nil {
				fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", path)
			}
		}
	}

	if !fw.passesFilters(path) {
		return
	}

	changeEvent := ChangeEvent{
		Type:    eventType,
		Path:    path,
		ModTime: modTime,
		Size:    size,
	}

	select {
	case fw.debouncer.events <- changeEvent:
	default:
		fw.logger.Warn(ctx, nil, "Dropping file event, queue full", "path", path)
	}
}

func (fw *FileWatcher) inScope(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()

	if fw.files[path] {
		return true
	}
	for _, root := range fw.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) passesFilters(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()

	for _, filter := range fw.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// Dispatch delivers a batch to the handlers synchronously.
func (fw *FileWatcher) Dispatch(ctx context.Context, events []ChangeEvent) {
	fw.mutex.RLock()
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(events); err != nil {
			fw.logger.Error(ctx, err, "File watcher handler error", "events", len(events))
		}
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.output:
			fw.Dispatch(ctx, events)
		}
	}
}

// Debouncer implementation
func (d *Debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			if d.delay <= 0 {
				d.emit(ctx, []ChangeEvent{event})
				continue
			}
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) emit(ctx context.Context, events []ChangeEvent) {
	select {
	case d.output <- events:
	case <-ctx.Done():
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.flush()
	})
}

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = d.pending[:0]
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	events := coalesce(d.pending)

	select {
	case d.output <- events:
	default:
		// Channel full, skip
	}

	d.pending = d.pending[:0]
}

// coalesce keeps one event per path in first-seen order. The latest event
// wins, except that a change following an add is still an add and a file
// removed and recreated within the window is a change.
func coalesce(pending []ChangeEvent) []ChangeEvent {
	index := make(map[string]int, len(pending))
	events := make([]ChangeEvent, 0, len(pending))
	for _, event := range pending {
		i, seen := index[event.Path]
		if !seen {
			index[event.Path] = len(events)
			events = append(events, event)
			continue
		}
		switch {
		case events[i].Type == EventAdd && event.Type == EventChange:
			event.Type = EventAdd
		case events[i].Type == EventUnlink && event.Type == EventAdd:
			event.Type = EventChange
		}
		events[i] = event
	}
	return events
}

// Common file filters

// ExtensionFilter accepts files with one of the given suffixes.
func ExtensionFilter(suffixes ...string) FileFilter {
	return func(path string) bool {
		for _, suffix := range suffixes {
			if strings.HasSuffix(path, suffix) {
				return true
			}
		}
		return false
	}
}

func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

func NoNodeModulesFilter(path string) bool {
	return filepath.Base(path) != "node_modules" && !strings.Contains(filepath.ToSlash(path), "/node_modules/")
}

func NoGitFilter(path string) bool {
	return filepath.Base(path) != ".git" && !strings.Contains(filepath.ToSlash(path), "/.git/")
}
