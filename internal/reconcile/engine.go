package reconcile

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Engine is the reconciliation engine described by component set A-G: it
// owns the declared zones and files, the directory-tree model, the result
// ledger, and the live event-handling state machine. See the package doc
// comment for its concurrency contract.
type Engine struct {
	logger *slog.Logger

	registry WatchRegistry

	zones []DirectoryZone
	files []string
	// zoneOrder lists indices into zones in reverse lexicographic order of
	// BasePath, so every zone comes before any zone whose base is one of its
	// ancestors; computed by calcToWatchDirectories so ownerZoneFor is a
	// single linear scan.
	zoneOrder []int

	nodes     []toWatchDir
	pathIndex map[string]nodeIndex
	rootIdx   nodeIndex

	results        []watchedResult
	resultKeyIndex map[resultKey]resultIndex

	openMoves []openMove

	maxNodes   int
	maxResults int

	watching  bool
	overflow  bool
	startTime time.Time
	stopTime  time.Time

	onResultAction func(WatchedResult)
	onAbort        func(error)
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the engine's logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxNodes caps the number of directory-tree nodes the engine will
// allocate before aborting the session. Zero (the default) means unbounded.
func WithMaxNodes(n int) Option {
	return func(e *Engine) { e.maxNodes = n }
}

// WithMaxResults caps the number of WatchedResults the engine will allocate
// before aborting the session. Zero (the default) means unbounded.
func WithMaxResults(n int) Option {
	return func(e *Engine) { e.maxResults = n }
}

// New constructs an Engine bound to registry. registry is not subscribed to
// until Start is called.
func New(registry WatchRegistry, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		pathIndex:      map[string]nodeIndex{},
		resultKeyIndex: map[resultKey]resultIndex{},
		rootIdx:        noIndex,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddZone declares a new directory zone. It validates BasePath is canonical
// and compiles every filter; on error the engine's state is left unchanged.
// AddZone only takes effect once CalcToWatchDirectories or Start next runs.
func (e *Engine) AddZone(z DirectoryZone) error {
	if !isCanonical(z.BasePath) {
		return configErrorf("zone base path %q is not a canonical absolute path", z.BasePath)
	}
	if z.MaxDepth < 0 {
		return configErrorf("zone %q has negative max depth", z.BasePath)
	}
	for i := range e.zones {
		if e.zones[i].BasePath == z.BasePath {
			return configErrorf("zone %q already declared", z.BasePath)
		}
	}
	for _, fs := range [][]Filter{z.SubdirInclude, z.SubdirExclude, z.FileInclude, z.FileExclude} {
		for i := range fs {
			if err := fs[i].compile(); err != nil {
				return err
			}
		}
	}
	for _, names := range [][]string{z.PinnedFiles, z.PinnedDirs} {
		for _, n := range names {
			if strings.Contains(n, "/") {
				return configErrorf("pinned name %q must not contain '/'", n)
			}
		}
	}
	e.zones = append(e.zones, z)
	return nil
}

// RemoveZone removes the zone declared at basePath. It returns a ConfigError
// if no such zone exists. Like AddZone, it only takes effect on the next
// CalcToWatchDirectories/Start.
func (e *Engine) RemoveZone(basePath string) error {
	for i := range e.zones {
		if e.zones[i].BasePath == basePath {
			e.zones = append(e.zones[:i], e.zones[i+1:]...)
			return nil
		}
	}
	return configErrorf("no zone declared at %q", basePath)
}

// ListZones returns the currently declared zones, in declaration order.
func (e *Engine) ListZones() []DirectoryZone {
	return append([]DirectoryZone(nil), e.zones...)
}

// HasZone reports whether basePath is currently declared as a zone.
func (e *Engine) HasZone(basePath string) bool {
	for i := range e.zones {
		if e.zones[i].BasePath == basePath {
			return true
		}
	}
	return false
}

// AddFile declares an explicit single-file watch. path's parent directory
// becomes a pinned gap filler regardless of any zone's filters.
func (e *Engine) AddFile(path string) error {
	if !isCanonical(path) {
		return configErrorf("file path %q is not a canonical absolute path", path)
	}
	for _, f := range e.files {
		if f == path {
			return configErrorf("file %q already declared", path)
		}
	}
	e.files = append(e.files, path)
	return nil
}

// RemoveFile removes the explicit file watch at path.
func (e *Engine) RemoveFile(path string) error {
	for i, f := range e.files {
		if f == path {
			e.files = append(e.files[:i], e.files[i+1:]...)
			return nil
		}
	}
	return configErrorf("no file declared at %q", path)
}

// ListFiles returns the currently declared explicit files, in declaration
// order.
func (e *Engine) ListFiles() []string {
	return append([]string(nil), e.files...)
}

// HasFile reports whether path is currently declared as an explicit file
// watch.
func (e *Engine) HasFile(path string) bool {
	for _, f := range e.files {
		if f == path {
			return true
		}
	}
	return false
}

// CalcToWatchDirectories runs the §4.D setup algorithm without installing
// any kernel watches: it is the dry-run API callers use to preview the
// forest a given set of zones/files would produce.
func (e *Engine) CalcToWatchDirectories() error {
	return e.calcToWatchDirectories(false)
}

// Start runs setup (installing kernel watches and capturing pre-existing
// children) and subscribes to the watch registry. It is an error to call
// Start twice without an intervening Stop.
func (e *Engine) Start() error {
	if e.watching {
		return fmt.Errorf("reconcile: engine already started")
	}
	e.startTime = time.Now()
	e.stopTime = time.Time{}
	e.overflow = false

	if err := e.calcToWatchDirectories(true); err != nil {
		return err
	}

	e.registry.Subscribe(e.onRegistryEvent)
	e.watching = true
	e.logger.Info("reconcile: session started", slog.Int("zones", len(e.zones)), slog.Int("files", len(e.files)), slog.Int("nodes", len(e.nodes)))
	return nil
}

// Stop tears down every kernel watch, discards any pending open moves, and
// ends the session. It is idempotent: calling Stop on a non-started or
// already-stopped engine is a no-op.
func (e *Engine) Stop() error {
	if !e.watching {
		return nil
	}
	err := e.registry.ClearAll()
	e.openMoves = nil
	e.watching = false
	e.stopTime = time.Now()
	e.logger.Info("reconcile: session stopped", slog.Duration("duration", e.Duration()), slog.Bool("inconsistent", e.HasInconsistencies()))
	return err
}

// Duration reports how long the current (or most recently completed)
// session has run. Before Start it is zero.
func (e *Engine) Duration() time.Duration {
	if e.startTime.IsZero() {
		return 0
	}
	if e.watching {
		return time.Since(e.startTime)
	}
	return e.stopTime.Sub(e.startTime)
}

// IsWatching reports whether the engine currently holds live kernel watches.
func (e *Engine) IsWatching() bool {
	return e.watching
}

// HasInconsistencies reports whether any WatchedResult observed so far was
// flagged inconsistent.
func (e *Engine) HasInconsistencies() bool {
	for i := range e.results {
		if e.results[i].inconsistent {
			return true
		}
	}
	return false
}

// HasQueueOverflown reports whether the watch registry has signalled an
// IN_Q_OVERFLOW-equivalent condition during this session.
func (e *Engine) HasQueueOverflown() bool {
	return e.overflow
}

// Nodes returns the read-only introspection view of every directory-tree
// node, in allocation order.
func (e *Engine) Nodes() []ToWatchDir {
	return e.exportNodes()
}

// RootIndex returns the index, within Nodes(), of the "/" node.
func (e *Engine) RootIndex() int {
	return int(e.rootIdx)
}

// OnResultAction registers the callback invoked every time a WatchedResult
// changes state. A nil callback disables notification. Only one callback is
// supported; a second call replaces the first.
func (e *Engine) OnResultAction(cb func(WatchedResult)) {
	e.onResultAction = cb
}

// OnAbort registers the callback invoked when a fatal watch-registry error
// forces the session to end early. A nil callback disables notification.
func (e *Engine) OnAbort(cb func(error)) {
	e.onAbort = cb
}

// abort stops the session (best-effort) and notifies onAbort.
func (e *Engine) abort(err error) {
	e.logger.Error("reconcile: aborting session", slog.Any("error", err))
	_ = e.Stop()
	if e.onAbort != nil {
		e.onAbort(err)
	}
}
