// Package reconcile implements the filesystem reconciliation engine: it turns
// a declarative set of directory zones and explicit file watches into a
// dynamically maintained forest of inotify-backed directory nodes, and
// produces both a live, causally-ordered stream of observations and a final
// per-path state summary for every name it has ever seen.
//
// The engine is single-threaded and cooperative: every exported method that
// mutates state (AddZone, the event-delivery entry points, Sweep) must be
// called from the same goroutine. It performs no internal synchronization and
// requires none from its host, provided the host never invokes it
// re-entrantly. See Engine for the supported call sequence.
package reconcile

import "time"

// ResultType is the lifecycle state of a WatchedResult.
type ResultType int

const (
	ResultNone ResultType = iota
	ResultCreated
	ResultDeleted
	ResultModified
	ResultTemporary
)

func (t ResultType) String() string {
	switch t {
	case ResultCreated:
		return "Created"
	case ResultDeleted:
		return "Deleted"
	case ResultModified:
		return "Modified"
	case ResultTemporary:
		return "Temporary"
	default:
		return "None"
	}
}

// ActionKind is the kind of a single observed filesystem action.
type ActionKind int

const (
	ActionCreate ActionKind = iota
	ActionDelete
	ActionModify
	ActionAttrib
	ActionRenameFrom
	ActionRenameTo
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "Create"
	case ActionDelete:
		return "Delete"
	case ActionModify:
		return "Modify"
	case ActionAttrib:
		return "Attrib"
	case ActionRenameFrom:
		return "RenameFrom"
	case ActionRenameTo:
		return "RenameTo"
	default:
		return "Unknown"
	}
}

// FilterKind selects how a Filter's Text is interpreted.
type FilterKind int

const (
	// FilterExact matches the target verbatim.
	FilterExact FilterKind = iota
	// FilterRegex matches the target against a regular expression in Go
	// regexp (RE2) syntax; the match must cover the entire target. POSIX
	// basic-regex syntax is not translated (see compile in filter.go).
	FilterRegex
)

// Filter is a single include/exclude rule belonging to a DirectoryZone.
type Filter struct {
	Kind FilterKind
	Text string

	// PathScoped applies the filter to the full path of the candidate
	// instead of its basename. Exposed but never exercised by the
	// upstream CLI this engine's ancestor shipped with; kept and set from
	// the agent's YAML zone configuration (the path_scoped filter field in
	// internal/zoneconfig).
	PathScoped bool

	compiled *regexCache
}

// DirectoryZone is a declarative monitoring unit: a base path, a maximum
// recursion depth, and a set of filters and pinned names that decide which
// descendants of the base are actually tracked.
type DirectoryZone struct {
	BasePath string
	MaxDepth int

	SubdirInclude []Filter
	SubdirExclude []Filter
	FileInclude   []Filter
	FileExclude   []Filter

	PinnedFiles []string
	PinnedDirs  []string

	// MightCrossForbidden is set by setup (calcToWatchDirectories) when
	// BasePath is an ancestor of one of the forbidden prefixes (see ForbiddenPrefixes);
	// it marks every descendant walk as needing the forbidden-prefix check.
	MightCrossForbidden bool
}

// nodeIndex and resultIndex are the stable, append-only indices used
// throughout the package in place of pointers, per the index-graph design
// note: nodes and results must outlive any reference taken to them (watches
// held across renames, the sweeper running after a resize), so every
// cross-reference is an integer offset into an arena, never a pointer.
type nodeIndex int
type resultIndex int

const noIndex = -1

// toWatchDir is a node in the directory-tree model (component C). It
// represents one absolute directory path, whether or not that path currently
// exists on disk and whether or not it currently holds a kernel watch.
type toWatchDir struct {
	path string

	// ownerZone is the index into Engine.zones that owns this node, or
	// noIndex for a gap filler (a node that exists only to connect a
	// zone's base to the root).
	ownerZone int

	parent nodeIndex
	depth  int
	// maxDepth is copied from the owning zone so leaf detection does not
	// need to dereference the zone on every event.
	maxDepth int

	exists bool
	// slot is the watch-registry slot holding this node's kernel watch,
	// or noIndex if the node is not currently watched.
	slot int

	pinnedFiles map[string]bool
	pinnedDirs  map[string]bool

	children []nodeIndex
	results  []resultIndex

	// existing holds entries discovered by the pre-existing-children scan
	// (captureExisting) run at setup right after the watch for this node
	// was installed, plus names carried over from the source directory of
	// a rename: names that existed before the watch went live and have not
	// yet been reported as deleted.
	existing []existingEntry
}

type existingEntry struct {
	name    string
	isDir   bool
	removed bool
}

// actionData is a single observed event appended to a watchedResult.
type actionData struct {
	kind          ActionKind
	otherPath     string // populated for RenameFrom/RenameTo
	immediate     bool
	causedByAttrib bool
	atMicros      int64 // microseconds since session start
}

// ActionData is the read-only, exported view of actionData handed to
// observers via OnResultAction and the Results() introspection call.
type ActionData struct {
	Kind           ActionKind
	OtherPath      string
	Immediate      bool
	CausedByAttrib bool
	AtMicros       int64
}

// watchedResult is the mutable, internal record keyed by (parent path, name,
// is-dir) that the ledger (component D) owns.
type watchedResult struct {
	resultType    ResultType
	parentPath    string
	name          string
	isDir         bool
	inconsistent  bool
	actions       []actionData
}

// WatchedResult is the read-only, exported view of watchedResult.
type WatchedResult struct {
	Type         ResultType
	ParentPath   string
	Name         string
	IsDir        bool
	Inconsistent bool
	Actions      []ActionData
}

// Path reconstructs the full path this result refers to.
func (r WatchedResult) Path() string {
	return joinPath(r.ParentPath, r.Name)
}

// ExistedAtStart reports whether this entity is believed to have existed
// before the watching session began.
func (r WatchedResult) ExistedAtStart() bool {
	return r.Type == ResultDeleted || r.Type == ResultModified
}

// ExistsNow reports whether this entity is believed to currently exist.
func (r WatchedResult) ExistsNow() bool {
	return r.Type == ResultCreated || r.Type == ResultModified
}

// Immediate reports whether the most recent action was synthesized by an
// immediate-children scan rather than delivered by the kernel.
func (r WatchedResult) Immediate() bool {
	if len(r.Actions) == 0 {
		return false
	}
	return r.Actions[len(r.Actions)-1].Immediate
}

// openMove is a pending, unpaired RenameFrom awaiting its RenameTo partner.
type openMove struct {
	parent     nodeIndex
	node       nodeIndex // only meaningful when isDir
	isDir      bool
	name       string
	fullPath   string
	cookie     uint32
	fromMicros int64
	filteredOut bool
}

// ToWatchDir is the read-only, exported view of a directory-tree node used
// by introspection callers.
type ToWatchDir struct {
	Path     string
	ZoneIdx  int
	Parent   int
	Depth    int
	MaxDepth int
	Exists   bool
	Watched  bool
	Children []int
}

// microsSince returns microseconds elapsed since t, used throughout the package for
// ActionData.AtMicros and the sweeper's wall-clock horizon check.
func microsSince(t time.Time) int64 {
	return time.Since(t).Microseconds()
}
