package reconcile

// This file implements component C, the directory-tree model: the
// append-only arena of toWatchDir nodes and the lookup/mutation operations
// that keep it coherent as declared zones are translated into a concrete
// forest rooted at "/".

func (e *Engine) node(idx nodeIndex) *toWatchDir {
	if idx == noIndex {
		return nil
	}
	return &e.nodes[idx]
}

// findByPath returns the index of the node for path, or noIndex.
func (e *Engine) findByPath(path string) nodeIndex {
	if idx, ok := e.pathIndex[path]; ok {
		return idx
	}
	return noIndex
}

// findChild returns the index of parentIdx's child node at childPath, or
// noIndex.
func (e *Engine) findChild(parentIdx nodeIndex, childPath string) nodeIndex {
	p := e.node(parentIdx)
	if p == nil {
		return noIndex
	}
	for _, c := range p.children {
		if e.nodes[c].path == childPath {
			return c
		}
	}
	return noIndex
}

type resultKey struct {
	parentPath string
	name       string
	isDir      bool
}

// findResult returns the index of the WatchedResult keyed by
// (parentIdx.path, name, isDir), or noIndex.
func (e *Engine) findResult(parentIdx nodeIndex, name string, isDir bool) resultIndex {
	p := e.node(parentIdx)
	if p == nil {
		return noIndex
	}
	key := resultKey{parentPath: p.path, name: name, isDir: isDir}
	if idx, ok := e.resultKeyIndex[key]; ok {
		return idx
	}
	return noIndex
}

// ownerZoneFor implements the owner-zone assignment rule of §3: iterate
// zones from deepest (largest base path) to shallowest; the first zone whose
// max depth covers path's relative depth wins. A path matching no zone is a
// gap filler (owner == noIndex).
//
// e.zoneOrder is pre-sorted in reverse lexicographic order of BasePath, which
// puts every zone before the zones whose bases are its ancestors, so this is
// a single linear scan.
func (e *Engine) ownerZoneFor(path string) (zoneIdx int, depth int) {
	for _, zi := range e.zoneOrder {
		z := &e.zones[zi]
		d := depthUnder(z.BasePath, path)
		if d >= 0 && d <= z.MaxDepth {
			return zi, d
		}
	}
	return noIndex, 0
}

// newNode allocates a node in the arena and indexes it by path. Callers are
// responsible for wiring parent/children links.
func (e *Engine) newNode(path string, parent nodeIndex, exists bool) nodeIndex {
	zoneIdx, depth := e.ownerZoneFor(path)
	maxDepth := 0
	if zoneIdx != noIndex {
		maxDepth = e.zones[zoneIdx].MaxDepth
	}
	n := toWatchDir{
		path:        path,
		ownerZone:   zoneIdx,
		parent:      parent,
		depth:       depth,
		maxDepth:    maxDepth,
		exists:      exists,
		slot:        noIndex,
		pinnedFiles: map[string]bool{},
		pinnedDirs:  map[string]bool{},
	}
	if zoneIdx != noIndex {
		z := &e.zones[zoneIdx]
		for _, name := range z.PinnedFiles {
			n.pinnedFiles[name] = true
		}
		for _, name := range z.PinnedDirs {
			n.pinnedDirs[name] = true
		}
	}
	idx := nodeIndex(len(e.nodes))
	e.nodes = append(e.nodes, n)
	e.pathIndex[path] = idx
	if parent != noIndex {
		e.nodes[parent].children = append(e.nodes[parent].children, idx)
	}
	return idx
}

// addExisting appends a new node for path with exists=true, computing its
// owner zone. It does not wire ancestors; callers that need the full
// ancestor chain materialized should use fillGap instead.
func (e *Engine) addExisting(path string, parent nodeIndex) nodeIndex {
	if idx := e.findByPath(path); idx != noIndex {
		e.nodes[idx].exists = true
		return idx
	}
	return e.newNode(path, parent, true)
}

// fillGap implements §4.C fill_gap: idempotently ensures a node for path
// exists, recursing up to "/". If childIdx is valid, path's node records
// childIdx's name in its pinned-subdirs set and child list, so a gap-filler
// or zone-base node always knows which of its children leads toward a
// deeper zone.
func (e *Engine) fillGap(childIdx nodeIndex, path string) nodeIndex {
	if idx := e.findByPath(path); idx != noIndex {
		e.linkGapChild(idx, childIdx)
		return idx
	}

	var parent nodeIndex
	if path == "/" {
		parent = noIndex
	} else {
		parent = e.fillGap(noIndex, parentPath(path))
	}

	idx := e.newNode(path, parent, pathExists(path))
	if parent != noIndex {
		e.linkGapChild(parent, idx)
	}
	e.linkGapChild(idx, childIdx)
	return idx
}

// linkGapChild records childIdx as a pinned-subdir of idx's node so that a
// gap filler along the way to a deeper zone always treats that path segment
// as pinned (bypassing filters that would otherwise hide it, since gap
// fillers themselves return "filtered out" for everything except pinned
// names).
func (e *Engine) linkGapChild(idx, childIdx nodeIndex) {
	if childIdx == noIndex {
		return
	}
	child := e.node(childIdx)
	if child == nil {
		return
	}
	_, name := splitPath(child.path)
	n := &e.nodes[idx]
	n.pinnedDirs[name] = true
	for _, c := range n.children {
		if c == childIdx {
			return
		}
	}
	n.children = append(n.children, childIdx)
}

// markExistingRemoved flags name/isDir as removed in parentIdx's
// pre-existing-children list, if present, so a later Create for the same
// name is no longer treated as a missed-delete reappearance.
func (e *Engine) markExistingRemoved(parentIdx nodeIndex, name string, isDir bool) {
	p := e.node(parentIdx)
	if p == nil {
		return
	}
	for i := range p.existing {
		if p.existing[i].name == name && p.existing[i].isDir == isDir {
			p.existing[i].removed = true
			return
		}
	}
}

// exportNodes returns the read-only introspection view of every node.
func (e *Engine) exportNodes() []ToWatchDir {
	out := make([]ToWatchDir, len(e.nodes))
	for i, n := range e.nodes {
		children := make([]int, len(n.children))
		for j, c := range n.children {
			children[j] = int(c)
		}
		out[i] = ToWatchDir{
			Path:     n.path,
			ZoneIdx:  n.ownerZone,
			Parent:   int(n.parent),
			Depth:    n.depth,
			MaxDepth: n.maxDepth,
			Exists:   n.exists,
			Watched:  n.slot != noIndex,
			Children: children,
		}
	}
	return out
}
