package reconcile

import "sort"

// This file implements component E, initial setup: §4.D's six-step
// algorithm that turns declared zones and explicit files into the initial
// forest, optionally installing watches and capturing pre-existing children.

// calcToWatchDirectories runs initial setup without installing any watches
// (the Dry-run API, CalcToWatchDirectories). install, when true, additionally
// performs step 6: install inotify watches and capture pre-existing
// children via directory scan.
func (e *Engine) calcToWatchDirectories(install bool) error {
	// Reset any state from a previous dry run so CalcToWatchDirectories is
	// idempotent when called twice without intervening mutation.
	e.nodes = nil
	e.pathIndex = make(map[string]nodeIndex)
	e.results = nil
	e.resultKeyIndex = make(map[resultKey]resultIndex)

	// Step 1: reject zones whose base itself is a forbidden prefix; mark
	// zones whose base is an ancestor of one as possibly crossing it.
	for i := range e.zones {
		z := &e.zones[i]
		for _, prefix := range ForbiddenPrefixes {
			if z.BasePath == prefix || isAncestorOrSelf(z.BasePath, prefix) {
				if z.BasePath == prefix {
					return configErrorf("zone base path %q is a forbidden prefix", z.BasePath)
				}
				z.MightCrossForbidden = true
			}
		}
	}

	// Step 2: sort zones lexicographically by base path.
	order := make([]int, len(e.zones))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return e.zones[order[i]].BasePath < e.zones[order[j]].BasePath })
	e.zoneOrder = make([]int, len(order))
	// ownerZoneFor wants deepest (longest base path) first.
	for i, zi := range order {
		e.zoneOrder[len(order)-1-i] = zi
	}

	// Step 3: for each zone, fill_gap its base path, creating ancestors to "/".
	for _, zi := range order {
		e.fillGap(noIndex, e.zones[zi].BasePath)
	}

	// Step 4: for each explicit file, fill_gap its parent and pin the
	// basename.
	for _, f := range e.files {
		parent := e.fillGap(noIndex, parentPath(f))
		_, name := splitPath(f)
		e.nodes[parent].pinnedFiles[name] = true
	}

	// Ensure root always has a node, even with no zones/files declared.
	if e.findByPath("/") == noIndex {
		e.fillGap(noIndex, "/")
	}
	e.rootIdx = e.findByPath("/")

	// Step 5: for each zone, recursively descend enumerating existing
	// subdirectories, stopping at max depth (leaves).
	for _, zi := range order {
		z := &e.zones[zi]
		baseIdx := e.findByPath(z.BasePath)
		if baseIdx == noIndex || !pathExists(z.BasePath) {
			continue
		}
		e.nodes[baseIdx].exists = true
		e.descendExisting(baseIdx)
	}

	// Step 6: if requested, install watches for every existing node and
	// capture pre-existing children. Ordering is critical: install the
	// watch, then enumerate children, so a race creates extra events rather
	// than lost ones.
	if install {
		for idx := range e.nodes {
			n := &e.nodes[idx]
			if !n.exists || n.slot != noIndex {
				continue
			}
			if err := e.installWatch(nodeIndex(idx)); err != nil {
				if isFatal(err) {
					return err
				}
				// Non-fatal: node stays in the model unwatched.
				continue
			}
			e.captureExisting(nodeIndex(idx))
		}
	}

	return nil
}

// descendExisting recursively visits existing subdirectories of parentIdx,
// creating a node for each one not filtered out, until the owning zone's
// max depth is reached (a leaf does not spawn further children).
func (e *Engine) descendExisting(parentIdx nodeIndex) {
	p := &e.nodes[parentIdx]
	if p.depth >= p.maxDepth {
		return
	}

	for _, ent := range readDirEntries(p.path) {
		if !ent.isDir {
			continue
		}
		childPath := joinPath(p.path, ent.name)
		if e.isFilteredOut(p, ent.name, childPath, true) {
			continue
		}

		childIdx := e.findChild(parentIdx, childPath)
		if childIdx == noIndex {
			childIdx = e.newNode(childPath, parentIdx, true)
		} else {
			e.nodes[childIdx].exists = true
		}
		e.descendExisting(childIdx)
	}
}

// installWatch installs a kernel watch for node idx, tagging it with idx
// itself so the live reconciler can resolve events back to this node in O(1).
func (e *Engine) installWatch(idx nodeIndex) error {
	n := &e.nodes[idx]
	slot, err := e.registry.AddPath(n.path, idx)
	if err != nil {
		return err
	}
	n.slot = slot
	return nil
}

// captureExisting performs the "pre-existing children" scan: it records
// every entry currently in the directory into the node's existing-list so a
// later delete without a matching create can be recognised as a real change
// rather than a spurious one.
func (e *Engine) captureExisting(idx nodeIndex) {
	n := &e.nodes[idx]
	for _, ent := range readDirEntries(n.path) {
		fullPath := joinPath(n.path, ent.name)
		if e.isFilteredOut(n, ent.name, fullPath, ent.isDir) {
			continue
		}
		n.existing = append(n.existing, existingEntry{name: ent.name, isDir: ent.isDir})
	}
}

// findExisting returns the index into n.existing for name/isDir, or -1.
func findExisting(n *toWatchDir, name string, isDir bool) int {
	for i, ex := range n.existing {
		if ex.name == name && ex.isDir == isDir && !ex.removed {
			return i
		}
	}
	return -1
}
