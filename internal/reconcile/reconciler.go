package reconcile

import "fmt"

// This file implements component F, the live reconciler: the per-event
// entry point that consumes RegistryEvents, mutates the directory-tree
// model and result ledger, and emits live signals. See §4.E.

// onRegistryEvent is the callback the engine subscribes to its WatchRegistry
// with. It is invoked synchronously from within the host's event loop, never
// concurrently with any other Engine method (see the package doc comment).
func (e *Engine) onRegistryEvent(evt RegistryEvent) {
	if evt.Overflow {
		e.overflow = true
		return
	}
	if e.overCapacity() {
		e.abort(fmt.Errorf("reconcile: node/result capacity exceeded"))
		return
	}

	parentIdx, ok := evt.Tag.(nodeIndex)
	if !ok {
		return
	}
	parent := e.node(parentIdx)
	if parent == nil {
		return
	}

	switch evt.Action {
	case EventMovedFrom:
		e.handleRenameFrom(parentIdx, evt)
		return
	case EventMovedTo:
		e.handleRenameTo(parentIdx, evt)
		return
	}

	if evt.Name == "" {
		// Self-change on the watched directory itself. Only ATTRIB on the
		// root carries information: every other node reports changes to
		// itself through events delivered to its parent.
		if evt.Action == EventAttrib && parentIdx == e.rootIdx {
			idx := e.getOrCreateResult(parentIdx, "", true)
			e.recordAction(idx, ActionModify, false, false, false, "")
		}
		return
	}

	childPath := joinPath(parent.path, evt.Name)
	if e.isFilteredOut(parent, evt.Name, childPath, evt.IsDir) {
		return
	}

	kind, causedByAttrib := e.classifyAction(parentIdx, evt, childPath)
	preExisting := findExisting(parent, evt.Name, evt.IsDir) >= 0

	idx := e.getOrCreateResult(parentIdx, evt.Name, evt.IsDir)
	e.recordAction(idx, kind, false, causedByAttrib, preExisting, "")

	if kind == ActionDelete {
		e.markExistingRemoved(parentIdx, evt.Name, evt.IsDir)
	}

	switch {
	case evt.IsDir && kind == ActionCreate:
		e.handleDirCreate(parentIdx, evt.Name, childPath, idx)
	case evt.IsDir && kind == ActionDelete:
		e.handleDirDelete(parentIdx, evt.Name, childPath)
	}
}

// classifyAction maps the kernel's EventAction onto an ActionKind, promoting
// an ATTRIB to a caused-by-attrib Create when it is the first time this
// entity has been observed to exist (§4.E step 8 — non-root-owned processes
// cannot always see a CREATE for an entity that appeared before watching
// began, e.g. a rootfs entry revealed by a permission change).
func (e *Engine) classifyAction(parentIdx nodeIndex, evt RegistryEvent, childPath string) (ActionKind, bool) {
	switch evt.Action {
	case EventCreate:
		return ActionCreate, false
	case EventDelete:
		return ActionDelete, false
	case EventModify:
		return ActionModify, false
	case EventAttrib:
		parent := e.node(parentIdx)
		alreadyKnown := findExisting(parent, evt.Name, evt.IsDir) >= 0 ||
			e.findResult(parentIdx, evt.Name, evt.IsDir) != noIndex
		if !alreadyKnown {
			return ActionCreate, true
		}
		return ActionAttrib, false
	default:
		return ActionModify, false
	}
}

// handleDirCreate implements §4.E step 10: find-or-create the child node,
// detect a missed delete, install a watch, and run the immediate-children
// scan. resultIdx is the WatchedResult just recorded for this Create, so a
// detected missed-delete can be flagged on it directly.
func (e *Engine) handleDirCreate(parentIdx nodeIndex, name, childPath string, resultIdx resultIndex) {
	parent := e.node(parentIdx)

	childIdx := e.findByPath(childPath)
	preExisted := childIdx != noIndex && e.nodes[childIdx].exists
	if childIdx == noIndex {
		childIdx = e.newNode(childPath, parentIdx, true)
	} else {
		e.nodes[childIdx].exists = true
	}

	if preExisted {
		if resultIdx != noIndex {
			e.results[resultIdx].inconsistent = true
		}
		e.nodes[childIdx].existing = nil
	}

	if parent.ownerZone != noIndex && parent.depth >= parent.maxDepth {
		// A leaf tracks that something was created but spawns no deeper
		// watching. A gap filler's own depth/max-depth are synthetic zeros
		// (it belongs to no zone) and never count as a leaf: it exists
		// solely to carry a pinned path down toward a zone base, which must
		// still be reached regardless of how many gap levels precede it.
		return
	}

	if e.nodes[childIdx].slot == noIndex {
		if err := e.installWatch(childIdx); err != nil {
			if isFatal(err) {
				e.abort(err)
			}
			return
		}
	}
	e.immediateScan(childIdx, nil)
}

// handleDirDelete implements §4.E step 11: drop the watch (if any) and clear
// the existing-list, without eagerly pruning descendants — the kernel will
// deliver their own delete events separately.
func (e *Engine) handleDirDelete(parentIdx nodeIndex, name, childPath string) {
	childIdx := e.findByPath(childPath)
	if childIdx == noIndex {
		return
	}
	n := &e.nodes[childIdx]
	if n.slot != noIndex {
		_ = e.registry.RemovePath(n.slot, childIdx)
		n.slot = noIndex
	}
	n.existing = nil
	n.exists = false
}

// immediateScan enumerates idx's directory for entries that appeared
// between the kernel's create event and the watch being installed,
// synthesizing an immediate Create for each one not already known and
// recursing into any subdirectory so discovered. skip, when non-nil, names
// entries a caller has already accounted for (used by the rename walk to
// avoid re-reporting entries the rename itself produced).
func (e *Engine) immediateScan(idx nodeIndex, skip map[string]bool) {
	n := &e.nodes[idx]
	for _, ent := range readDirEntries(n.path) {
		if skip != nil && skip[ent.name] {
			continue
		}
		fullPath := joinPath(n.path, ent.name)
		if e.isFilteredOut(n, ent.name, fullPath, ent.isDir) {
			continue
		}
		if findExisting(n, ent.name, ent.isDir) >= 0 {
			continue
		}

		rIdx := e.getOrCreateResult(idx, ent.name, ent.isDir)
		e.recordAction(rIdx, ActionCreate, true, false, false, "")

		if !ent.isDir || (n.ownerZone != noIndex && n.depth >= n.maxDepth) {
			continue
		}

		childIdx := e.findByPath(fullPath)
		if childIdx == noIndex {
			childIdx = e.newNode(fullPath, idx, true)
		} else {
			e.nodes[childIdx].exists = true
		}
		if e.nodes[childIdx].slot == noIndex {
			if err := e.installWatch(childIdx); err != nil {
				if isFatal(err) {
					e.abort(err)
					return
				}
				continue
			}
		}
		e.immediateScan(childIdx, nil)
	}
}

func (e *Engine) overCapacity() bool {
	if e.maxNodes > 0 && len(e.nodes) > e.maxNodes {
		return true
	}
	if e.maxResults > 0 && len(e.results) > e.maxResults {
		return true
	}
	return false
}
