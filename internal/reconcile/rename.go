package reconcile

// This file implements the rest of component F: pairing MOVED_FROM/MOVED_TO
// events and the rename coordinator's subtree walk, component G. See §4.E
// steps 5-6 and §4.F.

// renameSide describes one end of a rename. valid reports whether this side
// should produce a reported WatchedResult (a side that was filtered out at
// the time of the MOVED_FROM, or that doesn't exist because the move
// crossed the watched area's boundary, is !valid but its parent/fullPath
// are still meaningful for tree bookkeeping).
type renameSide struct {
	valid    bool
	parent   nodeIndex
	name     string
	fullPath string
}

var emptySide = renameSide{}

// handleRenameFrom implements §4.E step 5: buffer an OpenMove and, for an
// unfiltered directory, eagerly locate-or-create its ToWatchDir so the
// watch can be carried across the rename even before the MOVED_TO arrives.
func (e *Engine) handleRenameFrom(parentIdx nodeIndex, evt RegistryEvent) {
	parent := e.node(parentIdx)
	fullPath := joinPath(parent.path, evt.Name)
	filteredOut := e.isFilteredOut(parent, evt.Name, fullPath, evt.IsDir)

	mv := openMove{
		parent:      parentIdx,
		node:        noIndex,
		isDir:       evt.IsDir,
		name:        evt.Name,
		fullPath:    fullPath,
		cookie:      evt.RenameCookie,
		fromMicros:  microsSince(e.startTime),
		filteredOut: filteredOut,
	}
	if evt.IsDir && !filteredOut {
		mv.node = e.findByPath(fullPath)
		if mv.node == noIndex {
			mv.node = e.newNode(fullPath, parentIdx, true)
		}
	}
	e.openMoves = append(e.openMoves, mv)
}

// handleRenameTo implements §4.E step 6: pair with a pending OpenMove by
// cookie, or treat this as a move originating from outside the watched area
// when no match is found.
func (e *Engine) handleRenameTo(parentIdx nodeIndex, evt RegistryEvent) {
	parent := e.node(parentIdx)
	toSide := renameSide{valid: true, parent: parentIdx, name: evt.Name, fullPath: joinPath(parent.path, evt.Name)}

	for i, mv := range e.openMoves {
		if mv.cookie == evt.RenameCookie {
			e.openMoves = append(e.openMoves[:i], e.openMoves[i+1:]...)
			e.traverseRename(fromSideOf(mv), toSide, evt.IsDir)
			return
		}
	}
	e.traverseRename(emptySide, toSide, evt.IsDir)
}

func fromSideOf(mv openMove) renameSide {
	return renameSide{valid: !mv.filteredOut, parent: mv.parent, name: mv.name, fullPath: mv.fullPath}
}

// traverseRename implements §4.F: record the source/destination
// WatchedResults, then, for a directory, transfer or drop the watch and
// recurse into every child the rename carried along.
func (e *Engine) traverseRename(from, to renameSide, isDir bool) {
	if from.valid {
		idx := e.getOrCreateResult(from.parent, from.name, isDir)
		e.recordRenameAction(idx, ActionRenameFrom, to.fullPath)
	}
	if to.valid {
		idx := e.getOrCreateResult(to.parent, to.name, isDir)
		e.recordRenameAction(idx, ActionRenameTo, from.fullPath)
	}
	if !isDir {
		return
	}

	var fromNode, toNode nodeIndex = noIndex, noIndex
	if from.fullPath != "" {
		fromNode = e.findByPath(from.fullPath)
	}
	if to.fullPath != "" {
		toNode = e.findByPath(to.fullPath)
		toParent := e.node(to.parent)
		if toNode == noIndex {
			if toParent != nil && (toParent.ownerZone == noIndex || toParent.depth < toParent.maxDepth) {
				toNode = e.newNode(to.fullPath, to.parent, true)
			}
		} else if e.nodes[toNode].exists {
			// A destination already present in the model indicates a
			// missed delete there.
			if ridx := e.findResult(to.parent, to.name, true); ridx != noIndex {
				e.results[ridx].inconsistent = true
			}
			if e.nodes[toNode].slot != noIndex {
				_ = e.registry.RemovePath(e.nodes[toNode].slot, toNode)
				e.nodes[toNode].slot = noIndex
			}
			e.nodes[toNode].existing = nil
		}
	}

	watchTransferred := false
	if fromNode != noIndex && e.nodes[fromNode].slot != noIndex {
		fromSlot := e.nodes[fromNode].slot
		if toNode != noIndex {
			if err := e.registry.RenamePath(fromSlot, fromNode, toNode); err == nil {
				e.nodes[toNode].slot = fromSlot
				e.nodes[fromNode].slot = noIndex
				watchTransferred = true
			}
		} else {
			_ = e.registry.RemovePath(fromSlot, fromNode)
			e.nodes[fromNode].slot = noIndex
		}
	}
	if fromNode != noIndex {
		e.nodes[fromNode].exists = false
	}
	if toNode != noIndex {
		e.nodes[toNode].exists = true
	}

	visited := map[string]bool{}
	if fromNode != noIndex {
		for _, c := range append([]nodeIndex(nil), e.nodes[fromNode].children...) {
			if e.nodes[c].slot == noIndex {
				continue
			}
			_, name := splitPath(e.nodes[c].path)
			if visited[name] {
				continue
			}
			visited[name] = true
			e.walkRenameChild(fromNode, toNode, name, true)
		}
		for _, ridx := range append([]resultIndex(nil), e.nodes[fromNode].results...) {
			r := e.results[ridx]
			if visited[r.name] {
				continue
			}
			visited[r.name] = true
			e.walkRenameChild(fromNode, toNode, r.name, r.isDir)
		}
		for _, ex := range e.nodes[fromNode].existing {
			if ex.removed || visited[ex.name] {
				continue
			}
			visited[ex.name] = true
			e.walkRenameChild(fromNode, toNode, ex.name, ex.isDir)
		}
	}

	if toNode != noIndex && !watchTransferred && e.nodes[toNode].slot == noIndex {
		toParent := e.node(to.parent)
		if toParent != nil && (toParent.ownerZone == noIndex || toParent.depth < toParent.maxDepth) {
			if err := e.installWatch(toNode); err != nil {
				if isFatal(err) {
					e.abort(err)
				}
			} else {
				e.immediateScan(toNode, visited)
			}
		}
	}
}

// walkRenameChild resolves whether name is filter-visible on each side of
// the rename and recurses with the reduced sides (§4.F step 5). A name
// filtered out on the destination but present on the source is instead
// added to the destination's existing-list so a later delete there can
// still be recognised as a real change.
func (e *Engine) walkRenameChild(fromNode, toNode nodeIndex, name string, isDir bool) {
	fromParent := e.node(fromNode)
	fromFull := joinPath(fromParent.path, name)
	fromVisible := !e.isFilteredOut(fromParent, name, fromFull, isDir)
	fromSide := emptySide
	if fromVisible {
		fromSide = renameSide{valid: true, parent: fromNode, name: name, fullPath: fromFull}
	}

	toSide := emptySide
	if toNode != noIndex {
		toParent := e.node(toNode)
		toFull := joinPath(toParent.path, name)
		toVisible := !e.isFilteredOut(toParent, name, toFull, isDir)
		if toVisible {
			toSide = renameSide{valid: true, parent: toNode, name: name, fullPath: toFull}
		} else if fromVisible {
			e.nodes[toNode].existing = append(e.nodes[toNode].existing, existingEntry{name: name, isDir: isDir})
		}
	}

	if !fromSide.valid && !toSide.valid {
		return
	}
	e.traverseRename(fromSide, toSide, isDir)
}

// recordRenameAction records a RenameFrom/RenameTo ActionData, basing the
// result-type transition on the existence-like kind the rename direction
// implies (RenameFrom behaves like a Delete for typing purposes, RenameTo
// like a Create), per §4.F step 1-2.
func (e *Engine) recordRenameAction(idx resultIndex, kind ActionKind, otherPath string) {
	r := &e.results[idx]
	transitionKind := ActionDelete
	if kind == ActionRenameTo {
		transitionKind = ActionCreate
	}
	next, inconsistent := applyTransition(r.resultType, transitionKind)
	r.resultType = next
	if inconsistent {
		r.inconsistent = true
	}
	r.actions = append(r.actions, actionData{
		kind:      kind,
		otherPath: otherPath,
		atMicros:  microsSince(e.startTime),
	})
	e.emit(idx)
}
