package reconcile

// This file implements component D, the result ledger: looking up or
// creating the WatchedResult for a (parent, name, is-dir) key, applying the
// §3 result-type transition table, and emitting the on_result_action signal.

// getOrCreateResult returns the index of the result keyed by (parentIdx,
// name, isDir), creating it (with type None) if absent, and links it into
// parentIdx's node so introspection can enumerate a directory's observed
// children.
func (e *Engine) getOrCreateResult(parentIdx nodeIndex, name string, isDir bool) resultIndex {
	if idx := e.findResult(parentIdx, name, isDir); idx != noIndex {
		return idx
	}

	p := e.node(parentIdx)
	r := watchedResult{
		resultType: ResultNone,
		parentPath: p.path,
		name:       name,
		isDir:      isDir,
	}
	idx := resultIndex(len(e.results))
	e.results = append(e.results, r)
	e.resultKeyIndex[resultKey{parentPath: p.path, name: name, isDir: isDir}] = idx
	p.results = append(p.results, idx)
	return idx
}

// applyTransition implements the §3 result-type transition table, for the
// cases not already special-cased by recordAction's duplicate-create
// handling below. It returns the new type and whether this transition
// should be flagged inconsistent.
func applyTransition(prev ResultType, kind ActionKind) (next ResultType, inconsistent bool) {
	isCreate := kind == ActionCreate
	isDelete := kind == ActionDelete
	isModify := kind == ActionModify || kind == ActionAttrib

	switch prev {
	case ResultNone:
		switch {
		case isCreate:
			return ResultCreated, false
		case isDelete:
			return ResultDeleted, true
		case isModify:
			return ResultModified, true
		}
	case ResultCreated:
		switch {
		case isDelete:
			return ResultTemporary, false
		case isModify:
			return ResultCreated, false
		}
	case ResultModified:
		switch {
		case isDelete:
			return ResultDeleted, false
		case isModify:
			return ResultModified, false
		}
	case ResultDeleted:
		switch {
		case isCreate:
			return ResultModified, false
		case isModify:
			return ResultModified, true
		case isDelete:
			return ResultDeleted, true
		}
	case ResultTemporary:
		switch {
		case isCreate:
			return ResultCreated, false
		case isModify:
			return ResultTemporary, true
		case isDelete:
			return ResultTemporary, true
		}
	}
	return prev, true
}

// recordAction applies kind to the result at idx per the transition table,
// appends the ActionData, and emits on_result_action. otherPath/causedByAttrib
// are only meaningful for rename/attrib-promoted actions; pass "" / false
// otherwise. preExisting reports whether this name was present in the
// parent's pre-existing-children list when kind is Create on a result that
// has recorded no action yet — the "missed delete" case: the kernel never
// told us this entity was removed, so its reappearance is suspect even
// though nothing in this session's own history contradicts it (§4.E step
// 10, §8 scenario S6).
//
// Create on an already Created/Modified result is the "duplicate create"
// case from §3: if the result's most recent action was itself synthesized
// by an immediate-children scan, this real kernel create is simply
// confirming an entity the engine already knows about, so it is absorbed
// silently (no new action, no re-emission, no inconsistency) rather than
// reported a second time (§4.E step 12). Absent a prior immediate action, a
// duplicate create is a genuine anomaly and is recorded as inconsistent.
func (e *Engine) recordAction(idx resultIndex, kind ActionKind, immediate, causedByAttrib, preExisting bool, otherPath string) {
	r := &e.results[idx]

	if kind == ActionCreate && (r.resultType == ResultCreated || r.resultType == ResultModified) {
		priorImmediate := len(r.actions) > 0 && r.actions[len(r.actions)-1].immediate
		if priorImmediate && !immediate {
			return
		}
		r.inconsistent = true
		r.actions = append(r.actions, actionData{
			kind:      kind,
			immediate: immediate,
			atMicros:  microsSince(e.startTime),
		})
		e.emit(idx)
		return
	}

	if r.resultType == ResultNone && preExisting {
		switch kind {
		case ActionCreate:
			// The kernel never reported this name being removed, yet it
			// already had a pre-existing-children record: treat it as the
			// entity persisting (Modified), flagged inconsistent because a
			// Delete was expected somewhere in between and never arrived.
			r.resultType = ResultModified
			r.inconsistent = true
			r.actions = append(r.actions, actionData{kind: kind, atMicros: microsSince(e.startTime)})
			e.emit(idx)
			return
		case ActionModify, ActionAttrib:
			// A Modify/Attrib on an entity already known to have existed at
			// session start is expected, not a race (§3).
			r.resultType = ResultModified
			r.actions = append(r.actions, actionData{kind: kind, causedByAttrib: causedByAttrib, atMicros: microsSince(e.startTime)})
			e.emit(idx)
			return
		}
	}

	next, inconsistent := applyTransition(r.resultType, kind)
	r.resultType = next
	if inconsistent {
		r.inconsistent = true
	}
	r.actions = append(r.actions, actionData{
		kind:           kind,
		otherPath:      otherPath,
		immediate:      immediate,
		causedByAttrib: causedByAttrib,
		atMicros:       microsSince(e.startTime),
	})
	e.emit(idx)
}

func (e *Engine) emit(idx resultIndex) {
	if e.onResultAction == nil {
		return
	}
	e.onResultAction(e.exportResult(idx))
}

func (e *Engine) exportResult(idx resultIndex) WatchedResult {
	r := e.results[idx]
	actions := make([]ActionData, len(r.actions))
	for i, a := range r.actions {
		actions[i] = ActionData{
			Kind:           a.kind,
			OtherPath:      a.otherPath,
			Immediate:      a.immediate,
			CausedByAttrib: a.causedByAttrib,
			AtMicros:       a.atMicros,
		}
	}
	return WatchedResult{
		Type:         r.resultType,
		ParentPath:   r.parentPath,
		Name:         r.name,
		IsDir:        r.isDir,
		Inconsistent: r.inconsistent,
		Actions:      actions,
	}
}

// Results returns the read-only view of every WatchedResult observed so far,
// in the order they were first created.
func (e *Engine) Results() []WatchedResult {
	out := make([]WatchedResult, len(e.results))
	for i := range e.results {
		out[i] = e.exportResult(resultIndex(i))
	}
	return out
}
