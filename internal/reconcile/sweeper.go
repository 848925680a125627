package reconcile

// This file implements component G's timer side: §4.G's open-move sweeper.
// The engine arms no timer itself (see §5 — cancellation & timeouts); a host
// is expected to call Sweep roughly every CheckIntervalMillis so pending
// OpenMoves older than sweepHorizonMicros without a matching MOVED_TO are
// resolved as a move to outside the watched area.

const (
	// sweepHorizonMicros is the 200µs age, measured against the recorded
	// from-timestamp, past which an unpaired OpenMove is given up on.
	sweepHorizonMicros = 200
	// CheckIntervalMillis documents the ~1ms cadence a host should drive
	// Sweep at. It is not enforced by the engine itself.
	CheckIntervalMillis = 1
)

// Sweep resolves every pending OpenMove whose from-timestamp is more than
// sweepHorizonMicros in the past as a rename to outside the watched area,
// invoking traverseRename with an empty destination side. It is cheap to
// call when there are no pending moves and safe to call at any cadence; the
// horizon is a wall-clock comparison against recorded timestamps, not a
// per-move deadline timer (§5).
func (e *Engine) Sweep() {
	if len(e.openMoves) == 0 {
		return
	}
	now := microsSince(e.startTime)
	remaining := e.openMoves[:0:0]
	for _, mv := range e.openMoves {
		if now-mv.fromMicros < sweepHorizonMicros {
			remaining = append(remaining, mv)
			continue
		}
		e.traverseRename(fromSideOf(mv), emptySide, mv.isDir)
	}
	e.openMoves = remaining
}
