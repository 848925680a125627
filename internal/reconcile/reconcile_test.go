package reconcile_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fofimon/reconciler/internal/reconcile"
)

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %q: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func findResult(t *testing.T, results []reconcile.WatchedResult, path string, isDir bool) reconcile.WatchedResult {
	t.Helper()
	for _, r := range results {
		if r.Path() == path && r.IsDir == isDir {
			return r
		}
	}
	t.Fatalf("no result for %q (dir=%v) among %d results", path, isDir, len(results))
	return reconcile.WatchedResult{}
}

// newEngine builds an Engine over a RegistryFake, with the given zones
// declared, and starts it. t.Cleanup stops it.
func newEngine(t *testing.T, zones []reconcile.DirectoryZone) (*reconcile.Engine, *reconcile.RegistryFake) {
	t.Helper()
	reg := reconcile.NewRegistryFake()
	eng := reconcile.New(reg)
	for _, z := range zones {
		if err := eng.AddZone(z); err != nil {
			t.Fatalf("AddZone(%q): %v", z.BasePath, err)
		}
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop() })
	return eng, reg
}

// TestFilterIncludeSubdir exercises scenario S1: a shallow zone over a base
// directory plus a deeper zone restricted to a single included subdirectory
// name, verifying that only in-scope modifications produce results.
func TestFilterIncludeSubdir(t *testing.T) {
	base := t.TempDir()
	b12 := filepath.Join(base, "A1", "B12")
	for _, sub := range []string{"C121", "C122", "C123"} {
		mustMkdirAll(t, filepath.Join(b12, sub))
		mustWriteFile(t, filepath.Join(b12, sub, "x.txt"))
	}
	a2b21c211 := filepath.Join(base, "A2", "B21", "C211")
	mustMkdirAll(t, a2b21c211)
	mustWriteFile(t, filepath.Join(a2b21c211, "x.txt"))

	eng, reg := newEngine(t, []reconcile.DirectoryZone{
		{BasePath: base, MaxDepth: 1},
		{BasePath: b12, MaxDepth: 1, SubdirInclude: []reconcile.Filter{{Kind: reconcile.FilterExact, Text: "C123"}}},
	})

	// Modify under a subdirectory never reached (A2 is a depth-1 leaf under
	// the base zone; B21 lies one level deeper and has no watch).
	if reg.DeliverEvent(filepath.Join(base, "A2", "B21"), "C211", true, reconcile.EventModify, 0) {
		t.Fatalf("unexpected watch on %s", filepath.Join(base, "A2", "B21"))
	}

	// Modify on the included subdirectory's file: in scope.
	if !reg.DeliverEvent(filepath.Join(b12, "C123"), "x.txt", false, reconcile.EventModify, 0) {
		t.Fatalf("expected a watch on %s", filepath.Join(b12, "C123"))
	}
	// Modify on an excluded subdirectory's file: no watch was ever installed
	// there, so the kernel could never have reported this either.
	if reg.DeliverEvent(filepath.Join(b12, "C121"), "x.txt", false, reconcile.EventModify, 0) {
		t.Fatalf("unexpected watch on %s", filepath.Join(b12, "C121"))
	}

	mustWriteFile(t, filepath.Join(base, "A2", "x2.txt"))
	if !reg.DeliverEvent(filepath.Join(base, "A2"), "x2.txt", false, reconcile.EventCreate, 0) {
		t.Fatalf("expected a watch on %s", filepath.Join(base, "A2"))
	}
	os.Remove(filepath.Join(base, "A2", "x2.txt"))
	reg.DeliverEvent(filepath.Join(base, "A2"), "x2.txt", false, reconcile.EventDelete, 0)

	results := eng.Results()
	if len(results) != 2 {
		t.Fatalf("expected exactly 2 results, got %d: %+v", len(results), results)
	}

	modified := findResult(t, results, filepath.Join(b12, "C123", "x.txt"), false)
	if modified.Type != reconcile.ResultModified {
		t.Errorf("C123/x.txt: got %s, want Modified", modified.Type)
	}
	if modified.Inconsistent {
		t.Errorf("C123/x.txt: unexpectedly flagged inconsistent")
	}

	temp := findResult(t, results, filepath.Join(base, "A2", "x2.txt"), false)
	if temp.Type != reconcile.ResultTemporary {
		t.Errorf("A2/x2.txt: got %s, want Temporary", temp.Type)
	}
}

// TestMissedDeleteInconsistency exercises scenario S6: a Create arrives for
// a directory sharing the name of one already known to exist, without an
// intervening Delete — this must be flagged inconsistent and typed
// Modified, not Created.
func TestMissedDeleteInconsistency(t *testing.T) {
	base := t.TempDir()
	mustMkdirAll(t, filepath.Join(base, "foo"))
	mustWriteFile(t, filepath.Join(base, "bar.txt"))

	eng, reg := newEngine(t, []reconcile.DirectoryZone{
		{BasePath: base, MaxDepth: 2},
	})

	// A Delete is the first action ever recorded against bar.txt's result
	// (None -> Deleted is unconditionally inconsistent per the transition
	// table, regardless of the pre-existing-children record).
	os.Remove(filepath.Join(base, "bar.txt"))
	if !reg.DeliverEvent(base, "bar.txt", false, reconcile.EventDelete, 0) {
		t.Fatalf("expected a watch on %s", base)
	}

	// The kernel never told us "foo" was removed, but a Create for "foo"
	// (same name, directory) now arrives.
	if !reg.DeliverEvent(base, "foo", true, reconcile.EventCreate, 0) {
		t.Fatalf("expected a watch on %s", base)
	}

	results := eng.Results()
	barResult := findResult(t, results, filepath.Join(base, "bar.txt"), false)
	if !barResult.Inconsistent {
		t.Errorf("bar.txt: expected inconsistent flag")
	}
	if barResult.Type != reconcile.ResultDeleted {
		t.Errorf("bar.txt: got %s, want Deleted", barResult.Type)
	}

	fooResult := findResult(t, results, filepath.Join(base, "foo"), true)
	if !fooResult.Inconsistent {
		t.Errorf("foo: expected inconsistent flag")
	}
	if fooResult.Type != reconcile.ResultModified {
		t.Errorf("foo: got %s, want Modified", fooResult.Type)
	}
}

// TestZoneBaseNotYetExisting exercises scenario S5: a zone declared on a
// path that does not yet exist must still watch each ancestor as it is
// created, cascading watches all the way down to a freshly created leaf.
func TestZoneBaseNotYetExisting(t *testing.T) {
	base := t.TempDir()
	mustMkdirAll(t, filepath.Join(base, "A1"))

	eng, reg := newEngine(t, []reconcile.DirectoryZone{
		{BasePath: filepath.Join(base, "A1", "B12"), MaxDepth: 1},
	})

	mustMkdirAll(t, filepath.Join(base, "A1", "B12"))
	if !reg.DeliverEvent(filepath.Join(base, "A1"), "B12", true, reconcile.EventCreate, 0) {
		t.Fatalf("expected a watch on %s", filepath.Join(base, "A1"))
	}

	mustMkdirAll(t, filepath.Join(base, "A1", "B12", "C123"))
	if !reg.DeliverEvent(filepath.Join(base, "A1", "B12"), "C123", true, reconcile.EventCreate, 0) {
		t.Fatalf("expected a watch on %s", filepath.Join(base, "A1", "B12"))
	}

	mustWriteFile(t, filepath.Join(base, "A1", "B12", "C123", "xx.txt"))
	if !reg.DeliverEvent(filepath.Join(base, "A1", "B12", "C123"), "xx.txt", false, reconcile.EventCreate, 0) {
		t.Fatalf("expected a watch on %s", filepath.Join(base, "A1", "B12", "C123"))
	}

	results := eng.Results()
	if len(results) != 3 {
		t.Fatalf("expected exactly 3 results, got %d: %+v", len(results), results)
	}
	for _, want := range []struct {
		path  string
		isDir bool
	}{
		{filepath.Join(base, "A1", "B12"), true},
		{filepath.Join(base, "A1", "B12", "C123"), true},
		{filepath.Join(base, "A1", "B12", "C123", "xx.txt"), false},
	} {
		r := findResult(t, results, want.path, want.isDir)
		if r.Type != reconcile.ResultCreated {
			t.Errorf("%s: got %s, want Created", want.path, r.Type)
		}
	}
}

// TestDirectoryRenameTransfersWatch exercises the directory-carrying-a-watch
// half of scenario S2: a watched directory is renamed within the same zone,
// and the watch is expected to transfer (not drop and re-add), with the
// source/destination results recording the rename pair.
func TestDirectoryRenameTransfersWatch(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "D1211")
	mustMkdirAll(t, src)
	mustWriteFile(t, filepath.Join(src, "leaf.txt"))

	eng, reg := newEngine(t, []reconcile.DirectoryZone{
		{BasePath: base, MaxDepth: 2},
	})

	dst := filepath.Join(base, "AAA")
	if err := os.Rename(src, dst); err != nil {
		t.Fatalf("rename: %v", err)
	}
	const cookie = 42
	if !reg.DeliverEvent(base, "D1211", true, reconcile.EventMovedFrom, cookie) {
		t.Fatalf("expected a watch on %s", base)
	}
	if !reg.DeliverEvent(base, "AAA", true, reconcile.EventMovedTo, cookie) {
		t.Fatalf("expected a watch on %s", base)
	}

	results := eng.Results()
	// The source had no prior recorded action, so its RenameFrom is typed
	// like a bare Delete-from-None: Deleted, unconditionally inconsistent
	// per the transition table (§3).
	fromResult := findResult(t, results, src, true)
	if fromResult.Type != reconcile.ResultDeleted {
		t.Errorf("D1211: got %s, want Deleted", fromResult.Type)
	}
	if !fromResult.Inconsistent {
		t.Errorf("D1211: expected inconsistent flag")
	}
	toResult := findResult(t, results, dst, true)
	if toResult.Type != reconcile.ResultCreated {
		t.Errorf("AAA: got %s, want Created", toResult.Type)
	}
	if toResult.Inconsistent {
		t.Errorf("AAA: unexpectedly flagged inconsistent")
	}

	// The watch must have been carried across via RenamePath, not dropped
	// and re-added: the source slot is never passed to RemovePath, and no
	// second AddPath call is made for the destination.
	for _, removed := range reg.Removed {
		if removed == src {
			t.Errorf("watch for %q was removed instead of transferred", src)
		}
	}
	for _, added := range reg.Added {
		if added == dst {
			t.Errorf("watch for %q was freshly added instead of transferred from %q", dst, src)
		}
	}
}

// TestSweepResolvesUnpairedRenameAfterHorizon covers §4.G/§8 invariant 5: a
// MOVED_FROM whose MOVED_TO never arrives (the entry moved outside every
// watched area) must not stay buffered as a pending OpenMove forever. Once
// its age exceeds the sweep horizon, Sweep resolves it as a rename to
// nowhere, the same outcome traverseRename produces for a bare RenameFrom.
func TestSweepResolvesUnpairedRenameAfterHorizon(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "D1211")
	mustMkdirAll(t, src)

	eng, reg := newEngine(t, []reconcile.DirectoryZone{
		{BasePath: base, MaxDepth: 2},
	})

	const cookie = 99
	if !reg.DeliverEvent(base, "D1211", true, reconcile.EventMovedFrom, cookie) {
		t.Fatalf("expected a watch on %s", base)
	}

	// No matching MOVED_TO is ever delivered. Sweep only resolves moves
	// older than the 200µs horizon, so give it real wall-clock room before
	// calling it, exactly as the host's periodic ticker would.
	time.Sleep(2 * time.Millisecond)
	eng.Sweep()

	results := eng.Results()
	fromResult := findResult(t, results, src, true)
	if fromResult.Type != reconcile.ResultDeleted {
		t.Errorf("D1211: got %s, want Deleted", fromResult.Type)
	}
	if !fromResult.Inconsistent {
		t.Errorf("D1211: expected inconsistent flag")
	}

	// A MOVED_TO that arrives late, after the sweep already gave up on the
	// cookie, must be treated as a move from outside the watched area, not
	// paired with the OpenMove Sweep already resolved: its RenameTo action
	// must carry no other-path back to D1211.
	if !reg.DeliverEvent(base, "LATE", true, reconcile.EventMovedTo, cookie) {
		t.Fatalf("expected a watch on %s", base)
	}
	lateResult := findResult(t, eng.Results(), filepath.Join(base, "LATE"), true)
	for _, a := range lateResult.Actions {
		if a.Kind == reconcile.ActionRenameTo && a.OtherPath != "" {
			t.Errorf("late MOVED_TO was paired with swept cookie, other path = %q", a.OtherPath)
		}
	}
}

// TestDeepTreeCreateDeleteRecreate exercises scenario S3: a seven-level
// directory chain is created, deleted bottom-up (as the kernel would report
// a real rm -r, child before parent), then recreated identically. Every
// entity must show exactly Create/Delete/Create with no inconsistency, the
// Temporary-typed middle state never surviving to the final report.
func TestDeepTreeCreateDeleteRecreate(t *testing.T) {
	base := t.TempDir()
	eng, reg := newEngine(t, []reconcile.DirectoryZone{
		{BasePath: base, MaxDepth: 9999},
	})

	levels := []string{"L1", "L2", "L3", "L4", "L5", "L6", "L7"}
	const leafName = "leaf.txt"

	build := func() []string {
		parent := base
		paths := make([]string, len(levels))
		for i, name := range levels {
			mustMkdirAll(t, filepath.Join(parent, name))
			if !reg.DeliverEvent(parent, name, true, reconcile.EventCreate, 0) {
				t.Fatalf("expected a watch on %s", parent)
			}
			parent = filepath.Join(parent, name)
			paths[i] = parent
		}
		mustWriteFile(t, filepath.Join(parent, leafName))
		if !reg.DeliverEvent(parent, leafName, false, reconcile.EventCreate, 0) {
			t.Fatalf("expected a watch on %s", parent)
		}
		return paths
	}

	teardown := func(paths []string) {
		leafPath := filepath.Join(paths[len(paths)-1], leafName)
		if err := os.Remove(leafPath); err != nil {
			t.Fatalf("remove %q: %v", leafPath, err)
		}
		reg.DeliverEvent(paths[len(paths)-1], leafName, false, reconcile.EventDelete, 0)

		for i := len(levels) - 1; i >= 0; i-- {
			parent := base
			if i > 0 {
				parent = paths[i-1]
			}
			if err := os.Remove(paths[i]); err != nil {
				t.Fatalf("remove %q: %v", paths[i], err)
			}
			reg.DeliverEvent(parent, levels[i], true, reconcile.EventDelete, 0)
		}
	}

	first := build()
	teardown(first)
	second := build()

	checkThreeActions := func(path string, isDir bool) {
		r := findResult(t, eng.Results(), path, isDir)
		if r.Type != reconcile.ResultCreated {
			t.Errorf("%s: got %s, want Created", path, r.Type)
		}
		if r.Inconsistent {
			t.Errorf("%s: unexpectedly flagged inconsistent", path)
		}
		wantKinds := []reconcile.ActionKind{reconcile.ActionCreate, reconcile.ActionDelete, reconcile.ActionCreate}
		if len(r.Actions) != len(wantKinds) {
			t.Fatalf("%s: got %d actions, want %d: %+v", path, len(r.Actions), len(wantKinds), r.Actions)
		}
		for i, k := range wantKinds {
			if r.Actions[i].Kind != k {
				t.Errorf("%s: action %d = %v, want %v", path, i, r.Actions[i].Kind, k)
			}
		}
	}

	for _, p := range second {
		checkThreeActions(p, true)
	}
	checkThreeActions(filepath.Join(second[len(second)-1], leafName), false)

	if eng.HasInconsistencies() {
		t.Errorf("expected no inconsistencies across the full create/delete/recreate cycle")
	}
}

// TestRenameRoundTripAcrossMultipleLeaves exercises scenario S4: renaming a
// deep subtree out and back must walk both sides recursively, down to
// leaves several levels apart, pairing each one's RenameFrom/RenameTo
// correctly rather than only handling the renamed directory itself.
func TestRenameRoundTripAcrossMultipleLeaves(t *testing.T) {
	base := t.TempDir()

	levels := []string{"A1", "B12", "C123", "D1231", "E12311", "F123114", "G1231142"}
	withRoot := func(root string, upTo int) string {
		segs := append([]string{base, root}, levels[1:upTo+1]...)
		return filepath.Join(segs...)
	}

	mustMkdirAll(t, withRoot("A1", len(levels)-1))

	// Leaf files at multiple levels of the chain, not only at the bottom.
	fileLevels := []int{0, 2, 4, 5, 6}
	for i, lvl := range fileLevels {
		mustWriteFile(t, filepath.Join(withRoot("A1", lvl), fmt.Sprintf("xx_%d.txt", i)))
	}

	eng, reg := newEngine(t, []reconcile.DirectoryZone{
		{BasePath: base, MaxDepth: 9999},
	})

	before := watchedPaths(eng.Nodes())

	a1 := filepath.Join(base, "A1")
	a2 := filepath.Join(base, "A2")

	if err := os.Rename(a1, a2); err != nil {
		t.Fatalf("rename A1 -> A2: %v", err)
	}
	const cookieOut = 71
	if !reg.DeliverEvent(base, "A1", true, reconcile.EventMovedFrom, cookieOut) {
		t.Fatalf("expected a watch on %s", base)
	}
	if !reg.DeliverEvent(base, "A2", true, reconcile.EventMovedTo, cookieOut) {
		t.Fatalf("expected a watch on %s", base)
	}

	if err := os.Rename(a2, a1); err != nil {
		t.Fatalf("rename A2 -> A1: %v", err)
	}
	const cookieBack = 72
	if !reg.DeliverEvent(base, "A2", true, reconcile.EventMovedFrom, cookieBack) {
		t.Fatalf("expected a watch on %s", base)
	}
	if !reg.DeliverEvent(base, "A1", true, reconcile.EventMovedTo, cookieBack) {
		t.Fatalf("expected a watch on %s", base)
	}

	results := eng.Results()
	for i, lvl := range fileLevels {
		name := fmt.Sprintf("xx_%d.txt", i)
		origPath := filepath.Join(withRoot("A1", lvl), name)
		transientPath := filepath.Join(withRoot("A2", lvl), name)

		orig := findResult(t, results, origPath, false)
		if orig.Type != reconcile.ResultModified {
			t.Errorf("%s: got %s, want Modified", origPath, orig.Type)
		}
		if len(orig.Actions) != 2 || orig.Actions[0].Kind != reconcile.ActionRenameFrom || orig.Actions[1].Kind != reconcile.ActionRenameTo {
			t.Errorf("%s: got actions %+v, want [RenameFrom RenameTo]", origPath, orig.Actions)
		}

		transient := findResult(t, results, transientPath, false)
		if transient.Type != reconcile.ResultTemporary {
			t.Errorf("%s: got %s, want Temporary", transientPath, transient.Type)
		}
		if len(transient.Actions) != 2 || transient.Actions[0].Kind != reconcile.ActionRenameTo || transient.Actions[1].Kind != reconcile.ActionRenameFrom {
			t.Errorf("%s: got actions %+v, want [RenameTo RenameFrom]", transientPath, transient.Actions)
		}
	}

	// §8 round-trip property: the watched-node set is unchanged by the
	// round trip, modulo the history the A2 side leaves behind.
	after := watchedPaths(eng.Nodes())
	for p := range before {
		if !after[p] {
			t.Errorf("watched path %s present before the round trip is missing after it", p)
		}
	}
}

// watchedPaths returns the set of paths the engine currently has an
// installed watch on.
func watchedPaths(nodes []reconcile.ToWatchDir) map[string]bool {
	set := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Watched {
			set[n.Path] = true
		}
	}
	return set
}

// TestAddRemoveZoneRoundTrip covers the §8 round-trip property: declaring
// then removing a zone leaves ListZones unchanged.
func TestAddRemoveZoneRoundTrip(t *testing.T) {
	reg := reconcile.NewRegistryFake()
	eng := reconcile.New(reg)

	before := eng.ListZones()
	if err := eng.AddZone(reconcile.DirectoryZone{BasePath: "/tmp/zone", MaxDepth: 1}); err != nil {
		t.Fatalf("AddZone: %v", err)
	}
	if !eng.HasZone("/tmp/zone") {
		t.Fatalf("expected zone to be declared")
	}
	if err := eng.RemoveZone("/tmp/zone"); err != nil {
		t.Fatalf("RemoveZone: %v", err)
	}
	after := eng.ListZones()
	if len(before) != len(after) {
		t.Fatalf("zone list changed across add/remove round-trip: before=%d after=%d", len(before), len(after))
	}
}

// TestCalcToWatchDirectoriesIdempotent covers the §8 round-trip property
// that a dry run produces the same forest shape when run twice with no
// intervening mutation.
func TestCalcToWatchDirectoriesIdempotent(t *testing.T) {
	base := t.TempDir()
	mustMkdirAll(t, filepath.Join(base, "A1", "B1"))

	reg := reconcile.NewRegistryFake()
	eng := reconcile.New(reg)
	if err := eng.AddZone(reconcile.DirectoryZone{BasePath: base, MaxDepth: 5}); err != nil {
		t.Fatalf("AddZone: %v", err)
	}

	if err := eng.CalcToWatchDirectories(); err != nil {
		t.Fatalf("CalcToWatchDirectories (1st): %v", err)
	}
	first := eng.Nodes()

	if err := eng.CalcToWatchDirectories(); err != nil {
		t.Fatalf("CalcToWatchDirectories (2nd): %v", err)
	}
	second := eng.Nodes()

	if len(first) != len(second) {
		t.Fatalf("node count changed across idempotent CalcToWatchDirectories calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Path != second[i].Path {
			t.Errorf("node %d path changed: %q vs %q", i, first[i].Path, second[i].Path)
		}
	}
}

// TestZoneValidationRejectsNonCanonical covers the configuration-error
// handling row of §7 for AddZone's own synchronous checks.
func TestZoneValidationRejectsNonCanonical(t *testing.T) {
	reg := reconcile.NewRegistryFake()
	eng := reconcile.New(reg)

	if err := eng.AddZone(reconcile.DirectoryZone{BasePath: "relative/path", MaxDepth: 0}); err == nil {
		t.Errorf("expected error for non-canonical base path")
	}
	if err := eng.AddZone(reconcile.DirectoryZone{BasePath: "/tmp/x", MaxDepth: -1}); err == nil {
		t.Errorf("expected error for negative max depth")
	}
}

// TestForbiddenPrefixRejectedAtSetup covers §4.D step 1: a zone whose base
// path is itself a forbidden pseudo-filesystem prefix is only caught once
// setup actually runs, not at declaration time.
func TestForbiddenPrefixRejectedAtSetup(t *testing.T) {
	reg := reconcile.NewRegistryFake()
	eng := reconcile.New(reg)

	if err := eng.AddZone(reconcile.DirectoryZone{BasePath: "/proc", MaxDepth: 0}); err != nil {
		t.Fatalf("AddZone should accept a forbidden-prefix base path: %v", err)
	}
	if err := eng.CalcToWatchDirectories(); err == nil {
		t.Errorf("expected CalcToWatchDirectories to reject a forbidden-prefix zone base")
	}
}

// TestQueueOverflowFlag covers §8 invariant 6's companion behavior: an
// overflow event sets the session-wide flag without touching any result.
func TestQueueOverflowFlag(t *testing.T) {
	base := t.TempDir()
	eng, reg := newEngine(t, []reconcile.DirectoryZone{{BasePath: base, MaxDepth: 1}})

	if eng.HasQueueOverflown() {
		t.Fatalf("overflow flag set before any overflow event")
	}
	reg.Overflow()
	if !eng.HasQueueOverflown() {
		t.Fatalf("expected overflow flag to be set")
	}
	if len(eng.Results()) != 0 {
		t.Errorf("overflow event should not produce any result")
	}
}
