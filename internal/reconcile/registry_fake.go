package reconcile

// RegistryFake is a WatchRegistry test double that has no kernel dependency
// at all. Tests drive it synchronously: Deliver invokes the subscribed
// callback directly on the calling goroutine, matching the engine's
// single-threaded, cooperative event model so scenario tests (S1–S6) need no
// real filesystem or timing to exercise the reconciler.
type RegistryFake struct {
	slab     *slotSlab[fakeWatchEntry]
	wd       int
	cb       func(RegistryEvent)
	Removed  []string // paths removed, in order, for assertions
	Added    []string // paths added, in order, for assertions
}

type fakeWatchEntry struct {
	path string
	tag  any
}

// NewRegistryFake creates an empty fake registry.
func NewRegistryFake() *RegistryFake {
	return &RegistryFake{slab: newSlotSlab[fakeWatchEntry]()}
}

func (f *RegistryFake) AddPath(path string, tag any) (int, error) {
	for _, prefix := range ForbiddenPrefixes {
		if isAncestorOrSelf(prefix, path) {
			return -1, ErrFakeFS
		}
	}
	slot := f.slab.alloc(fakeWatchEntry{path: path, tag: tag})
	f.Added = append(f.Added, path)
	return slot, nil
}

func (f *RegistryFake) RemovePath(slot int, tag any) error {
	if slot < 0 {
		slot = f.findSlotByTag(tag)
	}
	e, ok := f.slab.get(slot)
	if !ok {
		return ErrWatchNotFound
	}
	f.Removed = append(f.Removed, e.path)
	f.slab.free_(slot)
	return nil
}

func (f *RegistryFake) RenamePath(slot int, fromTag, toTag any) error {
	if slot < 0 {
		slot = f.findSlotByTag(fromTag)
	}
	e, ok := f.slab.get(slot)
	if !ok {
		return ErrWatchNotFound
	}
	e.tag = toTag
	f.slab.set(slot, e)
	return nil
}

func (f *RegistryFake) ClearAll() error {
	f.slab.clear()
	return nil
}

func (f *RegistryFake) Subscribe(cb func(RegistryEvent)) { f.cb = cb }

func (f *RegistryFake) InvalidPaths() []string {
	return append([]string(nil), ForbiddenPrefixes...)
}

func (f *RegistryFake) findSlotByTag(tag any) int {
	for slot := 0; slot < len(f.slab.entries); slot++ {
		e, ok := f.slab.get(slot)
		if ok && e.tag == tag {
			return slot
		}
	}
	return -1
}

// Deliver synchronously invokes the subscribed callback with evt. Tests use
// this to drive the engine's event handling without any inotify kernel
// dependency.
func (f *RegistryFake) Deliver(evt RegistryEvent) {
	if f.cb != nil {
		f.cb(evt)
	}
}

// Overflow is a convenience for delivering an IN_Q_OVERFLOW-equivalent event.
func (f *RegistryFake) Overflow() {
	f.Deliver(RegistryEvent{Overflow: true})
}

// TagForPath returns the tag the engine registered for path via AddPath, if
// any watch on it is currently live.
func (f *RegistryFake) TagForPath(path string) (any, bool) {
	for slot := range f.slab.entries {
		e, ok := f.slab.get(slot)
		if ok && e.path == path {
			return e.tag, true
		}
	}
	return nil, false
}

// DeliverEvent is the ergonomic test entry point: it resolves parentPath to
// its registered tag and delivers the event, returning false without effect
// if parentPath has no live watch (e.g. the test forgot to Start the
// engine, or the directory was never watched). Scenario tests drive the
// engine entirely through this method plus real filesystem mutations.
func (f *RegistryFake) DeliverEvent(parentPath, name string, isDir bool, action EventAction, cookie uint32) bool {
	tag, ok := f.TagForPath(parentPath)
	if !ok {
		return false
	}
	f.Deliver(RegistryEvent{Tag: tag, Name: name, IsDir: isDir, Action: action, RenameCookie: cookie})
	return true
}
