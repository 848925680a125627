// Package reconcile: Linux inotify-backed WatchRegistry implementation.
//
//go:build linux

package reconcile

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"unsafe"
)

// Linux inotify event flag constants (kernel ABI — never change). These
// match the values in <sys/inotify.h>.
const (
	inCreate    uint32 = 0x100
	inDelete    uint32 = 0x200
	inClosew    uint32 = 0x8
	inAttrib    uint32 = 0x4
	inMovedFrom uint32 = 0x40
	inMovedTo   uint32 = 0x80
	inIsDir     uint32 = 0x40000000
	inQOverflow uint32 = 0x4000

	inDontFollow  uint32 = 0x02000000
	inExclUnlink  uint32 = 0x04000000
	inOnlyDir     uint32 = 0x01000000
	inotifyCloexec = 0x80000
)

// watchMask is the fixed inotify mask requested for every watch: §4.B
// mandates CREATE | MOVED_TO | DELETE | MOVED_FROM | CLOSE_WRITE | ATTRIB,
// flags DONT_FOLLOW | EXCL_UNLINK | ONLYDIR.
const watchMask uint32 = inCreate | inMovedTo | inDelete | inMovedFrom | inClosew | inAttrib |
	inDontFollow | inExclUnlink | inOnlyDir

var inotifyEventSize = int(unsafe.Sizeof(syscall.InotifyEvent{}))

type linuxWatchEntry struct {
	wd  int
	tag any
}

// LinuxRegistry is the production WatchRegistry implementation: it owns the
// inotify file descriptor exclusively (per the concurrency model's shared
// resource rule) and runs its own background read loop.
type LinuxRegistry struct {
	logger *slog.Logger

	fd    int
	pipeR int
	pipeW int

	mu       sync.Mutex
	slab     *slotSlab[linuxWatchEntry]
	wdToSlot map[int]int

	cb func(RegistryEvent)
	// events decouples the background poll loop from callback invocation:
	// the run loop only parses and enqueues, and Pump hands queued events
	// to the subscribed callback from whatever goroutine the host's own
	// event loop calls Pump on, preserving the engine's single-threaded
	// cooperative contract even though inotify reads happen in the
	// background.
	events chan RegistryEvent

	wg       sync.WaitGroup
	stopOnce sync.Once
	ready    chan struct{}
}

// NewLinuxRegistry opens the inotify kernel interface and a self-pipe used to
// unblock the read loop on Stop, mirroring the shutdown idiom of a
// poll(2)-based watcher: writing a byte into pipeW wakes the poll(2) call
// blocked on pipeR inside run().
func NewLinuxRegistry(logger *slog.Logger) (*LinuxRegistry, error) {
	fd, err := syscall.InotifyInit1(inotifyCloexec)
	if err != nil {
		return nil, fmt.Errorf("reconcile: InotifyInit1: %w", err)
	}

	var pipeFds [2]int
	if err := syscall.Pipe2(pipeFds[:], syscall.O_CLOEXEC); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("reconcile: pipe2: %w", err)
	}

	return &LinuxRegistry{
		logger:   logger,
		fd:       fd,
		pipeR:    pipeFds[0],
		pipeW:    pipeFds[1],
		slab:     newSlotSlab[linuxWatchEntry](),
		wdToSlot: make(map[int]int),
		events:   make(chan RegistryEvent, 4096),
		ready:    make(chan struct{}),
	}, nil
}

func (r *LinuxRegistry) AddPath(path string, tag any) (int, error) {
	for _, prefix := range ForbiddenPrefixes {
		if isAncestorOrSelf(prefix, path) {
			return -1, ErrFakeFS
		}
	}

	wd, err := syscall.InotifyAddWatch(r.fd, path, watchMask)
	if err != nil {
		switch err {
		case syscall.ENOSPC, syscall.ENOMEM, syscall.ENAMETOOLONG:
			return -1, Fatal(fmt.Errorf("reconcile: InotifyAddWatch %q: %w", path, err))
		default:
			return -1, fmt.Errorf("reconcile: InotifyAddWatch %q: %w", path, err)
		}
	}

	r.mu.Lock()
	slot := r.slab.alloc(linuxWatchEntry{wd: wd, tag: tag})
	r.wdToSlot[wd] = slot
	r.mu.Unlock()

	return slot, nil
}

func (r *LinuxRegistry) RemovePath(slot int, tag any) error {
	r.mu.Lock()
	if slot < 0 {
		slot = r.findSlotByTag(tag)
	}
	entry, ok := r.slab.get(slot)
	if !ok {
		r.mu.Unlock()
		return ErrWatchNotFound
	}
	delete(r.wdToSlot, entry.wd)
	r.slab.free_(slot)
	r.mu.Unlock()

	// Best-effort: the kernel already removes the watch automatically when
	// the inode is deleted, so IN_IGNORED races with an explicit removal are
	// expected and not treated as an error.
	_, err := syscall.InotifyRmWatch(r.fd, uint32(entry.wd))
	if err != nil && err != syscall.EINVAL {
		return fmt.Errorf("reconcile: InotifyRmWatch: %w", err)
	}
	return nil
}

func (r *LinuxRegistry) RenamePath(slot int, fromTag, toTag any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 {
		slot = r.findSlotByTag(fromTag)
	}
	entry, ok := r.slab.get(slot)
	if !ok {
		return ErrWatchNotFound
	}
	entry.tag = toTag
	r.slab.set(slot, entry)
	return nil
}

func (r *LinuxRegistry) ClearAll() error {
	r.mu.Lock()
	wds := make([]int, 0, len(r.wdToSlot))
	for wd := range r.wdToSlot {
		wds = append(wds, wd)
	}
	r.wdToSlot = make(map[int]int)
	r.slab.clear()
	r.mu.Unlock()

	for _, wd := range wds {
		syscall.InotifyRmWatch(r.fd, uint32(wd)) //nolint:errcheck
	}
	return nil
}

func (r *LinuxRegistry) Subscribe(cb func(RegistryEvent)) {
	r.cb = cb
}

func (r *LinuxRegistry) InvalidPaths() []string {
	return append([]string(nil), ForbiddenPrefixes...)
}

func (r *LinuxRegistry) findSlotByTag(tag any) int {
	for slot := 0; slot < len(r.slab.entries); slot++ {
		e, ok := r.slab.get(slot)
		if ok && e.tag == tag {
			return slot
		}
	}
	return -1
}

// Start launches the background read loop. It returns immediately.
func (r *LinuxRegistry) Start() {
	r.wg.Add(1)
	go r.run()
}

// Ready is closed once Start has been called and the run loop has begun
// polling; tests that drive a real filesystem wait on this before triggering
// mutations, eliminating races where an event would otherwise be missed.
func (r *LinuxRegistry) Ready() <-chan struct{} { return r.ready }

// Pump delivers every currently queued event to the subscribed callback,
// from the calling goroutine, and returns once the queue is empty. A host
// calls Pump once per tick of its own event loop (alongside Engine.Sweep)
// so callback invocation — and therefore every Engine mutation — happens on
// a single goroutine regardless of which goroutine read the kernel events.
func (r *LinuxRegistry) Pump() {
	for {
		select {
		case evt := <-r.events:
			if r.cb != nil {
				r.cb(evt)
			}
		default:
			return
		}
	}
}

// Stop signals the read loop to exit and blocks until it has. Safe to call
// multiple times.
func (r *LinuxRegistry) Stop() {
	r.stopOnce.Do(func() {
		syscall.Write(r.pipeW, []byte{0}) //nolint:errcheck
		r.wg.Wait()
		syscall.Close(r.pipeW)
		syscall.Close(r.pipeR)
		syscall.Close(r.fd)
	})
}

func (r *LinuxRegistry) run() {
	defer r.wg.Done()
	close(r.ready)

	const bufSize = 4096 * (16 + 256)
	buf := make([]byte, bufSize)

	type pollFd struct{ fd int32; events, revents int16 } // kernel struct pollfd
	const pollIn = 0x1                                      // POLLIN
	pollFds := []pollFd{
		{fd: int32(r.fd), events: pollIn},
		{fd: int32(r.pipeR), events: pollIn},
	}

	for {
		_, _, errno := syscall.Syscall6(syscall.SYS_PPOLL, uintptr(unsafe.Pointer(&pollFds[0])), uintptr(len(pollFds)), 0, 0, 0, 0)
		if errno != 0 {
			if errno == syscall.EINTR {
				continue
			}
			if r.logger != nil {
				r.logger.Warn("reconcile: poll error", slog.Any("error", errno))
			}
			return
		}

		if pollFds[1].revents&pollIn != 0 {
			return
		}
		if pollFds[0].revents&pollIn == 0 {
			continue
		}

		n, err := syscall.Read(r.fd, buf)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("reconcile: read error", slog.Any("error", err))
			}
			return
		}
		r.parseAndDispatch(buf[:n])
	}
}

// parseAndDispatch walks the raw inotify event buffer. Layout:
//
//	struct inotify_event {
//	    int32_t  wd;
//	    uint32_t mask;
//	    uint32_t cookie;
//	    uint32_t len;
//	    char     name[]; // len bytes, NUL-terminated + padded to 4 bytes
//	}
func (r *LinuxRegistry) parseAndDispatch(buf []byte) {
	evSize := inotifyEventSize
	for offset := 0; offset+evSize <= len(buf); {
		ev := (*syscall.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += evSize

		var name string
		if ev.Len > 0 {
			if offset+int(ev.Len) > len(buf) {
				break
			}
			name = strings.TrimRight(string(buf[offset:offset+int(ev.Len)]), "\x00")
			offset += int(ev.Len)
		}

		r.dispatch(int(ev.Wd), ev.Mask, ev.Cookie, name)
	}
}

func (r *LinuxRegistry) dispatch(wd int, mask, cookie uint32, name string) {
	if mask&inQOverflow != 0 {
		r.enqueue(RegistryEvent{Overflow: true})
		return
	}

	r.mu.Lock()
	slot, ok := r.wdToSlot[wd]
	var tag any
	if ok {
		entry, _ := r.slab.get(slot)
		tag = entry.tag
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	isDir := mask&inIsDir != 0

	var action EventAction
	switch {
	case mask&inCreate != 0:
		action = EventCreate
	case mask&inMovedTo != 0:
		action = EventMovedTo
	case mask&inMovedFrom != 0:
		action = EventMovedFrom
	case mask&inClosew != 0:
		action = EventModify
	case mask&inDelete != 0:
		action = EventDelete
	case mask&inAttrib != 0:
		action = EventAttrib
	default:
		return
	}

	r.enqueue(RegistryEvent{
		Tag:          tag,
		Name:         name,
		IsDir:        isDir,
		Action:       action,
		RenameCookie: cookie,
	})
}

// enqueue delivers evt to the Pump queue, logging and dropping it only in
// the pathological case where a host has stopped calling Pump and the
// queue is completely full.
func (r *LinuxRegistry) enqueue(evt RegistryEvent) {
	select {
	case r.events <- evt:
	default:
		if r.logger != nil {
			r.logger.Warn("reconcile: event queue full, dropping event; host is not calling Pump frequently enough")
		}
	}
}
