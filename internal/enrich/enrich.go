// Package enrich best-effort correlates a filesystem event with the process
// most likely to have caused it, by scanning the open-file table of every
// running process for the affected path.
//
// Design notes
//
//   - Enrichment runs entirely off the hot reconciliation path. Requests are
//     submitted to a bounded channel; a single background goroutine drains it
//     and calls back into the engine's session once a guess is ready (or never,
//     if the request is dropped because the channel is full).
//   - A full channel means enrichment is falling behind the event stream. The
//     request is dropped rather than applying back-pressure to the caller —
//     a missing LikelyActor hint is an acceptable degradation, a stalled
//     reconciliation engine is not.
//   - Process scanning is inherently racy: by the time Processes() returns,
//     the process that touched the path may have already exited. LikelyActor
//     is a hint, never a guarantee.
package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// scanTimeout bounds how long a single process-table scan may run before it
// is abandoned, so a slow or wedged host cannot let the queue back up.
const scanTimeout = 2 * time.Second

// LikelyActor is a best-effort guess at the process that caused an event: the
// first process found holding the path open at scan time, attached to a
// WatchedResult after the fact.
type LikelyActor struct {
	PID  int32
	Name string
	Exe  string
}

// request is one pending enrichment lookup.
type request struct {
	path     string
	callback func(LikelyActor, bool)
}

// Enricher runs a single background worker that answers enrichment requests
// by scanning the system process table. The zero value is not usable; build
// one with New.
type Enricher struct {
	log     *slog.Logger
	queue   chan request
	done    chan struct{}
	wg      sync.WaitGroup
	scanner func(ctx context.Context, path string) (LikelyActor, bool)
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithQueueSize overrides the default pending-request queue depth.
func WithQueueSize(n int) Option {
	return func(e *Enricher) {
		e.queue = make(chan request, n)
	}
}

// WithLogger overrides the default slog.Logger used for dropped-request
// warnings.
func WithLogger(log *slog.Logger) Option {
	return func(e *Enricher) { e.log = log }
}

// New constructs an Enricher and starts its background worker goroutine.
// Callers must call Close when done to stop the worker.
func New(opts ...Option) *Enricher {
	e := &Enricher{
		log:     slog.Default(),
		queue:   make(chan request, 256),
		done:    make(chan struct{}),
		scanner: scanProcesses,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.run()
	return e
}

// Submit asks the Enricher to look up the likely actor for path and invoke
// callback with the result once ready. Submit never blocks the caller: if
// the internal queue is full, the request is dropped and a debug log line is
// emitted instead of applying back-pressure.
func (e *Enricher) Submit(path string, callback func(LikelyActor, bool)) {
	select {
	case e.queue <- request{path: path, callback: callback}:
	default:
		e.log.Debug("enrich: queue full, dropping request", "path", path)
	}
}

// Close stops the background worker and waits for it to exit. A request
// submitted after Close is never answered: it sits in the queue, or is
// dropped with the log line if the queue is full.
func (e *Enricher) Close() {
	close(e.done)
	e.wg.Wait()
}

func (e *Enricher) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case req := <-e.queue:
			ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
			actor, ok := e.scanner(ctx, req.path)
			cancel()
			req.callback(actor, ok)
		}
	}
}

// scanProcesses enumerates every running process and returns the first one
// found to have path open, per process.OpenFilesStat. It is the default
// Enricher.scanner; tests substitute a fake scanner to avoid depending on
// real process state.
func scanProcesses(ctx context.Context, path string) (LikelyActor, bool) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return LikelyActor{}, false
	}

	for _, p := range procs {
		select {
		case <-ctx.Done():
			return LikelyActor{}, false
		default:
		}

		files, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			continue // permission denied or the process has already exited
		}
		for _, f := range files {
			if f.Path != path {
				continue
			}
			name, _ := p.NameWithContext(ctx)
			exe, _ := p.ExeWithContext(ctx)
			return LikelyActor{PID: p.Pid, Name: name, Exe: exe}, true
		}
	}
	return LikelyActor{}, false
}
