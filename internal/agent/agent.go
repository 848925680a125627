// Package agent contains the reconciled agent orchestrator. It wires
// together one reconcile.Engine and inotify registry per configured
// session, the local SQLite durability store, the best-effort process
// enricher, and the gRPC transport client, managing their lifecycle
// through a shared context.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fofimon/reconciler/internal/audit"
	"github.com/fofimon/reconciler/internal/enrich"
	"github.com/fofimon/reconciler/internal/reconcile"
	"github.com/fofimon/reconciler/internal/zoneconfig"
)

// pumpInterval is how often a session's registry is drained into its
// engine. The engine itself is synchronous and single-threaded; Pump is
// what moves kernel-delivered events onto that single goroutine.
const pumpInterval = 50 * time.Millisecond

// Enricher is the interface for the best-effort process-attribution
// component. Submit must never block the caller.
type Enricher interface {
	Submit(path string, callback func(enrich.LikelyActor, bool))
}

// Store is the interface for the local SQLite durability ledger.
type Store interface {
	Put(ctx context.Context, session string, r reconcile.WatchedResult) error
	Depth() int
	Close() error
}

// Transport is the interface for the gRPC transport client that streams
// results to the dashboard server.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, sessionName string, result reconcile.WatchedResult, actorHint ...string) error
	Stop()
}

// AuditLogger is the interface for the tamper-evident, hash-chained audit
// trail. A fatal session abort is appended after the engine has stopped
// itself and before the session's pump loop exits and stops its registry,
// giving an operator an append-only record of every
// on_abort event independent of whatever happens to the structured log
// stream.
type AuditLogger interface {
	Append(payload json.RawMessage) (audit.Entry, error)
}

// abortAuditRecord is the JSON payload appended to the audit trail when a
// session's engine reports a fatal abort.
type abortAuditRecord struct {
	Event   string    `json:"event"`
	Session string    `json:"session"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Registry is the subset of reconcile.WatchRegistry plus the lifecycle and
// pump methods a host event loop needs. reconcile.LinuxRegistry satisfies
// this.
type Registry interface {
	reconcile.WatchRegistry
	Start()
	Ready() <-chan struct{}
	Pump()
	Stop()
}

// RegistryFactory constructs a fresh Registry for one session. Supplied as
// a constructor function (rather than a single shared instance) because
// each session owns an independent Engine and must never share a
// registry or tree with another.
type RegistryFactory func(logger *slog.Logger) (Registry, error)

// session pairs one configured session's Engine with its own Registry and
// the abort channel fed by the engine's OnAbort callback.
type session struct {
	name     string
	engine   *reconcile.Engine
	registry Registry
	abortCh  chan error
}

// Agent is the central orchestrator of the reconciled agent. It starts
// and supervises every configured session's engine and registry, the
// durability store, the enricher, and the transport client. Sessions run
// as a golang.org/x/sync/errgroup group: a fatal abort from any one
// session cancels every other session's context and is reported as the
// group's first error.
type Agent struct {
	cfg         *zoneconfig.Config
	logger      *slog.Logger
	store       Store
	transport   Transport
	enricher    Enricher
	audit       AuditLogger
	newRegistry RegistryFactory

	startTime time.Time
	cancel    context.CancelFunc

	mu           sync.RWMutex
	sessions     []*session
	lastResultAt time.Time
	running      bool

	group *errgroup.Group
}

// New creates a new Agent from the provided configuration and logger.
// Provide the store, transport, enricher, and registry factory via the
// functional options returned by WithStore, WithTransport, WithEnricher,
// and WithRegistryFactory. All are optional, except that Start fails for
// any configured session when no registry factory is set; a configuration
// with no sessions needs none, which is useful in tests that only exercise
// Health/HealthzHandler.
func New(cfg *zoneconfig.Config, logger *slog.Logger, opts ...Option) *Agent {
	a := &Agent{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Option is a functional option for Agent construction.
type Option func(*Agent)

// WithStore registers the local durability store.
func WithStore(s Store) Option {
	return func(a *Agent) { a.store = s }
}

// WithTransport registers the gRPC transport client.
func WithTransport(t Transport) Option {
	return func(a *Agent) { a.transport = t }
}

// WithEnricher registers the best-effort process enricher.
func WithEnricher(e Enricher) Option {
	return func(a *Agent) { a.enricher = e }
}

// WithRegistryFactory registers the constructor used to build one Registry
// per configured session.
func WithRegistryFactory(f RegistryFactory) Option {
	return func(a *Agent) { a.newRegistry = f }
}

// WithAuditLogger registers the tamper-evident audit trail. When unset, a
// session abort is still logged via slog but no append-only record is kept.
func WithAuditLogger(l AuditLogger) Option {
	return func(a *Agent) { a.audit = l }
}

// Start builds and starts one Engine/Registry pair per session named in
// the agent's configuration, then starts the transport client. It returns
// a non-nil error if any session or the transport fails to initialise.
// On success, one goroutine per session pumps registry events into its
// engine until Stop is called or ctx is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent: already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	a.group = group
	groupCtx, cancel := context.WithCancel(groupCtx)
	a.cancel = cancel

	a.logger.Info("starting reconciled agent",
		slog.String("dashboard_addr", a.cfg.DashboardAddr),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("health_addr", a.cfg.HealthAddr),
		slog.Int("num_sessions", len(a.cfg.Sessions)),
	)

	if a.transport != nil {
		if err := a.transport.Start(groupCtx); err != nil {
			cancel()
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return fmt.Errorf("agent: transport failed to start: %w", err)
		}
	}

	for _, sc := range a.cfg.Sessions {
		s, err := a.buildSession(sc)
		if err != nil {
			cancel()
			a.stopSessions()
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return fmt.Errorf("agent: session %q failed to start: %w", sc.Name, err)
		}
		a.mu.Lock()
		a.sessions = append(a.sessions, s)
		a.mu.Unlock()

		group.Go(func() error {
			return a.pumpSession(groupCtx, s)
		})
	}

	a.logger.Info("reconciled agent started")
	return nil
}

// buildSession constructs and starts the Engine and Registry for one
// configured session. The engine is not pumped until the caller launches
// pumpSession.
func (a *Agent) buildSession(sc zoneconfig.SessionConfig) (*session, error) {
	if a.newRegistry == nil {
		return nil, fmt.Errorf("no registry factory configured")
	}

	registry, err := a.newRegistry(a.logger.With(slog.String("session", sc.Name)))
	if err != nil {
		return nil, fmt.Errorf("building registry: %w", err)
	}

	var opts []reconcile.Option
	opts = append(opts, reconcile.WithLogger(a.logger.With(slog.String("session", sc.Name))))
	if sc.MaxNodes > 0 {
		opts = append(opts, reconcile.WithMaxNodes(sc.MaxNodes))
	}
	if sc.MaxResults > 0 {
		opts = append(opts, reconcile.WithMaxResults(sc.MaxResults))
	}

	engine := reconcile.New(registry, opts...)

	for _, zc := range sc.Zones {
		if err := engine.AddZone(zc.ToDirectoryZone()); err != nil {
			return nil, fmt.Errorf("adding zone %q: %w", zc.BasePath, err)
		}
	}
	for _, f := range sc.Files {
		if err := engine.AddFile(f); err != nil {
			return nil, fmt.Errorf("adding file %q: %w", f, err)
		}
	}

	sessionName := sc.Name
	engine.OnResultAction(func(r reconcile.WatchedResult) {
		a.handleResult(sessionName, r)
	})
	abortCh := make(chan error, 1)
	engine.OnAbort(func(err error) {
		a.logger.Error("session aborted", slog.String("session", sessionName), slog.Any("error", err))
		a.recordAbort(sessionName, err)
		select {
		case abortCh <- err:
		default:
		}
	})

	registry.Start()
	<-registry.Ready()

	if err := engine.Start(); err != nil {
		registry.Stop()
		return nil, fmt.Errorf("starting engine: %w", err)
	}

	return &session{name: sessionName, engine: engine, registry: registry, abortCh: abortCh}, nil
}

// pumpSession periodically drains s's registry into its engine and sweeps
// its engine's open-move horizon until ctx is cancelled or the engine
// reports a fatal abort, then stops both. A non-nil return cancels
// groupCtx for every other session in the group.
func (a *Agent) pumpSession(ctx context.Context, s *session) error {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	sweepTicker := time.NewTicker(reconcile.CheckIntervalMillis * time.Millisecond)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.engine.Stop()
			s.registry.Stop()
			return nil
		case err := <-s.abortCh:
			_ = s.engine.Stop()
			s.registry.Stop()
			return fmt.Errorf("session %q: %w", s.name, err)
		case <-ticker.C:
			s.registry.Pump()
		case <-sweepTicker.C:
			s.engine.Sweep()
		}
	}
}

// Stop signals every session's pump goroutine and the transport client to
// shut down, and waits for all internal goroutines to exit. Safe to call
// multiple times.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	group := a.group
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	if group != nil {
		if err := group.Wait(); err != nil {
			a.logger.Warn("session group exited with error", slog.Any("error", err))
		}
	}

	if a.transport != nil {
		a.transport.Stop()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing store", slog.Any("error", err))
		}
	}

	a.logger.Info("reconciled agent stopped")
}

// stopSessions stops every session built so far. Used to unwind a partial
// Start failure.
func (a *Agent) stopSessions() {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = nil
	a.mu.Unlock()

	for _, s := range sessions {
		_ = s.engine.Stop()
		s.registry.Stop()
	}
}

// recordAbort appends a tamper-evident record of a fatal session abort to
// the audit trail, if one is configured. It never blocks the abort signal
// and never panics on a marshal or append failure — it only logs one.
func (a *Agent) recordAbort(sessionName string, abortErr error) {
	if a.audit == nil {
		return
	}
	payload, err := json.Marshal(abortAuditRecord{
		Event:   "session_abort",
		Session: sessionName,
		Reason:  abortErr.Error(),
		At:      time.Now().UTC(),
	})
	if err != nil {
		a.logger.Error("failed to marshal abort audit record", slog.String("session", sessionName), slog.Any("error", err))
		return
	}
	if _, err := a.audit.Append(payload); err != nil {
		a.logger.Error("failed to append abort audit record", slog.String("session", sessionName), slog.Any("error", err))
	}
}

// handleResult persists a result to the durability store, forwards it
// live via the transport, and submits it for best-effort process
// attribution. The attribution callback runs on the enricher's own
// worker goroutine, asynchronously and after the fact, so it never
// delays the initial persist-and-forward.
func (a *Agent) handleResult(sessionName string, r reconcile.WatchedResult) {
	a.mu.Lock()
	a.lastResultAt = time.Now()
	a.mu.Unlock()

	a.logger.Info("result recorded",
		slog.String("session", sessionName),
		slog.String("path", r.Path()),
		slog.Bool("inconsistent", r.Inconsistent),
	)

	ctx := context.Background()

	if a.store != nil {
		if err := a.store.Put(ctx, sessionName, r); err != nil {
			a.logger.Warn("failed to persist result", slog.Any("error", err))
		}
	}

	if a.transport != nil {
		if err := a.transport.Send(ctx, sessionName, r); err != nil {
			a.logger.Warn("failed to send result via transport", slog.Any("error", err))
		}
	}

	if a.enricher != nil {
		path := r.Path()
		a.enricher.Submit(path, func(actor enrich.LikelyActor, found bool) {
			if !found || a.transport == nil {
				return
			}
			if err := a.transport.Send(ctx, sessionName, r, actor.Name); err != nil {
				a.logger.Warn("failed to send enriched result via transport", slog.Any("error", err))
			}
		})
	}
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status        string  `json:"status"`
	UptimeS       float64 `json:"uptime_s"`
	StoreDepth    int     `json:"store_depth"`
	NumSessions   int     `json:"num_sessions"`
	LastResultAt  string  `json:"last_result_at,omitempty"`
}

// Health returns a snapshot of the current agent health state.
func (a *Agent) Health() HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := HealthStatus{
		Status:      "ok",
		UptimeS:     time.Since(a.startTime).Seconds(),
		NumSessions: len(a.sessions),
	}

	if a.store != nil {
		h.StoreDepth = a.store.Depth()
	}

	if !a.lastResultAt.IsZero() {
		h.LastResultAt = a.lastResultAt.UTC().Format(time.RFC3339)
	}

	return h
}

// HealthzHandler is an http.HandlerFunc that responds with the agent's
// health status as a JSON object and HTTP 200.
func (a *Agent) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h := a.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		a.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}
