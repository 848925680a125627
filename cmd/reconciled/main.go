// Command reconciled is the reconciliation agent binary. It loads a YAML
// configuration file, starts one reconciliation session per configured
// entry (inotify registry, engine, local durability store, best-effort
// process enricher, and gRPC transport), exposes a /healthz liveness
// endpoint, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fofimon/reconciler/internal/agent"
	"github.com/fofimon/reconciler/internal/audit"
	"github.com/fofimon/reconciler/internal/enrich"
	"github.com/fofimon/reconciler/internal/reconcile"
	"github.com/fofimon/reconciler/internal/store"
	"github.com/fofimon/reconciler/internal/transport"
	"github.com/fofimon/reconciler/internal/zoneconfig"
)

func main() {
	configPath := flag.String("config", "/etc/reconciled/config.yaml", "path to the reconciled agent YAML configuration file")
	flag.Parse()

	cfg, err := zoneconfig.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciled: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("dashboard_addr", cfg.DashboardAddr),
		slog.String("log_level", cfg.LogLevel),
		slog.String("health_addr", cfg.HealthAddr),
		slog.Int("num_sessions", len(cfg.Sessions)),
	)

	// Open the local SQLite durability store. It persists every result
	// emitted by any session's engine before the agent forwards it to the
	// dashboard, so a dashboard outage or agent crash never loses
	// reconciliation history.
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Error("failed to open durability store", slog.String("path", cfg.StorePath), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("durability store opened", slog.String("path", cfg.StorePath), slog.Int("pending", st.Depth()))

	sessionSpecs := make([]transport.SessionSpec, len(cfg.Sessions))
	for i, sc := range cfg.Sessions {
		sessionSpecs[i] = transport.SessionSpec{Name: sc.Name, MaxNodes: sc.MaxNodes, MaxResults: sc.MaxResults}
	}

	// Create the gRPC transport client. It dials with mTLS, registers the
	// agent and every session, drains the store before forwarding live
	// results, and reconnects automatically on stream errors.
	grpcTransport := transport.New(
		transport.ClientConfig{
			Addr:         cfg.DashboardAddr,
			CertPath:     cfg.TLS.CertPath,
			KeyPath:      cfg.TLS.KeyPath,
			CAPath:       cfg.TLS.CAPath,
			Platform:     runtime.GOOS,
			AgentVersion: cfg.AgentVersion,
			Sessions:     sessionSpecs,
		},
		st,
		logger,
	)

	// The enricher best-effort correlates a result's path with a process
	// found holding it open. It never blocks result
	// emission; attribution is back-filled asynchronously.
	enricher := enrich.New(enrich.WithLogger(logger))

	opts := []agent.Option{
		agent.WithStore(st),
		agent.WithTransport(grpcTransport),
		agent.WithEnricher(enricher),
		agent.WithRegistryFactory(func(log *slog.Logger) (agent.Registry, error) {
			return reconcile.NewLinuxRegistry(log)
		}),
	}

	// The audit trail is optional: a fatal session abort is always logged
	// via slog, but an operator who wants an append-only, tamper-evident
	// record of every abort configures audit_log_path.
	var auditLogger *audit.Logger
	if cfg.AuditLogPath != "" {
		auditLogger, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", slog.String("path", cfg.AuditLogPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer auditLogger.Close()
		opts = append(opts, agent.WithAuditLogger(auditLogger))
		logger.Info("audit trail opened", slog.String("path", cfg.AuditLogPath))
	}

	ag := agent.New(cfg, logger, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ag.Start(ctx); err != nil {
		logger.Error("failed to start agent", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ag.HealthzHandler)

	healthServer := &http.Server{
		Addr:         cfg.HealthAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("healthz server listening", slog.String("addr", cfg.HealthAddr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("healthz server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	ag.Stop()
	enricher.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("healthz server shutdown error", slog.Any("error", err))
	}

	logger.Info("reconciled agent exited cleanly")
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
