// Package transport implements the gRPC transport client for the reconciled
// agent. The [GRPCClient] manages a persistent bidirectional StreamResults
// connection to the reconcile-dashboard server with the following key
// properties:
//
//   - mTLS: the client presents a certificate signed by the shared CA; the
//     server certificate is verified against the same CA.
//   - RegisterAgent / RegisterSession: called once on each successful
//     connection to obtain a stable agent_id and, per configured session, a
//     session_id embedded in every AgentResult.
//   - Exponential backoff (github.com/cenkalti/backoff/v4): on any connection
//     or stream error the client waits an exponentially increasing interval
//     before reconnecting, resetting to the initial interval after a
//     successful connection.
//   - Store drain on reconnect: each time the stream is established the
//     client first drains all pending results from the local SQLite store
//     (oldest first) before forwarding new live results, so a dashboard
//     outage never loses history.
//   - Metrics: [GRPCClient.ResultsSentTotal] and [GRPCClient.ReconnectTotal]
//     are atomic counters.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fofimon/reconciler/internal/reconcile"
	"github.com/fofimon/reconciler/internal/store"
	reconcilepb "github.com/fofimon/reconciler/proto/reconcile"
)

const (
	// defaultMaxBackoff is the ceiling for the exponential reconnect back-off.
	defaultMaxBackoff = 60 * time.Second

	// defaultInitialBackoff is the wait after the first connection failure.
	defaultInitialBackoff = time.Second

	// drainBatchSize is the number of results dequeued per iteration in
	// drainStore.
	drainBatchSize = 50

	// liveChanCap is the capacity of the buffered channel used to forward live
	// results from Send to the stream goroutine.
	liveChanCap = 256
)

// DrainStore is the subset of [store.Store] used by GRPCClient. It is
// satisfied by *store.Store and can be stubbed in unit tests.
type DrainStore interface {
	Pending(ctx context.Context, n int) ([]store.PendingResult, error)
	Ack(ctx context.Context, ids []int64) error
	Depth() int
}

// SessionSpec describes one watching session the agent registers with the
// dashboard before streaming its results.
type SessionSpec struct {
	Name       string
	MaxNodes   int
	MaxResults int
}

// ClientConfig holds the parameters for connecting to the reconcile-dashboard
// server.
type ClientConfig struct {
	// Addr is the dashboard gRPC address (e.g. "dashboard.example.com:4443").
	// Required.
	Addr string

	// CertPath is the path to the PEM-encoded agent client certificate.
	// Required when Insecure is false.
	CertPath string

	// KeyPath is the path to the PEM-encoded agent private key.
	// Required when Insecure is false.
	KeyPath string

	// CAPath is the path to the PEM-encoded CA certificate used to verify the
	// dashboard server certificate. Required when Insecure is false.
	CAPath string

	// ServerName overrides the TLS server name for SNI verification. When
	// empty the hostname portion of Addr is used. Ignored when Insecure is
	// true.
	ServerName string

	// Hostname is the agent host name sent in RegisterAgent. When empty
	// os.Hostname() is used.
	Hostname string

	// Platform is the OS label sent in RegisterAgent (e.g. "linux/amd64").
	Platform string

	// AgentVersion is the semantic version sent in RegisterAgent.
	AgentVersion string

	// Sessions lists the watching sessions to register on each connection.
	Sessions []SessionSpec

	// MaxBackoff is the maximum reconnect back-off interval. Defaults to
	// defaultMaxBackoff when zero or negative.
	MaxBackoff time.Duration

	// InitialBackoff is the wait after the first connection failure. Defaults
	// to defaultInitialBackoff when zero or negative.
	InitialBackoff time.Duration

	// Insecure disables TLS entirely. Use only in tests; never in production.
	Insecure bool
}

// liveResult pairs a session name with the WatchedResult to be sent, so the
// stream goroutine can resolve the session_id at send time. actorHint is an
// optional best-effort process-attribution string back-filled by
// internal/enrich; empty when no attribution was available in time.
type liveResult struct {
	session   string
	result    reconcile.WatchedResult
	actorHint string
}

// GRPCClient is a bidirectional gRPC transport client streaming
// reconciliation results to the dashboard. It is safe for concurrent use:
// [Send] may be called from any goroutine while the internal run loop manages
// the stream.
//
// Use [New] to construct a GRPCClient. Call [Start] once to begin the
// connection loop. Call [Stop] to shut down cleanly.
type GRPCClient struct {
	cfg    ClientConfig
	store  DrainStore
	logger *slog.Logger

	// liveCh carries results from Send to the run-loop goroutine.
	liveCh chan liveResult

	// stopCh is closed by Stop to signal the run loop to exit.
	stopCh   chan struct{}
	stopOnce sync.Once

	// done is closed by the run loop when it exits.
	done chan struct{}

	// agentID is set after the first successful RegisterAgent call.
	idMu    sync.RWMutex
	agentID string
	// sessionIDs maps a configured session name to the dashboard-assigned
	// session_id, refreshed on every reconnect.
	sessionIDs map[string]string

	// Counters.
	resultsSentTotal atomic.Int64
	reconnectTotal   atomic.Int64
}

// New creates a new GRPCClient but does not start it. Call [Start] to begin
// the connection loop.
//
//   - cfg must have Addr set; CertPath/KeyPath/CAPath are required unless
//     cfg.Insecure is true (testing only).
//   - s is the local SQLite store; it is used to drain pending results on
//     each reconnect. May be nil, in which case draining is skipped.
//   - logger is used for structured logging; pass slog.Default() when no
//     custom logger is required.
func New(cfg ClientConfig, s DrainStore, logger *slog.Logger) *GRPCClient {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCClient{
		cfg:        cfg,
		store:      s,
		logger:     logger,
		liveCh:     make(chan liveResult, liveChanCap),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		sessionIDs: make(map[string]string),
	}
}

// Start launches the connection loop in a background goroutine and returns
// immediately.
func (c *GRPCClient) Start(ctx context.Context) error {
	go c.run(ctx)
	return nil
}

// Send forwards result, tagged with sessionName, to the live channel
// consumed by the stream goroutine. An optional actorHint (the first
// variadic argument; any beyond it are ignored) carries a best-effort
// process-attribution string from internal/enrich.
//
// Send returns an error if the live channel is full (back-pressure from a
// slow stream) or if the client has been stopped. The caller should already
// have persisted result to the local store before calling Send; a failed
// Send is not fatal because the result will be re-delivered by the store
// drain on reconnect.
func (c *GRPCClient) Send(ctx context.Context, sessionName string, result reconcile.WatchedResult, actorHint ...string) error {
	var hint string
	if len(actorHint) > 0 {
		hint = actorHint[0]
	}
	select {
	case c.liveCh <- liveResult{session: sessionName, result: result, actorHint: hint}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return fmt.Errorf("transport: stopped")
	default:
		return fmt.Errorf("transport: live channel full, result will be delivered via store drain")
	}
}

// Stop signals the run loop to exit and blocks until it has. Calling Stop
// more than once is safe.
func (c *GRPCClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

// ResultsSentTotal returns the total number of results successfully
// acknowledged by the server (ACK commands received) since the client was
// created.
func (c *GRPCClient) ResultsSentTotal() int64 { return c.resultsSentTotal.Load() }

// ReconnectTotal returns the total number of reconnect attempts (connection
// losses) since the client was created.
func (c *GRPCClient) ReconnectTotal() int64 { return c.reconnectTotal.Load() }

// StoreDepth delegates to the underlying DrainStore.Depth. It returns 0 when
// no store is configured.
func (c *GRPCClient) StoreDepth() int {
	if c.store == nil {
		return 0
	}
	return c.store.Depth()
}

// AgentID returns the agent_id assigned by the dashboard during the most
// recent successful RegisterAgent call. It returns an empty string before the
// first successful registration.
func (c *GRPCClient) AgentID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.agentID
}

// --- internal ---

// run is the main connection loop. It runs in a background goroutine started
// by Start and exits when stopCh is closed or ctx is cancelled.
func (c *GRPCClient) run(ctx context.Context) {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0 // retry indefinitely
	b.Reset()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		err := c.runOnce(ctx, b.Reset)
		if err == nil {
			return // clean exit (ctx cancelled or stopCh closed inside runOnce)
		}

		c.reconnectTotal.Add(1)
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			// Should not happen when MaxElapsedTime == 0, but guard anyway.
			c.logger.Error("transport: backoff exhausted; giving up")
			return
		}
		c.logger.Warn("transport: connection lost, reconnecting",
			slog.Any("error", err),
			slog.Duration("after", wait),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// runOnce performs a single connect -> register -> stream cycle. It returns
// nil only when the exit is clean (stop/context cancellation). Any other
// return value means the connection was lost and the caller should retry.
// onConnected is called once the results stream has been established.
func (c *GRPCClient) runOnce(ctx context.Context, onConnected func()) error {
	creds, err := c.buildCredentials()
	if err != nil {
		return fmt.Errorf("build TLS credentials: %w", err)
	}

	conn, err := grpc.NewClient(c.cfg.Addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	client := reconcilepb.NewReconcileServiceClient(conn)

	hostname := c.cfg.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}

	regCtx, regCancel := context.WithTimeout(ctx, 10*time.Second)
	resp, err := client.RegisterAgent(regCtx, &reconcilepb.AgentRegistration{
		Hostname:     hostname,
		Platform:     c.cfg.Platform,
		AgentVersion: c.cfg.AgentVersion,
	})
	regCancel()
	if err != nil {
		return fmt.Errorf("RegisterAgent: %w", err)
	}

	c.idMu.Lock()
	c.agentID = resp.AgentId
	c.idMu.Unlock()

	c.logger.Info("transport: registered with dashboard",
		slog.String("agent_id", resp.AgentId),
		slog.String("dashboard_addr", c.cfg.Addr),
	)

	sessionIDs := make(map[string]string, len(c.cfg.Sessions))
	for _, sess := range c.cfg.Sessions {
		sessCtx, sessCancel := context.WithTimeout(ctx, 10*time.Second)
		sessResp, err := client.RegisterSession(sessCtx, &reconcilepb.SessionRegistration{
			AgentId:     resp.AgentId,
			SessionName: sess.Name,
			MaxNodes:    int32(sess.MaxNodes),
			MaxResults:  int32(sess.MaxResults),
		})
		sessCancel()
		if err != nil {
			return fmt.Errorf("RegisterSession(%s): %w", sess.Name, err)
		}
		sessionIDs[sess.Name] = sessResp.SessionId
	}
	c.idMu.Lock()
	c.sessionIDs = sessionIDs
	c.idMu.Unlock()

	stream, err := client.StreamResults(ctx)
	if err != nil {
		return fmt.Errorf("StreamResults: %w", err)
	}
	onConnected()

	if c.store != nil && c.store.Depth() > 0 {
		c.logger.Info("transport: draining store before live results",
			slog.Int("depth", c.store.Depth()),
		)
		if err := c.drainStore(ctx, stream); err != nil {
			select {
			case <-c.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("store drain: %w", err)
			}
		}
		c.logger.Info("transport: store drain complete")
	}

	if err := c.processLive(ctx, stream); err != nil {
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
			return err
		}
	}
	return nil
}

// sessionID returns the dashboard-assigned session_id for name, or "" if it
// is not currently registered (e.g. the agent config lists a session the
// dashboard rejected).
func (c *GRPCClient) sessionID(name string) string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.sessionIDs[name]
}

// drainStore sends all pending results from the store to the server in FIFO
// order. Results whose server response is ERROR are left unacknowledged so
// they are retried on the next reconnect; the drain ends after the batch
// that contained them, and the rest of the store waits for that reconnect.
func (c *GRPCClient) drainStore(ctx context.Context, stream reconcilepb.ReconcileService_StreamResultsClient) error {
	agentID := c.AgentID()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		pending, err := c.store.Pending(ctx, drainBatchSize)
		if err != nil {
			return fmt.Errorf("pending: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		rejected := false
		for _, pr := range pending {
			resultID := uuid.NewString()
			msg := toAgentResult(resultID, agentID, c.sessionID(pr.Session), pr.Result)

			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("send (stored): %w", err)
			}

			cmd, err := stream.Recv()
			if err != nil {
				return fmt.Errorf("recv ACK (stored): %w", err)
			}

			switch cmd.Type {
			case "ACK":
				if ackErr := c.store.Ack(ctx, []int64{pr.ID}); ackErr != nil {
					c.logger.Warn("transport: store Ack failed",
						slog.Int64("store_id", pr.ID),
						slog.Any("error", ackErr),
					)
				} else {
					c.resultsSentTotal.Add(1)
				}
			default:
				rejected = true
				c.logger.Warn("transport: server rejected stored result",
					slog.String("result_id", resultID),
					slog.String("server_response", cmd.Type),
				)
			}
		}
		if rejected {
			return nil
		}
	}
}

// processLive forwards live results received from [Send] onto the gRPC
// stream. It starts a background goroutine that reads ServerCommand ACKs and
// increments resultsSentTotal.
func (c *GRPCClient) processLive(ctx context.Context, stream reconcilepb.ReconcileService_StreamResultsClient) error {
	agentID := c.AgentID()

	recvErrCh := make(chan error, 1)
	go func() {
		for {
			cmd, err := stream.Recv()
			if err != nil {
				recvErrCh <- err
				return
			}
			if cmd.Type == "ACK" {
				c.resultsSentTotal.Add(1)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case err := <-recvErrCh:
			return fmt.Errorf("recv: %w", err)
		case lr := <-c.liveCh:
			msg := toAgentResult(uuid.NewString(), agentID, c.sessionID(lr.session), lr.result)
			msg.LikelyActor = lr.actorHint
			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("send (live): %w", err)
			}
		}
	}
}

// marshalActions converts the action history to JSON bytes for the wire.
func marshalActions(actions []reconcile.ActionData) ([]byte, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	return json.Marshal(actions)
}

// toAgentResult converts a reconcile.WatchedResult into the wire message.
func toAgentResult(resultID, agentID, sessionID string, r reconcile.WatchedResult) *reconcilepb.AgentResult {
	actionsJSON, err := marshalActions(r.Actions)
	if err != nil {
		actionsJSON = nil
	}
	return &reconcilepb.AgentResult{
		ResultId:      resultID,
		AgentId:       agentID,
		SessionId:     sessionID,
		RecordedAtUs:  time.Now().UnixMicro(),
		ParentPath:    r.ParentPath,
		Name:          r.Name,
		IsDir:         r.IsDir,
		ResultType:    int32(r.Type),
		Inconsistent:  r.Inconsistent,
		ActionsJson:   actionsJSON,
	}
}

// buildCredentials constructs gRPC transport credentials from the config.
// When cfg.Insecure is true it returns insecure credentials (testing only).
func (c *GRPCClient) buildCredentials() (credentials.TransportCredentials, error) {
	if c.cfg.Insecure {
		return insecure.NewCredentials(), nil
	}

	clientCert, err := tls.LoadX509KeyPair(c.cfg.CertPath, c.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key (%s, %s): %w", c.cfg.CertPath, c.cfg.KeyPath, err)
	}

	caPEM, err := os.ReadFile(c.cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", c.cfg.CAPath, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert from %s: no certificates found", c.cfg.CAPath)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}
	if c.cfg.ServerName != "" {
		tlsCfg.ServerName = c.cfg.ServerName
	}

	return credentials.NewTLS(tlsCfg), nil
}
