package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of result rows held in-memory
	// before an automatic flush is triggered.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending results even when the batch has not yet reached
	// DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond
)

// Store is the PostgreSQL-backed storage layer for the reconcile-dashboard
// server.
//
// Result ingestion is batched: callers enqueue individual Result values via
// BatchInsertResults, which accumulates them in memory and flushes to the
// database either when the buffer reaches batchSize or when the background
// ticker fires, whichever comes first. All other operations (agents,
// sessions) are executed immediately.
type Store struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []Result
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to connStr, pings the database, and starts
// the background flush goroutine.
//
// batchSize ≤ 0 is replaced with DefaultBatchSize.
// flushInterval ≤ 0 is replaced with DefaultFlushInterval.
func New(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	s := &Store{
		pool:          pool,
		batch:         make([]Result, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the background flush goroutine, flushes any remaining buffered
// results, and closes the connection pool. It is safe to call Close more
// than once; subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
		<-s.doneCh
		// Best-effort final flush; errors are not propagated on close.
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

// flushLoop is the background goroutine that ticks on flushInterval and
// calls Flush. It exits when stopCh is closed.
func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// BatchInsertResults enqueues result for deferred batch insertion.
//
// If the internal buffer reaches batchSize after appending, Flush is called
// synchronously before returning so that the caller observes back-pressure
// rather than unbounded memory growth.
func (s *Store) BatchInsertResults(ctx context.Context, result Result) error {
	s.mu.Lock()
	s.batch = append(s.batch, result)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current result buffer and sends all rows to PostgreSQL
// in a single pgx.Batch round-trip. Rows that conflict on the primary key
// are silently ignored (idempotent replay support, since the agent may
// re-deliver a result after a reconnect before the dashboard's prior ACK
// reaches it).
//
// Flush is safe to call concurrently: a mutex swap ensures each call drains
// a distinct snapshot of the buffer.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]Result, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO results
			(result_id, agent_id, session_id, recorded_at, parent_path, name, is_dir, result_type, inconsistent, actions_json, likely_actor, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		r := &toInsert[i]
		actions := []byte(r.ActionsJSON)
		if actions == nil {
			actions = []byte("null")
		}
		b.Queue(query,
			r.ResultID, r.AgentID, r.SessionID, r.RecordedAt,
			r.ParentPath, r.Name, r.IsDir, r.ResultType, r.Inconsistent,
			actions, nullableStr(r.LikelyActor), r.ReceivedAt,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec result: %w", err)
		}
	}
	return nil
}

// QueryResults returns paginated results that fall within [q.From, q.To) on
// the received_at column. The time-range constraint enables PostgreSQL
// partition pruning so only the relevant partitions are scanned.
//
// Optional filters: q.SessionID (exact match), q.ResultType (exact match).
// q.Limit defaults to 100; q.Offset enables cursor-style pagination.
// Results are ordered by received_at DESC, result_id ASC.
func (s *Store) QueryResults(ctx context.Context, q ResultQuery) ([]Result, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	// Base args: $1=from, $2=to, $3=limit, $4=offset
	args := []any{q.From, q.To, q.Limit, q.Offset}
	where := "WHERE received_at >= $1 AND received_at < $2"
	argIdx := 5

	if q.SessionID != "" {
		where += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, q.SessionID)
		argIdx++
	}
	if q.ResultType != nil {
		where += fmt.Sprintf(" AND result_type = $%d", argIdx)
		args = append(args, *q.ResultType)
		argIdx++ //nolint:ineffassign // reserved for future filters
	}

	sql := fmt.Sprintf(`
		SELECT result_id, agent_id, session_id, recorded_at, parent_path, name,
		       is_dir, result_type, inconsistent, actions_json, likely_actor, received_at
		FROM   results
		%s
		ORDER  BY received_at DESC, result_id
		LIMIT  $3 OFFSET $4`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// --- Agent CRUD ---

// UpsertAgent inserts a new agent or, on hostname conflict, updates all
// mutable fields. It returns the effective agent_id that is persisted in
// the database: on a clean insert this equals a.AgentID; on a hostname
// conflict the existing agent_id is returned unchanged, so callers always
// receive a stable identifier that correlates with historical results even
// across agent reconnects.
func (s *Store) UpsertAgent(ctx context.Context, a Agent) (string, error) {
	var effectiveAgentID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents
			(agent_id, hostname, ip_address, platform, agent_version, last_seen, status)
		VALUES ($1, $2, $3::inet, $4, $5, $6, $7)
		ON CONFLICT (hostname) DO UPDATE SET
			ip_address    = EXCLUDED.ip_address,
			platform      = EXCLUDED.platform,
			agent_version = EXCLUDED.agent_version,
			last_seen     = EXCLUDED.last_seen,
			status        = EXCLUDED.status
		RETURNING agent_id`,
		a.AgentID,
		a.Hostname,
		nullableStr(a.IPAddress),
		nullableStr(a.Platform),
		nullableStr(a.AgentVersion),
		a.LastSeen,
		string(a.Status),
	).Scan(&effectiveAgentID)
	if err != nil {
		return "", fmt.Errorf("upsert agent: %w", err)
	}
	return effectiveAgentID, nil
}

// GetAgent returns the agent with the given UUID, or an error wrapping
// pgx.ErrNoRows when not found.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT agent_id, hostname, ip_address::text, platform, agent_version, last_seen, status
		FROM   agents
		WHERE  agent_id = $1`, agentID)
	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return a, nil
}

// ListAgents returns all registered agents ordered alphabetically by
// hostname.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, hostname, ip_address::text, platform, agent_version, last_seen, status
		FROM   agents
		ORDER  BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// --- Session CRUD ---

// CreateSession inserts a newly declared watching session. The caller is
// responsible for generating sess.SessionID (e.g. a UUID string); the
// database default is not used so that the ID is available immediately in
// the caller's context.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, agent_id, name, max_nodes, max_results, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.SessionID,
		nullableStr(sess.AgentID),
		sess.Name,
		sess.MaxNodes,
		sess.MaxResults,
		sess.Enabled,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession fetches a single session by its UUID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, agent_id, name, max_nodes, max_results, enabled
		FROM   sessions
		WHERE  session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ListSessions returns sessions. When agentID is non-empty, only sessions
// explicitly assigned to that agent or with a NULL agent_id (not yet
// registered) are returned. When agentID is empty, all sessions are
// returned.
func (s *Store) ListSessions(ctx context.Context, agentID string) ([]Session, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if agentID != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT session_id, agent_id, name, max_nodes, max_results, enabled
			FROM   sessions
			WHERE  agent_id = $1 OR agent_id IS NULL
			ORDER  BY session_id`, agentID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT session_id, agent_id, name, max_nodes, max_results, enabled
			FROM   sessions
			ORDER  BY session_id`)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// UpdateSession replaces all mutable fields of an existing session.
func (s *Store) UpdateSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET    agent_id    = $2,
		       name        = $3,
		       max_nodes   = $4,
		       max_results = $5,
		       enabled     = $6
		WHERE  session_id = $1`,
		sess.SessionID,
		nullableStr(sess.AgentID),
		sess.Name,
		sess.MaxNodes,
		sess.MaxResults,
		sess.Enabled,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.SessionID, err)
	}
	return nil
}

// DeleteSession removes the session identified by sessionID.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// --- internal helpers ---

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing shared scan
// helpers across single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// scanAgent reads one agent row from s. The ip_address column must be
// projected as ::text by the caller.
func scanAgent(s scanner) (*Agent, error) {
	var a Agent
	var ip, platform, agentVersion *string
	var status string
	err := s.Scan(
		&a.AgentID, &a.Hostname,
		&ip, &platform, &agentVersion,
		&a.LastSeen,
		&status,
	)
	if err != nil {
		return nil, err
	}
	a.Status = AgentStatus(status)
	if ip != nil {
		a.IPAddress = *ip
	}
	if platform != nil {
		a.Platform = *platform
	}
	if agentVersion != nil {
		a.AgentVersion = *agentVersion
	}
	return &a, nil
}

// scanSession reads one session row from s.
func scanSession(s scanner) (*Session, error) {
	var sess Session
	var agentID *string
	err := s.Scan(&sess.SessionID, &agentID, &sess.Name, &sess.MaxNodes, &sess.MaxResults, &sess.Enabled)
	if err != nil {
		return nil, err
	}
	if agentID != nil {
		sess.AgentID = *agentID
	}
	return &sess, nil
}

// scanResult reads one result row from s.
func scanResult(s scanner) (*Result, error) {
	var r Result
	var actions []byte
	var likelyActor *string
	err := s.Scan(
		&r.ResultID, &r.AgentID, &r.SessionID, &r.RecordedAt,
		&r.ParentPath, &r.Name, &r.IsDir, &r.ResultType, &r.Inconsistent,
		&actions, &likelyActor, &r.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ActionsJSON = actions
	if likelyActor != nil {
		r.LikelyActor = *likelyActor
	}
	return &r, nil
}

// nullableStr converts an empty string to a nil pointer, which pgx stores as
// SQL NULL. A non-empty string is returned as-is.
func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
