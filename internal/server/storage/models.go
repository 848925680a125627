// Package storage provides the PostgreSQL-backed persistence layer for the
// reconcile-dashboard server. It exposes typed model structs for the three
// database tables (agents, sessions, results) and a Store that wraps a
// pgxpool connection pool with a batched result-insert path.
package storage

import (
	"encoding/json"
	"time"
)

// AgentStatus represents the liveness state of a reconciled agent host as
// seen by the dashboard.
type AgentStatus string

const (
	AgentStatusOnline   AgentStatus = "ONLINE"
	AgentStatusOffline  AgentStatus = "OFFLINE"
	AgentStatusDegraded AgentStatus = "DEGRADED"
)

// Agent maps to the `agents` table.
//
// IPAddress is the dotted-decimal or CIDR text representation of the
// agent's primary network address. An empty string is stored as SQL NULL.
// LastSeen is nil when the agent has never registered.
type Agent struct {
	AgentID      string      `json:"agent_id"`
	Hostname     string      `json:"hostname"`
	IPAddress    string      `json:"ip_address,omitempty"`
	Platform     string      `json:"platform,omitempty"`
	AgentVersion string      `json:"agent_version,omitempty"`
	LastSeen     *time.Time  `json:"last_seen,omitempty"`
	Status       AgentStatus `json:"status"`
}

// Session maps to the `sessions` table: one declared watching session (a
// named set of directory zones and explicit file watches) registered by an
// agent before it streams results for it.
//
// A nil AgentID (empty string) means the session has not yet completed
// RegisterSession against this dashboard instance.
type Session struct {
	SessionID  string `json:"session_id"`
	AgentID    string `json:"agent_id,omitempty"`
	Name       string `json:"name"`
	MaxNodes   int    `json:"max_nodes"`
	MaxResults int    `json:"max_results"`
	Enabled    bool   `json:"enabled"`
}

// Result maps to the `results` partitioned table: one WatchedResult emitted
// by a reconcile.Engine and forwarded by the agent over StreamResults.
//
// ActionsJSON carries the raw JSONB payload of the reconcile.ActionData
// history. It round-trips without modification. A nil ActionsJSON is stored
// as SQL NULL and returned as a nil json.RawMessage.
type Result struct {
	ResultID     string          `json:"result_id"`
	AgentID      string          `json:"agent_id"`
	SessionID    string          `json:"session_id"`
	RecordedAt   time.Time       `json:"recorded_at"`
	ParentPath   string          `json:"parent_path"`
	Name         string          `json:"name"`
	IsDir        bool            `json:"is_dir"`
	ResultType   string          `json:"result_type"`
	Inconsistent bool            `json:"inconsistent"`
	ActionsJSON  json.RawMessage `json:"actions_json,omitempty"`
	LikelyActor  string          `json:"likely_actor,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// ResultQuery carries the filter and pagination parameters for QueryResults.
//
// From and To are mandatory and bracket the received_at column, enabling
// PostgreSQL partition pruning. Limit defaults to 100 when ≤ 0. An empty
// SessionID matches all sessions. A nil ResultType means no type filter is
// applied.
type ResultQuery struct {
	SessionID  string
	ResultType *string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
