package rest

import (
	"context"

	"github.com/fofimon/reconciler/internal/server/storage"
)

// Store is the subset of storage.Store methods used by the REST handlers.
// Defining an interface allows handlers to be tested with a mock store without
// a live PostgreSQL connection.
type Store interface {
	// QueryResults returns results matching the given filter and pagination
	// params.
	QueryResults(ctx context.Context, q storage.ResultQuery) ([]storage.Result, error)

	// ListAgents returns all registered agents ordered alphabetically by
	// hostname.
	ListAgents(ctx context.Context) ([]storage.Agent, error)

	// ListSessions returns sessions declared by agentID, or every session
	// when agentID is empty.
	ListSessions(ctx context.Context, agentID string) ([]storage.Session, error)
}
