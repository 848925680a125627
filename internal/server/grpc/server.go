// Package grpc implements the reconcile-dashboard server's gRPC surface: an
// mTLS listener (listener.go) plus the ReconcileService RPC handlers
// (RegisterAgent, RegisterSession, StreamResults) defined in
// proto/reconcile.proto.
//
// The Server type satisfies reconcilepb.ReconcileServiceServer and wires
// together the storage layer (PostgreSQL) and the WebSocket broadcaster for
// real-time result fan-out to browser clients.
//
// Lifecycle
//
//	srv := grpc.NewServer(store, broadcaster, logger)
//	grpcSrv, err := grpc.New(cfg, logger, srv)
//	grpcSrv.Serve(ctx)
package grpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fofimon/reconciler/internal/server/storage"
	ws "github.com/fofimon/reconciler/internal/server/websocket"
	reconcilepb "github.com/fofimon/reconciler/proto/reconcile"
)

// Store is the subset of storage.Store methods used by the gRPC server.
// Defined as an interface so tests can substitute a fake.
type Store interface {
	// UpsertAgent persists the agent record and returns the stable agent_id
	// that is stored in the database. On a hostname conflict the existing
	// agent_id is returned so that session/result correlation remains intact
	// across reconnects.
	UpsertAgent(ctx context.Context, a storage.Agent) (string, error)
	GetAgent(ctx context.Context, agentID string) (*storage.Agent, error)
	CreateSession(ctx context.Context, sess storage.Session) error
	GetSession(ctx context.Context, sessionID string) (*storage.Session, error)
	BatchInsertResults(ctx context.Context, result storage.Result) error
}

// Broadcaster is the subset of ws.Broadcaster used by the gRPC server.
type Broadcaster interface {
	Publish(r storage.Result)
}

// Server implements reconcilepb.ReconcileServiceServer.
type Server struct {
	reconcilepb.UnimplementedReconcileServiceServer

	store       Store
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewServer creates a Server wired to store and broadcaster.
func NewServer(store Store, broadcaster Broadcaster, logger *slog.Logger) *Server {
	return &Server{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// RegisterAgent handles the RegisterAgent RPC.
//
// It upserts the agent record in PostgreSQL and returns the stable agent_id
// UUID that the agent must embed in every subsequent message. When the
// connection is mTLS-authenticated, the verified client certificate's
// CommonName takes precedence over the self-reported hostname, since it
// cannot be spoofed by a misconfigured or malicious agent.
func (s *Server) RegisterAgent(ctx context.Context, req *reconcilepb.AgentRegistration) (*reconcilepb.RegisterResponse, error) {
	if req.Hostname == "" {
		return nil, status.Error(codes.InvalidArgument, "hostname is required")
	}

	hostname := req.Hostname
	if cn, ok := AgentCNFromContext(ctx); ok {
		hostname = cn
	}

	candidateID := uuid.NewString()
	now := time.Now().UTC()

	a := storage.Agent{
		AgentID:      candidateID,
		Hostname:     hostname,
		Platform:     req.Platform,
		AgentVersion: req.AgentVersion,
		LastSeen:     &now,
		Status:       storage.AgentStatusOnline,
	}

	effectiveAgentID, err := s.store.UpsertAgent(ctx, a)
	if err != nil {
		s.logger.Error("grpc: UpsertAgent failed",
			slog.String("hostname", hostname),
			slog.Any("error", err),
		)
		return nil, status.Errorf(codes.Internal, "register agent: %v", err)
	}

	s.logger.Info("agent registered",
		slog.String("hostname", hostname),
		slog.String("agent_id", effectiveAgentID),
		slog.String("platform", req.Platform),
		slog.String("agent_version", req.AgentVersion),
	)

	return &reconcilepb.RegisterResponse{AgentId: effectiveAgentID}, nil
}

// RegisterSession handles the RegisterSession RPC.
//
// It creates the declared watching session and returns a server-assigned
// session_id that the agent must embed in every AgentResult it streams for
// that session.
func (s *Server) RegisterSession(ctx context.Context, req *reconcilepb.SessionRegistration) (*reconcilepb.RegisterResponse, error) {
	if req.AgentId == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id is required")
	}
	if req.SessionName == "" {
		return nil, status.Error(codes.InvalidArgument, "session_name is required")
	}
	if _, err := s.store.GetAgent(ctx, req.AgentId); err != nil {
		return nil, status.Errorf(codes.NotFound, "unknown agent_id %s", req.AgentId)
	}

	sess := storage.Session{
		SessionID:  uuid.NewString(),
		AgentID:    req.AgentId,
		Name:       req.SessionName,
		MaxNodes:   int(req.MaxNodes),
		MaxResults: int(req.MaxResults),
		Enabled:    true,
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		s.logger.Error("grpc: CreateSession failed",
			slog.String("agent_id", req.AgentId),
			slog.String("session_name", req.SessionName),
			slog.Any("error", err),
		)
		return nil, status.Errorf(codes.Internal, "register session: %v", err)
	}

	s.logger.Info("session registered",
		slog.String("agent_id", req.AgentId),
		slog.String("session_id", sess.SessionID),
		slog.String("session_name", req.SessionName),
	)

	return &reconcilepb.RegisterResponse{AgentId: req.AgentId, SessionId: sess.SessionID}, nil
}

// StreamResults handles the bidirectional StreamResults RPC.
//
// For each incoming AgentResult the handler:
//  1. Validates the required fields.
//  2. Persists the result to PostgreSQL via BatchInsertResults.
//  3. Publishes it to the WebSocket Broadcaster for real-time fan-out to
//     connected browser clients.
//  4. Sends an ACK (or error ACK) ServerCommand back to the agent.
func (s *Server) StreamResults(stream reconcilepb.ReconcileService_StreamResultsServer) error {
	ctx := stream.Context()

	for {
		res, err := stream.Recv()
		if err != nil {
			// io.EOF is the canonical end-of-stream signal from the gRPC
			// runtime. Context cancellation and deadline exceeded are also
			// considered normal closure (e.g. agent restart, client timeout).
			// All other errors are genuine transport failures and are
			// returned so the caller can observe and log them.
			if err == io.EOF ||
				err == context.Canceled ||
				err == context.DeadlineExceeded ||
				status.Code(err) == codes.Canceled ||
				status.Code(err) == codes.DeadlineExceeded {
				s.logger.Debug("grpc: StreamResults stream closed", slog.Any("reason", err))
				return nil
			}
			s.logger.Error("grpc: StreamResults transport error", slog.Any("error", err))
			return err
		}

		if err := s.handleResult(ctx, stream, res); err != nil {
			return err
		}
	}
}

// handleResult processes a single AgentResult received from the stream.
func (s *Server) handleResult(ctx context.Context, stream reconcilepb.ReconcileService_StreamResultsServer, res *reconcilepb.AgentResult) error {
	// --- Validation ---
	if res.ResultId == "" {
		return s.sendErrorACK(stream, "", "result_id is required")
	}
	if res.AgentId == "" {
		return s.sendErrorACK(stream, res.ResultId, "agent_id is required")
	}
	if res.SessionId == "" {
		return s.sendErrorACK(stream, res.ResultId, "session_id is required")
	}
	typ, ok := resultTypeString(res.ResultType)
	if !ok {
		return s.sendErrorACK(stream, res.ResultId, fmt.Sprintf("invalid result_type %d", res.ResultType))
	}

	var recordedAt time.Time
	if res.RecordedAtUs > 0 {
		recordedAt = time.UnixMicro(res.RecordedAtUs).UTC()
	} else {
		recordedAt = time.Now().UTC()
	}

	result := storage.Result{
		ResultID:     res.ResultId,
		AgentID:      res.AgentId,
		SessionID:    res.SessionId,
		RecordedAt:   recordedAt,
		ParentPath:   res.ParentPath,
		Name:         res.Name,
		IsDir:        res.IsDir,
		ResultType:   typ,
		Inconsistent: res.Inconsistent,
		ActionsJSON:  res.ActionsJson,
		LikelyActor:  res.LikelyActor,
		ReceivedAt:   time.Now().UTC(),
	}

	if err := s.store.BatchInsertResults(ctx, result); err != nil {
		s.logger.Error("grpc: BatchInsertResults failed",
			slog.String("result_id", res.ResultId),
			slog.Any("error", err),
		)
		return s.sendErrorACK(stream, res.ResultId, fmt.Sprintf("persist result: %v", err))
	}

	s.logger.Info("result ingested",
		slog.String("result_id", res.ResultId),
		slog.String("agent_id", res.AgentId),
		slog.String("session_id", res.SessionId),
		slog.String("type", typ),
		slog.Bool("inconsistent", res.Inconsistent),
	)

	s.broadcaster.Publish(result)

	return s.sendACK(stream, res.ResultId)
}

func (s *Server) sendACK(stream reconcilepb.ReconcileService_StreamResultsServer, resultID string) error {
	return stream.Send(&reconcilepb.ServerCommand{
		Type:    "ACK",
		Payload: []byte(resultID),
	})
}

func (s *Server) sendErrorACK(stream reconcilepb.ReconcileService_StreamResultsServer, resultID, reason string) error {
	s.logger.Warn("grpc: rejecting malformed result",
		slog.String("result_id", resultID),
		slog.String("reason", reason),
	)
	return stream.Send(&reconcilepb.ServerCommand{
		Type:    "ERROR",
		Payload: []byte(reason),
	})
}

// resultTypeString maps the wire-level reconcile.ResultType ordinal to the
// uppercase string stored in the results table and reported over the
// WebSocket/REST APIs. ResultNone (0) has no corresponding row state and is
// rejected.
func resultTypeString(t int32) (string, bool) {
	switch t {
	case 1:
		return "CREATED", true
	case 2:
		return "DELETED", true
	case 3:
		return "MODIFIED", true
	case 4:
		return "TEMPORARY", true
	default:
		return "", false
	}
}
