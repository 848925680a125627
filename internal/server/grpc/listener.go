// Package grpc implements the reconcile-dashboard server's gRPC surface: an
// mTLS listener plus the ReconcileService RPC handlers (RegisterAgent,
// RegisterSession, StreamResults) defined in proto/reconcile.proto.
package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	reconcilepb "github.com/fofimon/reconciler/proto/reconcile"
)

// Config holds the mTLS listener configuration for the ReconcileService gRPC
// server.
type Config struct {
	// Addr is the listen address, e.g. ":4443". Unused by ServeOnListener,
	// which accepts an already-bound net.Listener (mainly for tests).
	Addr string

	// CertPath/KeyPath identify the server's own TLS identity.
	CertPath string
	KeyPath  string

	// CAPath is the PEM CA bundle used to verify agent client certificates.
	CAPath string
}

// agentCNKey is the context key under which the verified client certificate
// CommonName is stored by the CN-extracting interceptors.
type agentCNKey struct{}

// GRPCServer wraps a *grpc.Server configured with mTLS transport credentials
// and the agent-CN-extracting interceptor chain.
type GRPCServer struct {
	srv    *grpc.Server
	addr   string
	logger *slog.Logger
}

// New builds a GRPCServer with mTLS transport credentials loaded from cfg,
// registers svc as the ReconcileServiceServer implementation, and returns the
// wrapper ready to Serve.
func New(cfg Config, logger *slog.Logger, svc reconcilepb.ReconcileServiceServer) (*GRPCServer, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load server key pair: %w", err)
	}

	caPEM, err := os.ReadFile(cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA bundle %s: no certificates found", cfg.CAPath)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS12,
	}

	grpcSrv := grpc.NewServer(
		grpc.Creds(credentials.NewTLS(tlsCfg)),
		grpc.UnaryInterceptor(cnUnaryInterceptor),
		grpc.StreamInterceptor(cnStreamInterceptor),
	)
	reconcilepb.RegisterReconcileServiceServer(grpcSrv, svc)

	return &GRPCServer{srv: grpcSrv, addr: cfg.Addr, logger: logger}, nil
}

// Serve binds cfg.Addr and serves until ctx is cancelled, at which point it
// performs a graceful stop.
func (s *GRPCServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.ServeOnListener(ctx, lis)
}

// ServeOnListener serves on an already-bound listener (used by tests that
// need a deterministic, OS-assigned port) until ctx is cancelled.
func (s *GRPCServer) ServeOnListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.srv.GracefulStop()
	}()
	return s.srv.Serve(lis)
}

// Stop forces an immediate shutdown, for use when graceful stop does not
// complete within a caller-enforced deadline.
func (s *GRPCServer) Stop() {
	s.srv.Stop()
}

// cnUnaryInterceptor extracts the verified client certificate's CommonName
// and stashes it in the request context for unary RPCs.
func cnUnaryInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return handler(withAgentCN(ctx), req)
}

// cnStreamInterceptor does the same for streaming RPCs, wrapping the stream
// so that stream.Context() carries the CN.
func cnStreamInterceptor(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	return handler(srv, &cnServerStream{ServerStream: ss, ctx: withAgentCN(ss.Context())})
}

type cnServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *cnServerStream) Context() context.Context { return s.ctx }

// withAgentCN reads the verified peer certificate chain out of ctx (attached
// by the TLS transport credentials) and returns a child context carrying its
// leaf CommonName, if any.
func withAgentCN(ctx context.Context) context.Context {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ctx
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.VerifiedChains) == 0 || len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return ctx
	}
	cn := tlsInfo.State.VerifiedChains[0][0].Subject.CommonName
	return context.WithValue(ctx, agentCNKey{}, cn)
}

// AgentCNFromContext returns the verified client certificate CommonName
// attached to ctx by the mTLS interceptor, and whether one was present.
func AgentCNFromContext(ctx context.Context) (string, bool) {
	cn, ok := ctx.Value(agentCNKey{}).(string)
	return cn, ok && cn != ""
}
