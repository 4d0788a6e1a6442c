package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"sessionstore/internal/config"
	"sessionstore/internal/metrics"
	"sessionstore/internal/registry"
	"sessionstore/internal/storage"
)

// Node wires a store, a session manager and the Sessions service into one
// serving process.
type Node struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *storage.Store
	mgr     *registry.Manager
	metrics *metrics.Metrics

	mu         sync.Mutex
	grpcServer *grpc.Server
}

// NodeOption configures a Node.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	managerOps []registry.Option
}

// WithNodeLogger sets the logger shared by every component of the node.
func WithNodeLogger(l *zap.Logger) NodeOption {
	return func(o *nodeOptions) { o.logger = l }
}

// WithRegisterer registers the node's metrics with r.
func WithRegisterer(r prometheus.Registerer) NodeOption {
	return func(o *nodeOptions) { o.registerer = r }
}

// WithManagerOptions passes extra options to the session manager.
func WithManagerOptions(opts ...registry.Option) NodeOption {
	return func(o *nodeOptions) { o.managerOps = append(o.managerOps, opts...) }
}

// NewNode creates a node from cfg. Nothing is served until Serve or Start.
func NewNode(cfg config.Config, opts ...NodeOption) *Node {
	o := nodeOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	m := metrics.New(o.registerer)
	store := storage.Open(
		storage.WithLogger(o.logger.Named("storage")),
		storage.WithMetrics(m),
		storage.WithMaxRetries(cfg.MaxRetries),
	)
	mgrOpts := append([]registry.Option{
		registry.WithTimeout(cfg.Timeout),
		registry.WithPeriod(cfg.Period),
		registry.WithNonlazy(cfg.Nonlazy),
		registry.WithLogger(o.logger.Named("registry")),
		registry.WithMetrics(m),
	}, o.managerOps...)

	return &Node{
		cfg:     cfg,
		logger:  o.logger,
		store:   store,
		mgr:     registry.New(store, mgrOpts...),
		metrics: m,
	}
}

// Store returns the node's object store.
func (n *Node) Store() *storage.Store { return n.store }

// Manager returns the node's session manager.
func (n *Node) Manager() *registry.Manager { return n.mgr }

// Metrics returns the node's instruments.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Start listens on the configured address and serves until Stop.
func (n *Node) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}
	return n.Serve(ctx, lis)
}

// Serve serves the Sessions service on lis until Stop. The session
// manager's background maintenance runs for as long as Serve does.
func (n *Node) Serve(ctx context.Context, lis net.Listener) error {
	n.mu.Lock()
	srv := NewServer(n.store, n.mgr, WithLogger(n.logger.Named("sessions")))
	n.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		srv.UnaryInterceptor(),
		LoggingInterceptor(n.logger.Named("rpc")),
	))
	RegisterSessionsServer(n.grpcServer, srv)
	reflection.Register(n.grpcServer)
	gs := n.grpcServer
	n.mu.Unlock()

	n.mgr.Start(ctx)
	defer n.mgr.Stop()

	n.logger.Info("serving sessions", zap.String("addr", lis.Addr().String()))
	if err := gs.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	n.mu.Lock()
	gs := n.grpcServer
	n.mu.Unlock()
	if gs != nil {
		n.logger.Info("stopping node")
		gs.GracefulStop()
	}
}
