package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"sessionstore/internal/config"
	"sessionstore/internal/registry"
	"sessionstore/internal/server"
)

const bufSize = 1 << 20

// Node is a sessions node serving over an in-memory listener.
type Node struct {
	*server.Node
	Registry *prometheus.Registry

	lis   *bufconn.Listener
	done  chan error
	mu    sync.Mutex
	conns []*grpc.ClientConn
}

// StartNode starts a node with cfg and waits until it answers Health.
func StartNode(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...registry.Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	n := &Node{
		Node: server.NewNode(cfg,
			server.WithNodeLogger(logger),
			server.WithRegisterer(reg),
			server.WithManagerOptions(opts...),
		),
		Registry: reg,
		lis:      bufconn.Listen(bufSize),
		done:     make(chan error, 1),
	}
	go func() {
		n.done <- n.Serve(context.Background(), n.lis)
	}()

	if err := n.waitForReady(ctx, 5*time.Second); err != nil {
		n.Stop()
		return nil, err
	}
	return n, nil
}

// Client returns a client that identifies itself as clientID. An empty id
// lets the server mint one.
func (n *Node) Client(clientID string) (*server.Client, error) {
	conn, err := server.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return n.lis.DialContext(ctx)
		}),
	)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.conns = append(n.conns, conn)
	n.mu.Unlock()
	return server.NewClient(conn, clientID), nil
}

// waitForReady polls Health until it succeeds or timeout passes.
func (n *Node) waitForReady(ctx context.Context, timeout time.Duration) error {
	client, err := n.Client("")
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		healthCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := client.Health(healthCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for node to be ready: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-n.done:
			return fmt.Errorf("node exited before becoming ready: %w", err)
		case <-ticker.C:
		}
	}
}

// Stop closes every client connection and stops the node.
func (n *Node) Stop() {
	n.mu.Lock()
	conns := n.conns
	n.conns = nil
	n.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	n.Node.Stop()
}
