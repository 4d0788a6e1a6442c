package server

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client of the Sessions service. It remembers the client
// id the server mints on the first write. Safe for concurrent use.
type Client struct {
	conn grpc.ClientConnInterface

	mu       sync.RWMutex
	clientID string
}

// NewClient wraps conn. An empty clientID lets the server mint one.
func NewClient(conn grpc.ClientConnInterface, clientID string) *Client {
	return &Client{conn: conn, clientID: clientID}
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}

// ClientID returns the id sent with each request.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// Get returns the value stored under key in pkg.
func (c *Client) Get(ctx context.Context, pkg, key string) (any, bool, error) {
	req, err := structpb.NewStruct(map[string]any{"package": pkg, "key": key})
	if err != nil {
		return nil, false, err
	}
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodGet, req, resp); err != nil {
		return nil, false, err
	}
	if !resp.GetFields()["found"].GetBoolValue() {
		return nil, false, nil
	}
	return resp.GetFields()["value"].AsInterface(), true, nil
}

// Set stores value under key in pkg and returns the session's new stamp.
// value must be convertible by structpb.NewValue.
func (c *Client) Set(ctx context.Context, pkg, key string, value any) (int64, error) {
	v, err := structpb.NewValue(value)
	if err != nil {
		return 0, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"package": structpb.NewStringValue(pkg),
		"key":     structpb.NewStringValue(key),
		"value":   v,
	}}
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodSet, req, resp); err != nil {
		return 0, err
	}
	return int64(resp.GetFields()["last_modified"].GetNumberValue()), nil
}

// Invalidate flags the session of pkg invalid.
func (c *Client) Invalidate(ctx context.Context, pkg string) (int64, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"package": structpb.NewStringValue(pkg),
	}}
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodInvalidate, req, resp); err != nil {
		return 0, err
	}
	return int64(resp.GetFields()["last_modified"].GetNumberValue()), nil
}

// Clear drops every session on the server.
func (c *Client) Clear(ctx context.Context) error {
	return c.conn.Invoke(ctx, MethodClear, &emptypb.Empty{}, &emptypb.Empty{})
}

// Health checks that the server is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.conn.Invoke(ctx, MethodHealth, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if id := c.ClientID(); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, ClientIDKey, id)
	}
	var header metadata.MD
	if err := c.conn.Invoke(ctx, method, req, resp, grpc.Header(&header)); err != nil {
		return err
	}
	if ids := header.Get(ClientIDKey); len(ids) > 0 {
		c.mu.Lock()
		if c.clientID == "" {
			c.clientID = ids[0]
		}
		c.mu.Unlock()
	}
	return nil
}
