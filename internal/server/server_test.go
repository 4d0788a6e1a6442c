package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"sessionstore/internal/conflict"
	"sessionstore/internal/lookup"
	"sessionstore/internal/registry"
	"sessionstore/internal/session"
	"sessionstore/internal/storage"
)

func newTestServer() *Server {
	store := storage.Open()
	return NewServer(store, registry.New(store))
}

// asClient builds the context RequestInterceptor hands to s's handlers.
func asClient(s *Server, id string) context.Context {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(ClientIDKey, id))
	ctx = lookup.WithManager(ctx, s.mgr)
	return lookup.WithTransient(ctx, lookup.NewTransient())
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestServer_SetThenGet(t *testing.T) {
	s := newTestServer()
	ctx := asClient(s, "foobar")

	resp, err := s.Set(ctx, mustStruct(t, map[string]any{"package": "pkg", "key": "greeting", "value": "hi"}))
	require.NoError(t, err)
	assert.Positive(t, resp.GetFields()["last_modified"].GetNumberValue())

	got, err := s.Get(ctx, mustStruct(t, map[string]any{"package": "pkg", "key": "greeting"}))
	require.NoError(t, err)
	assert.True(t, got.GetFields()["found"].GetBoolValue())
	assert.Equal(t, "hi", got.GetFields()["value"].GetStringValue())

	other, err := s.Get(asClient(s, "someone-else"), mustStruct(t, map[string]any{"package": "pkg", "key": "greeting"}))
	require.NoError(t, err)
	assert.False(t, other.GetFields()["found"].GetBoolValue())
}

func TestServer_GetWithoutClientID(t *testing.T) {
	s := newTestServer()

	ctx := lookup.WithManager(context.Background(), s.mgr)
	got, err := s.Get(ctx, mustStruct(t, map[string]any{"package": "pkg", "key": "k"}))
	require.NoError(t, err)
	assert.False(t, got.GetFields()["found"].GetBoolValue())
	assert.Equal(t, 0, s.mgr.Sessions())
}

func TestServer_InvalidArguments(t *testing.T) {
	s := newTestServer()
	ctx := asClient(s, "foobar")

	tests := []struct {
		name string
		call func() error
	}{
		{"get without package", func() error {
			_, err := s.Get(ctx, mustStruct(t, map[string]any{"key": "k"}))
			return err
		}},
		{"get with numeric key", func() error {
			_, err := s.Get(ctx, mustStruct(t, map[string]any{"package": "p", "key": 1}))
			return err
		}},
		{"set without value", func() error {
			_, err := s.Set(ctx, mustStruct(t, map[string]any{"package": "p", "key": "k"}))
			return err
		}},
		{"invalidate with empty package", func() error {
			_, err := s.Invalidate(ctx, mustStruct(t, map[string]any{"package": ""}))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, codes.InvalidArgument, status.Code(tt.call()))
		})
	}
}

func TestServer_Invalidate(t *testing.T) {
	s := newTestServer()
	ctx := asClient(s, "foobar")

	first, err := s.Set(ctx, mustStruct(t, map[string]any{"package": "pkg", "key": "k", "value": 1}))
	require.NoError(t, err)
	resp, err := s.Invalidate(ctx, mustStruct(t, map[string]any{"package": "pkg"}))
	require.NoError(t, err)
	assert.Greater(t, resp.GetFields()["last_modified"].GetNumberValue(), first.GetFields()["last_modified"].GetNumberValue())

	txn := s.store.Begin()
	d, found, err := s.mgr.Query(txn, registry.Ident{ClientID: "foobar", PackageID: "pkg"})
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, d.Invalid())
}

func TestServer_ClearAndHealth(t *testing.T) {
	s := newTestServer()
	ctx := asClient(s, "foobar")

	_, err := s.Set(ctx, mustStruct(t, map[string]any{"package": "pkg", "key": "k", "value": true}))
	require.NoError(t, err)
	require.Equal(t, 1, s.mgr.Sessions())

	_, err = s.Clear(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.mgr.Sessions())
	assert.Len(t, s.mgr.Buckets(), 1)

	_, err = s.Health(ctx, &emptypb.Empty{})
	assert.NoError(t, err)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{fmt.Errorf("giving up: %w", conflict.Newf("boom")), codes.Aborted},
		{fmt.Errorf("insert: %w", conflict.ErrInvalidMutation), codes.FailedPrecondition},
		{context.Canceled, codes.Canceled},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), "error %v", tt.err)
	}
}

func TestServer_RequiresManagerInContext(t *testing.T) {
	s := newTestServer()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(ClientIDKey, "foobar"))

	_, err := s.Set(ctx, mustStruct(t, map[string]any{"package": "pkg", "key": "k", "value": 1}))
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestRequestInterceptor(t *testing.T) {
	s := newTestServer()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(ClientIDKey, "foobar"))
	req := mustStruct(t, map[string]any{"package": "pkg", "key": "k", "value": "v"})

	var noted session.Payload
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := s.Set(ctx, req.(*structpb.Struct))
		if tr, ok := lookup.TransientFrom(ctx); ok {
			noted = tr.Get(requestPackage, nil)
		}
		return resp, err
	}
	_, err := s.UnaryInterceptor()(ctx, req, &grpc.UnaryServerInfo{FullMethod: MethodSet}, handler)
	require.NoError(t, err)

	assert.Equal(t, session.Payload{"package": "pkg", "client_id": "foobar"}, noted)
	assert.Equal(t, 1, s.mgr.Sessions())
}
