package server

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"sessionstore/internal/lookup"
	"sessionstore/internal/registry"
	"sessionstore/internal/storage"
)

// Server implements the Sessions gRPC service.
type Server struct {
	store  *storage.Store
	mgr    *registry.Manager
	logger *zap.Logger

	readIDs  lookup.ClientIDProvider
	writeIDs lookup.ClientIDProvider
}

var _ SessionsServer = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server over the sessions managed by mgr in store.
func NewServer(store *storage.Store, mgr *registry.Manager, opts ...Option) *Server {
	s := &Server{
		store:    store,
		mgr:      mgr,
		logger:   zap.NewNop(),
		readIDs:  metadataIDs{mint: false},
		writeIDs: metadataIDs{mint: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get handles Get requests. A caller without a client id, or without data
// for the package, gets found=false.
func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pkg, key, err := packageAndKey(req)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, s.readIDs, pkg)
	if errors.Is(err, lookup.ErrNoClientID) {
		return notFound(), nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Debug("get", zap.String("client_id", sess.ClientID()), zap.String("package", pkg), zap.String("key", key))

	var (
		value any
		found bool
	)
	err = s.store.Run(ctx, func(txn *storage.Txn) error {
		value, found = nil, false
		d, ok, err := sess.Get(txn, pkg)
		if err != nil || !ok {
			return err
		}
		value, found = d.Get(key)
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if !found {
		return notFound(), nil
	}

	v, err := structpb.NewValue(value)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"found": structpb.NewBoolValue(true),
		"value": v,
	}}, nil
}

// Set handles Set requests.
func (s *Server) Set(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pkg, key, err := packageAndKey(req)
	if err != nil {
		return nil, err
	}
	raw, ok := req.GetFields()["value"]
	if !ok {
		return nil, invalidArgument("value is required")
	}
	value := raw.AsInterface()

	sess, err := s.session(ctx, s.writeIDs, pkg)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Debug("set", zap.String("client_id", sess.ClientID()), zap.String("package", pkg), zap.String("key", key))

	var lm int64
	err = s.store.Run(ctx, func(txn *storage.Txn) error {
		d, err := sess.Data(txn, pkg)
		if err != nil {
			return err
		}
		if err := d.Set(key, value); err != nil {
			return err
		}
		lm = d.LastModified()
		return nil
	})
	if err != nil {
		s.logger.Info("set failed", zap.String("client_id", sess.ClientID()), zap.String("package", pkg), zap.Error(err))
		return nil, toStatus(err)
	}
	return lastModified(lm), nil
}

// Invalidate handles Invalidate requests.
func (s *Server) Invalidate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pkg, err := stringField(req, "package")
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, s.writeIDs, pkg)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Debug("invalidate", zap.String("client_id", sess.ClientID()), zap.String("package", pkg))

	var lm int64
	err = s.store.Run(ctx, func(txn *storage.Txn) error {
		d, err := sess.Data(txn, pkg)
		if err != nil {
			return err
		}
		if err := d.Invalidate(); err != nil {
			return err
		}
		lm = d.LastModified()
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return lastModified(lm), nil
}

// UnaryInterceptor installs the server's manager and a transient session
// into each request. Handlers other than Clear and Health need it.
func (s *Server) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return RequestInterceptor(s.mgr)
}

// Clear drops every session.
func (s *Server) Clear(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.mgr.Clear()
	return &emptypb.Empty{}, nil
}

// Health reports that the server is serving.
func (s *Server) Health(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

// session resolves the caller's session through the manager installed by
// RequestInterceptor.
func (s *Server) session(ctx context.Context, ids lookup.ClientIDProvider, pkg string) (*lookup.Session, error) {
	note(ctx, "package", pkg)
	sess, err := lookup.FromContext(ctx, ids)
	if err != nil {
		return nil, err
	}
	note(ctx, "client_id", sess.ClientID())
	return sess, nil
}

func packageAndKey(req *structpb.Struct) (string, string, error) {
	pkg, err := stringField(req, "package")
	if err != nil {
		return "", "", err
	}
	key, err := stringField(req, "key")
	if err != nil {
		return "", "", err
	}
	return pkg, key, nil
}

func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", invalidArgument("%s is required", name)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || sv.StringValue == "" {
		return "", invalidArgument("%s must be a non-empty string", name)
	}
	return sv.StringValue, nil
}

func notFound() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"found": structpb.NewBoolValue(false),
	}}
}

func lastModified(lm int64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"last_modified": structpb.NewNumberValue(float64(lm)),
	}}
}
