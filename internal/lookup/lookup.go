package lookup

import (
	"context"
	"errors"

	"sessionstore/internal/registry"
	"sessionstore/internal/storage"
)

var (
	// ErrNoClientID is returned when a request carries no client id and the
	// provider cannot mint one.
	ErrNoClientID = errors.New("no client id")
	// ErrNoManager is returned when no manager was installed with WithManager.
	ErrNoManager = errors.New("no session manager in context")
)

// ClientIDProvider returns the client id of the current request.
type ClientIDProvider interface {
	ClientID(ctx context.Context) (string, error)
}

// ClientIDFunc adapts a function to ClientIDProvider.
type ClientIDFunc func(ctx context.Context) (string, error)

// ClientID calls f.
func (f ClientIDFunc) ClientID(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always returns id.
func Static(id string) ClientIDProvider {
	return ClientIDFunc(func(context.Context) (string, error) {
		if id == "" {
			return "", ErrNoClientID
		}
		return id, nil
	})
}

type managerKey struct{}

// WithManager returns a context carrying m.
func WithManager(ctx context.Context, m *registry.Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// ManagerFrom returns the manager stored by WithManager.
func ManagerFrom(ctx context.Context) (*registry.Manager, bool) {
	m, ok := ctx.Value(managerKey{}).(*registry.Manager)
	return m, ok && m != nil
}

type transientKey struct{}

// WithTransient returns a context carrying t.
func WithTransient(ctx context.Context, t *Transient) context.Context {
	return context.WithValue(ctx, transientKey{}, t)
}

// TransientFrom returns the transient session stored by WithTransient.
func TransientFrom(ctx context.Context) (*Transient, bool) {
	t, ok := ctx.Value(transientKey{}).(*Transient)
	return t, ok && t != nil
}

// Session is the persistent session of one client.
type Session struct {
	clientID string
	mgr      *registry.Manager
}

// New returns the session of clientID backed by mgr.
func New(clientID string, mgr *registry.Manager) *Session {
	return &Session{clientID: clientID, mgr: mgr}
}

// FromContext builds the session of the request in ctx using the manager
// installed by WithManager.
func FromContext(ctx context.Context, ids ClientIDProvider) (*Session, error) {
	mgr, ok := ManagerFrom(ctx)
	if !ok {
		return nil, ErrNoManager
	}
	id, err := ids.ClientID(ctx)
	if err != nil {
		return nil, err
	}
	return New(id, mgr), nil
}

// ClientID returns the id the session belongs to.
func (s *Session) ClientID() string { return s.clientID }

// Get returns the data of pkg if the client has any. It never creates.
func (s *Session) Get(txn *storage.Txn, pkg string) (*registry.Data, bool, error) {
	return s.mgr.Query(txn, s.ident(pkg))
}

// Data returns the data of pkg, creating it on first use.
func (s *Session) Data(txn *storage.Txn, pkg string) (*registry.Data, error) {
	return s.mgr.Get(txn, s.ident(pkg))
}

func (s *Session) ident(pkg string) registry.Ident {
	return registry.Ident{ClientID: s.clientID, PackageID: pkg}
}
