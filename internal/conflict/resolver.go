package conflict

// Resolver is the three-way merge capability. Implementations must be pure:
// the same three inputs always yield the same result or the same conflict,
// and none of the inputs may be mutated.
type Resolver[S any] interface {
	Resolve(old, committed, new S) (S, error)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc[S any] func(old, committed, new S) (S, error)

// Resolve calls f(old, committed, new).
func (f ResolverFunc[S]) Resolve(old, committed, new S) (S, error) {
	return f(old, committed, new)
}
