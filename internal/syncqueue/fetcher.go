package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownEntityType = errors.New("syncqueue: unknown entity type")

// Fetcher returns the full authoritative snapshot of a family.
type Fetcher interface {
	Fetch(ctx context.Context, fam Family) ([]Item, error)
}

type FetcherFunc func(ctx context.Context, fam Family) ([]Item, error)

func (f FetcherFunc) Fetch(ctx context.Context, fam Family) ([]Item, error) { return f(ctx, fam) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Registry routes fetches by entity type.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

func normalizeType(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (r *Registry) Register(entityType string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[normalizeType(entityType)] = f
}

func (r *Registry) Has(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fetchers[normalizeType(entityType)]
	return ok
}

func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.fetchers))
	for k := range r.fetchers {
		out = append(out, k)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (r *Registry) Fetch(ctx context.Context, fam Family) ([]Item, error) {
	r.mu.RLock()
	f, ok := r.fetchers[normalizeType(fam.EntityType)]
	r.mu.RUnlock()
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownEntityType, fam.EntityType))
	}
	return f.Fetch(ctx, fam)
}
