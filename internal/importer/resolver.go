package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/circularops/api/internal/store"
)

// Reference is a natural key and the id it resolved to, if any.
type Reference struct {
	NaturalKey string
	ID         *uuid.UUID
}

func (r Reference) Found() bool {
	return r.ID != nil
}

// Lookup maps natural keys to ids by exact string equality.
type Lookup map[string]uuid.UUID

func (l Lookup) Resolve(key string) Reference {
	if id, ok := l[key]; ok {
		return Reference{NaturalKey: key, ID: &id}
	}
	return Reference{NaturalKey: key}
}

func (l Lookup) Add(key string, id uuid.UUID) {
	l[key] = id
}

type RefKind string

const (
	RefCustomer RefKind = "customer"
	RefDriver   RefKind = "driver"
	RefProduct  RefKind = "product"
)

// Resolver turns natural keys into ids with one batched query per kind.
type Resolver struct {
	Store store.Store
	// Parallelism bounds concurrent lookups in ResolveAll.
	Parallelism int
}

func (r Resolver) Resolve(ctx context.Context, kind RefKind, keys []string) (Lookup, error) {
	keys = distinctNonEmpty(keys)
	var (
		ids map[string]uuid.UUID
		err error
	)
	switch kind {
	case RefCustomer:
		ids, err = r.Store.CustomerIDsByCompanyName(ctx, keys)
	case RefDriver:
		ids, err = r.Store.DriverIDsByName(ctx, keys)
	case RefProduct:
		ids, err = r.Store.ProductIDsByName(ctx, keys)
	default:
		return nil, fmt.Errorf("unknown reference kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s references: %w", kind, err)
	}
	return Lookup(ids), nil
}

// ResolveAll resolves several kinds concurrently. The store must not be a
// transactional view, since a transaction serves one query at a time.
func (r Resolver) ResolveAll(ctx context.Context, keys map[RefKind][]string) (map[RefKind]Lookup, error) {
	limit := r.Parallelism
	if limit <= 0 {
		limit = 3
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make(map[RefKind]Lookup, len(keys))
	lookups := make([]Lookup, 0, len(keys))
	kinds := make([]RefKind, 0, len(keys))
	for kind := range keys {
		kinds = append(kinds, kind)
		lookups = append(lookups, nil)
	}
	for i, kind := range kinds {
		g.Go(func() error {
			l, err := r.Resolve(gctx, kind, keys[kind])
			if err != nil {
				return err
			}
			lookups[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, kind := range kinds {
		results[kind] = lookups[i]
	}
	return results, nil
}

func distinctNonEmpty(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func (r Resolver) withStore(s store.Store) Resolver {
	r.Store = s
	return r
}
