package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/store"
)

var (
	ErrCeilingExceeded  = errors.New("quantity ceiling exceeded")
	ErrNegativeQuantity = errors.New("quantity would become negative")
)

type DecisionKind int

const (
	DecisionInsert DecisionKind = iota + 1
	DecisionUpdate
)

// Existing is the stored state an upsert is decided against.
type Existing struct {
	ID       uuid.UUID
	Quantity int64
}

type Decision struct {
	Kind     DecisionKind
	ID       uuid.UUID
	Quantity int64
}

// Decide chooses between inserting delta and adding it to an existing quantity.
// The resulting quantity must stay within [0, ceiling].
func Decide(existing *Existing, delta, ceiling int64) (Decision, error) {
	if existing == nil {
		if err := checkQuantity(0, delta, ceiling); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionInsert, Quantity: delta}, nil
	}
	if err := checkQuantity(existing.Quantity, delta, ceiling); err != nil {
		return Decision{}, err
	}
	return Decision{Kind: DecisionUpdate, ID: existing.ID, Quantity: existing.Quantity + delta}, nil
}

func checkQuantity(current, delta, ceiling int64) error {
	if delta > ceiling-current {
		return fmt.Errorf("%w: %d + %d > %d", ErrCeilingExceeded, current, delta, ceiling)
	}
	if current+delta < 0 {
		return fmt.Errorf("%w: %d + %d", ErrNegativeQuantity, current, delta)
	}
	return nil
}

// Coordinator applies upsert decisions with compare-and-swap writes, retrying
// when a concurrent writer moved the quantity first.
type Coordinator struct {
	Ceiling    int64
	MaxRetries int
}

func (c Coordinator) ceiling() int64 {
	if c.Ceiling > 0 {
		return c.Ceiling
	}
	return domain.MaxQuantity
}

func (c Coordinator) retries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

// UpsertProduct adds delta to the product id points at, or inserts draft with
// quantity delta when id is nil. Non-empty descriptive fields of draft replace
// the stored ones on update.
func (c Coordinator) UpsertProduct(ctx context.Context, s store.Products, id *uuid.UUID, draft domain.Product, delta int64) (domain.Product, DecisionKind, error) {
	for attempt := 0; ; attempt++ {
		var (
			existing *Existing
			current  domain.Product
		)
		if id != nil {
			p, err := s.GetProduct(ctx, *id)
			if err != nil {
				return domain.Product{}, 0, fmt.Errorf("load product %s: %w", *id, err)
			}
			current = p
			existing = &Existing{ID: p.ID, Quantity: p.Quantity}
		}

		d, err := Decide(existing, delta, c.ceiling())
		if err != nil {
			return domain.Product{}, 0, err
		}

		if d.Kind == DecisionInsert {
			draft.Quantity = d.Quantity
			created, err := s.CreateProduct(ctx, draft)
			if errors.Is(err, store.ErrConflict) && attempt < c.retries() {
				ids, lookupErr := s.ProductIDsByName(ctx, []string{draft.Name})
				if lookupErr != nil {
					return domain.Product{}, 0, lookupErr
				}
				if found, ok := ids[draft.Name]; ok {
					id = &found
					continue
				}
			}
			if err != nil {
				return domain.Product{}, 0, fmt.Errorf("insert product %q: %w", draft.Name, err)
			}
			return created, DecisionInsert, nil
		}

		next := current
		next.Quantity = d.Quantity
		if draft.Description != "" {
			next.Description = draft.Description
		}
		if draft.ReservedLocation != "" {
			next.ReservedLocation = draft.ReservedLocation
		}
		next.UpdatedAt = draft.UpdatedAt
		err = s.UpdateProduct(ctx, next, current.Quantity)
		if errors.Is(err, store.ErrConflict) && attempt < c.retries() {
			continue
		}
		if err != nil {
			return domain.Product{}, 0, fmt.Errorf("update product %q: %w", current.Name, err)
		}
		return next, DecisionUpdate, nil
	}
}

// AdjustAllocation adds delta to a container's allocation of one product,
// creating the allocation when it does not exist yet.
func (c Coordinator) AdjustAllocation(ctx context.Context, s store.Containers, containerID, productID uuid.UUID, delta int64) (int64, error) {
	for attempt := 0; ; attempt++ {
		var existing *Existing
		current, err := s.GetContainerAllocation(ctx, containerID, productID)
		switch {
		case err == nil:
			existing = &Existing{ID: productID, Quantity: current.Quantity}
		case !errors.Is(err, store.ErrNotFound):
			return 0, err
		}

		d, err := Decide(existing, delta, c.ceiling())
		if err != nil {
			return 0, err
		}
		if d.Kind == DecisionInsert {
			err = s.InsertContainerAllocation(ctx, containerID, domain.Allocation{ProductID: productID, Quantity: d.Quantity})
		} else {
			err = s.UpdateContainerAllocation(ctx, containerID, productID, existing.Quantity, d.Quantity)
		}
		if errors.Is(err, store.ErrConflict) && attempt < c.retries() {
			continue
		}
		if err != nil {
			return 0, err
		}
		return d.Quantity, nil
	}
}
