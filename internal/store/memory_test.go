package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circularops/api/internal/domain"
)

func TestMemoryWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	err := m.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.CreateProduct(ctx, domain.Product{Name: "kale", Quantity: 5}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ids, err := m.ProductIDsByName(ctx, []string{"kale"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryWithinTxCommits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.WithinTx(ctx, func(tx Store) error {
		_, err := tx.CreateProduct(ctx, domain.Product{Name: "kale", Quantity: 5})
		return err
	})
	require.NoError(t, err)

	products, err := m.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.EqualValues(t, 5, products[0].Quantity)
}

func TestMemoryProductCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p, err := m.CreateProduct(ctx, domain.Product{Name: "kale", Quantity: 5})
	require.NoError(t, err)

	_, err = m.CreateProduct(ctx, domain.Product{Name: "kale"})
	assert.ErrorIs(t, err, ErrConflict)

	p.Quantity = 9
	assert.ErrorIs(t, m.UpdateProduct(ctx, p, 4), ErrConflict)
	require.NoError(t, m.UpdateProduct(ctx, p, 5))

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 9, got.Quantity)
}

func TestMemoryIDsByNameIsExact(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c, err := m.CreateCustomer(ctx, domain.Customer{CompanyName: "Acme Farms"})
	require.NoError(t, err)

	ids, err := m.CustomerIDsByCompanyName(ctx, []string{"Acme Farms", "acme farms", "Acme"})
	require.NoError(t, err)
	assert.Equal(t, map[string]uuid.UUID{"Acme Farms": c.ID}, ids)
}

func TestMemoryAdvanceStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return fixed }

	c, err := m.CreateCustomer(ctx, domain.Customer{CompanyName: "Acme"})
	require.NoError(t, err)
	p, err := m.CreatePickup(ctx, domain.Pickup{CustomerID: c.ID, PickupDate: fixed})
	require.NoError(t, err)
	assert.Equal(t, domain.PickupScheduled, p.Status)

	err = m.AdvanceStatus(ctx, domain.EntityPickup, p.ID, domain.PickupCompleted, domain.PickupCompleted)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, m.AdvanceStatus(ctx, domain.EntityPickup, p.ID, domain.PickupScheduled, domain.PickupCompleted))
	got, err := m.GetPickup(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PickupCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(fixed))

	_, err = m.CurrentStatus(ctx, domain.EntityContainer, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySessionPrincipal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }

	op, err := m.CreateOperator(ctx, domain.Operator{Email: "ops@example.com", Role: domain.RoleAdmin, IsActive: true})
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, domain.Session{OperatorID: op.ID, TokenHash: "h1", CSRFToken: "c1", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	principal, err := m.SessionPrincipal(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, op.ID, principal.OperatorID)
	assert.Equal(t, "c1", principal.CSRFToken)

	now = now.Add(2 * time.Hour)
	_, err = m.SessionPrincipal(ctx, "h1")
	assert.ErrorIs(t, err, ErrNotFound)

	now = now.Add(-2 * time.Hour)
	require.NoError(t, m.RevokeSessionByTokenHash(ctx, "h1"))
	_, err = m.SessionPrincipal(ctx, "h1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPickupRejectsUnknownProduct(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c, err := m.CreateCustomer(ctx, domain.Customer{CompanyName: "Acme"})
	require.NoError(t, err)

	_, err = m.CreatePickup(ctx, domain.Pickup{
		CustomerID: c.ID,
		Products:   []domain.Allocation{{ProductID: c.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
