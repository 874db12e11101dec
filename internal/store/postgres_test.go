package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circularops/api/internal/db"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/importer"
	"github.com/circularops/api/internal/store"
)

func newPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(url))

	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return store.NewPostgres(pool)
}

func TestPostgresProductCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	pg := newPostgres(t)
	name := "kale-" + uuid.NewString()

	p, err := pg.CreateProduct(ctx, domain.Product{Name: name, Quantity: 5})
	require.NoError(t, err)

	_, err = pg.CreateProduct(ctx, domain.Product{Name: name})
	assert.ErrorIs(t, err, store.ErrConflict)

	p.Quantity = 7
	assert.ErrorIs(t, pg.UpdateProduct(ctx, p, 1), store.ErrConflict)
	require.NoError(t, pg.UpdateProduct(ctx, p, 5))

	ids, err := pg.ProductIDsByName(ctx, []string{name, "missing-" + name})
	require.NoError(t, err)
	assert.Equal(t, map[string]uuid.UUID{name: p.ID}, ids)
}

func TestPostgresWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	pg := newPostgres(t)
	name := "spinach-" + uuid.NewString()

	err := pg.WithinTx(ctx, func(tx store.Store) error {
		if _, err := tx.CreateProduct(ctx, domain.Product{Name: name, Quantity: 1}); err != nil {
			return err
		}
		_, err := tx.CreateProduct(ctx, domain.Product{Name: name})
		return err
	})
	require.ErrorIs(t, err, store.ErrConflict)

	ids, err := pg.ProductIDsByName(ctx, []string{name})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPostgresTxSurvivesInsertConflict(t *testing.T) {
	ctx := context.Background()
	pg := newPostgres(t)
	name := "chard-" + uuid.NewString()

	existing, err := pg.CreateProduct(ctx, domain.Product{Name: name, Quantity: 4})
	require.NoError(t, err)

	var got domain.Product
	var kind importer.DecisionKind
	err = pg.WithinTx(ctx, func(tx store.Store) error {
		_, err := tx.CreateProduct(ctx, domain.Product{Name: name, Quantity: 1})
		require.ErrorIs(t, err, store.ErrConflict)

		ids, err := tx.ProductIDsByName(ctx, []string{name})
		require.NoError(t, err)
		assert.Equal(t, existing.ID, ids[name])

		// A stale lookup that missed the row inserts, conflicts, and falls back to an update.
		got, kind, err = importer.Coordinator{}.UpsertProduct(ctx, tx, nil, domain.Product{Name: name}, 3)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, importer.DecisionUpdate, kind)
	assert.Equal(t, int64(7), got.Quantity)

	stored, err := pg.GetProduct(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.Quantity)
}

func TestPostgresAllocationInsertConflictKeepsTx(t *testing.T) {
	ctx := context.Background()
	pg := newPostgres(t)
	suffix := uuid.NewString()

	product, err := pg.CreateProduct(ctx, domain.Product{Name: "glass-" + suffix})
	require.NoError(t, err)
	container, err := pg.CreateContainer(ctx, domain.Container{Reference: "C-" + suffix, Status: domain.ContainerNew})
	require.NoError(t, err)

	err = pg.WithinTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.InsertContainerAllocation(ctx, container.ID, domain.Allocation{ProductID: product.ID, Quantity: 2}))
		assert.ErrorIs(t, tx.InsertContainerAllocation(ctx, container.ID, domain.Allocation{ProductID: product.ID, Quantity: 5}), store.ErrConflict)

		qty, err := importer.Coordinator{}.AdjustAllocation(ctx, tx, container.ID, product.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(7), qty)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresPickupLifecycle(t *testing.T) {
	ctx := context.Background()
	pg := newPostgres(t)
	suffix := uuid.NewString()

	product, err := pg.CreateProduct(ctx, domain.Product{Name: "bread-" + suffix, Quantity: 10})
	require.NoError(t, err)
	customer, err := pg.CreateCustomer(ctx, domain.Customer{
		CompanyName: "Bakery " + suffix,
		Email:       "bakery@example.com",
		Locations:   []domain.Location{{Name: "Main", Address: "1 Main St", EmptyBins: 2}},
	})
	require.NoError(t, err)
	require.Len(t, customer.Locations, 1)

	created, err := pg.CreatePickup(ctx, domain.Pickup{
		CustomerID: customer.ID,
		LocationID: &customer.Locations[0].ID,
		Address:    "1 Main St",
		PickupDate: customer.CreatedAt,
		Status:     domain.PickupScheduled,
		Products:   []domain.Allocation{{ProductID: product.ID, Quantity: 4}},
	})
	require.NoError(t, err)

	require.NoError(t, pg.AdvanceStatus(ctx, domain.EntityPickup, created.ID, domain.PickupScheduled, domain.PickupCompleted))
	assert.ErrorIs(t, pg.AdvanceStatus(ctx, domain.EntityPickup, created.ID, domain.PickupScheduled, domain.PickupCompleted), store.ErrConflict)

	got, err := pg.GetPickup(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PickupCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.Len(t, got.Products, 1)
	assert.Equal(t, product.Name, got.Products[0].ProductName)
}
