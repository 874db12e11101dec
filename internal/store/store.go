// Package store is the backend the dashboard reads and writes. Postgres is the
// production implementation; Memory backs tests and local tooling.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/circularops/api/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a compare-and-swap lost a race or a unique key already exists.
	ErrConflict = errors.New("conflict")
)

type Products interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error)
	ProductIDsByName(ctx context.Context, names []string) (map[string]uuid.UUID, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	// UpdateProduct writes p only while the stored quantity still equals expectedQuantity.
	UpdateProduct(ctx context.Context, p domain.Product, expectedQuantity int64) error
}

type Customers interface {
	SearchCustomers(ctx context.Context, term string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (domain.Customer, error)
	CustomerIDsByCompanyName(ctx context.Context, names []string) (map[string]uuid.UUID, error)
	CreateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error)
	UpdateCustomer(ctx context.Context, c domain.Customer) error
	AddLocation(ctx context.Context, loc domain.Location) (domain.Location, error)
}

type Drivers interface {
	ListDrivers(ctx context.Context) ([]domain.Driver, error)
	CreateDriver(ctx context.Context, d domain.Driver) (domain.Driver, error)
	DriverIDsByName(ctx context.Context, names []string) (map[string]uuid.UUID, error)
}

type Pickups interface {
	ListPickups(ctx context.Context) ([]domain.Pickup, error)
	GetPickup(ctx context.Context, id uuid.UUID) (domain.Pickup, error)
	CreatePickup(ctx context.Context, p domain.Pickup) (domain.Pickup, error)
	ReplacePickupProducts(ctx context.Context, pickupID uuid.UUID, items []domain.Allocation) error
	AddPickupPhoto(ctx context.Context, photo domain.PickupPhoto) (domain.PickupPhoto, error)
	ListPickupPhotos(ctx context.Context, pickupID uuid.UUID) ([]domain.PickupPhoto, error)
}

type Containers interface {
	ListContainers(ctx context.Context) ([]domain.Container, error)
	GetContainer(ctx context.Context, id uuid.UUID) (domain.Container, error)
	CreateContainer(ctx context.Context, c domain.Container) (domain.Container, error)
	GetContainerAllocation(ctx context.Context, containerID, productID uuid.UUID) (domain.Allocation, error)
	InsertContainerAllocation(ctx context.Context, containerID uuid.UUID, a domain.Allocation) error
	// UpdateContainerAllocation sets the quantity only while it still equals expected.
	UpdateContainerAllocation(ctx context.Context, containerID, productID uuid.UUID, expected, quantity int64) error
}

type Processing interface {
	ListProcessingRequests(ctx context.Context) ([]domain.ProcessingRequest, error)
	GetProcessingRequest(ctx context.Context, id uuid.UUID) (domain.ProcessingRequest, error)
	CreateProcessingRequest(ctx context.Context, pr domain.ProcessingRequest) (domain.ProcessingRequest, error)
}

type Statuses interface {
	CurrentStatus(ctx context.Context, entity domain.Entity, id uuid.UUID) (string, error)
	// AdvanceStatus moves id from one status to another, failing with ErrConflict
	// when the stored status is no longer from.
	AdvanceStatus(ctx context.Context, entity domain.Entity, id uuid.UUID, from, to string) error
}

type Operators interface {
	OperatorByEmail(ctx context.Context, email string) (domain.Operator, error)
	CreateOperator(ctx context.Context, o domain.Operator) (domain.Operator, error)
	CreateSession(ctx context.Context, s domain.Session) (domain.Session, error)
	SessionPrincipal(ctx context.Context, tokenHash string) (domain.SessionPrincipal, error)
	TouchSession(ctx context.Context, id uuid.UUID) error
	RevokeSession(ctx context.Context, id uuid.UUID) error
	RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error
}

type AuditLog interface {
	InsertAuditLog(ctx context.Context, e domain.AuditEntry) error
}

type Store interface {
	Products
	Customers
	Drivers
	Pickups
	Containers
	Processing
	Statuses
	Operators
	AuditLog

	// WithinTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
