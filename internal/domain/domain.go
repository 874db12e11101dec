package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxQuantity is the largest quantity (kg) a product or allocation may hold.
const MaxQuantity int64 = 10_000_000

type Product struct {
	ID               uuid.UUID
	Name             string
	Quantity         int64
	Description      string
	ReservedLocation string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type DefaultProductType struct {
	ProductName string `json:"product_name"`
	Description string `json:"description"`
}

type Customer struct {
	ID                  uuid.UUID
	CompanyName         string
	Email               string
	Phone               string
	Address             string
	DefaultProductTypes []DefaultProductType
	Locations           []Location
	CreatedAt           time.Time
}

// LocationByName returns the customer's location with an exactly matching name.
func (c Customer) LocationByName(name string) (Location, bool) {
	for _, loc := range c.Locations {
		if loc.Name == name {
			return loc, true
		}
	}
	return Location{}, false
}

type Location struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Name       string
	Address    string
	EmptyBins  int
}

type Driver struct {
	ID    uuid.UUID
	Name  string
	Phone string
}

// Allocation is a quantity of one product attached to a pickup or container.
type Allocation struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int64
}

type Pickup struct {
	ID          uuid.UUID
	CustomerID  uuid.UUID
	CompanyName string
	LocationID  *uuid.UUID
	Location    string
	DriverID    *uuid.UUID
	DriverName  string
	Address     string
	PickupDate  time.Time
	EmptyBins   int
	FilledBins  int
	Status      string
	Products    []Allocation
	CompletedAt *time.Time
	CreatedAt   time.Time
}

type PickupPhoto struct {
	ID          uuid.UUID
	PickupID    uuid.UUID
	ObjectPath  string
	ContentType string
	CreatedAt   time.Time
}

type Container struct {
	ID          uuid.UUID
	Reference   string
	Destination string
	Status      string
	Products    []Allocation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ProcessingRequest struct {
	ID          uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int64
	Notes       string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Operator struct {
	ID           uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	IsActive     bool
}

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type Session struct {
	ID         uuid.UUID
	OperatorID uuid.UUID
	TokenHash  string
	CSRFToken  string
	ExpiresAt  time.Time
}

// SessionPrincipal is an active session joined with its operator.
type SessionPrincipal struct {
	SessionID  uuid.UUID
	OperatorID uuid.UUID
	Email      string
	FullName   string
	Role       string
	CSRFToken  string
	ExpiresAt  time.Time
}

type AuditEntry struct {
	OperatorID *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	RequestID  string
	Metadata   []byte
}
