package handlers

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/lineitem"
)

type LoginRequest struct {
	Email    openapi_types.Email `json:"email"`
	Password string              `json:"password"`
}

type Operator struct {
	Id       openapi_types.UUID  `json:"id"`
	Email    openapi_types.Email `json:"email"`
	FullName string              `json:"fullName"`
	Role     string              `json:"role"`
}

type AuthSessionResponse struct {
	Operator  Operator  `json:"operator"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LocationRequest struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	EmptyBins int    `json:"emptyBins"`
}

type CreateCustomerRequest struct {
	CompanyName         string              `json:"companyName"`
	Email               openapi_types.Email `json:"email"`
	Phone               string              `json:"phone"`
	Address             string              `json:"address"`
	DefaultProductTypes []string            `json:"defaultProductTypes,omitempty"`
	Locations           []LocationRequest   `json:"locations,omitempty"`
}

type Location struct {
	Id        openapi_types.UUID `json:"id"`
	Name      string             `json:"name"`
	Address   string             `json:"address"`
	EmptyBins int                `json:"emptyBins"`
}

type Customer struct {
	Id                  openapi_types.UUID          `json:"id"`
	CompanyName         string                      `json:"companyName"`
	Email               openapi_types.Email         `json:"email"`
	Phone               string                      `json:"phone"`
	Address             string                      `json:"address"`
	DefaultProductTypes []domain.DefaultProductType `json:"defaultProductTypes"`
	Locations           []Location                  `json:"locations"`
	CreatedAt           time.Time                   `json:"createdAt"`
}

type CreateDriverRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Driver struct {
	Id    openapi_types.UUID `json:"id"`
	Name  string             `json:"name"`
	Phone string             `json:"phone"`
}

type Product struct {
	Id               openapi_types.UUID `json:"id"`
	Name             string             `json:"name"`
	Quantity         int64              `json:"quantity"`
	Description      string             `json:"description"`
	ReservedLocation string             `json:"reservedLocation"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

type LineItem = lineitem.Item

type Allocation struct {
	ProductId   openapi_types.UUID `json:"productId"`
	ProductName string             `json:"productName"`
	Quantity    int64              `json:"quantity"`
}

type CreatePickupRequest struct {
	CustomerId   openapi_types.UUID  `json:"customerId"`
	LocationId   *openapi_types.UUID `json:"locationId,omitempty"`
	DriverId     *openapi_types.UUID `json:"driverId,omitempty"`
	Address      string              `json:"address,omitempty"`
	PickupDate   openapi_types.Date  `json:"pickupDate"`
	EmptyBins    int                 `json:"emptyBins"`
	FilledBins   int                 `json:"filledBins"`
	Products     []LineItem          `json:"products"`
}

type ReplaceProductsRequest struct {
	Products []LineItem `json:"products"`
}

type Pickup struct {
	Id          openapi_types.UUID  `json:"id"`
	CustomerId  openapi_types.UUID  `json:"customerId"`
	CompanyName string              `json:"companyName"`
	LocationId  *openapi_types.UUID `json:"locationId,omitempty"`
	Location    string              `json:"location,omitempty"`
	DriverId    *openapi_types.UUID `json:"driverId,omitempty"`
	DriverName  string              `json:"driverName,omitempty"`
	Address     string              `json:"address"`
	PickupDate  time.Time           `json:"pickupDate"`
	EmptyBins   int                 `json:"emptyBins"`
	FilledBins  int                 `json:"filledBins"`
	Status      string              `json:"status"`
	Products    []Allocation        `json:"products"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

type PickupPhoto struct {
	Id          openapi_types.UUID `json:"id"`
	ContentType string             `json:"contentType"`
	Url         string             `json:"url"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type CreateContainerRequest struct {
	Reference   string     `json:"reference"`
	Destination string     `json:"destination"`
	Products    []LineItem `json:"products"`
}

type AllocationDeltaRequest struct {
	ProductName string `json:"productName"`
	Delta       int64  `json:"delta"`
}

type Container struct {
	Id          openapi_types.UUID `json:"id"`
	Reference   string             `json:"reference"`
	Destination string             `json:"destination"`
	Status      string             `json:"status"`
	Products    []Allocation       `json:"products"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type CreateProcessingRequest struct {
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	Notes       string `json:"notes,omitempty"`
}

type ProcessingRequest struct {
	Id          openapi_types.UUID `json:"id"`
	ProductId   openapi_types.UUID `json:"productId"`
	ProductName string             `json:"productName"`
	Quantity    int64              `json:"quantity"`
	Notes       string             `json:"notes"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type AdvanceResponse struct {
	Id     openapi_types.UUID `json:"id"`
	From   string             `json:"from"`
	Status string             `json:"status"`
}

func mapCustomer(c domain.Customer) Customer {
	locs := make([]Location, 0, len(c.Locations))
	for _, l := range c.Locations {
		locs = append(locs, Location{Id: l.ID, Name: l.Name, Address: l.Address, EmptyBins: l.EmptyBins})
	}
	types := c.DefaultProductTypes
	if types == nil {
		types = []domain.DefaultProductType{}
	}
	return Customer{
		Id:                  c.ID,
		CompanyName:         c.CompanyName,
		Email:               openapi_types.Email(c.Email),
		Phone:               c.Phone,
		Address:             c.Address,
		DefaultProductTypes: types,
		Locations:           locs,
		CreatedAt:           c.CreatedAt.UTC(),
	}
}

func mapProduct(p domain.Product) Product {
	return Product{
		Id:               p.ID,
		Name:             p.Name,
		Quantity:         p.Quantity,
		Description:      p.Description,
		ReservedLocation: p.ReservedLocation,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func mapAllocations(items []domain.Allocation) []Allocation {
	out := make([]Allocation, 0, len(items))
	for _, a := range items {
		out = append(out, Allocation{ProductId: a.ProductID, ProductName: a.ProductName, Quantity: a.Quantity})
	}
	return out
}

func mapPickup(p domain.Pickup) Pickup {
	return Pickup{
		Id:          p.ID,
		CustomerId:  p.CustomerID,
		CompanyName: p.CompanyName,
		LocationId:  p.LocationID,
		Location:    p.Location,
		DriverId:    p.DriverID,
		DriverName:  p.DriverName,
		Address:     p.Address,
		PickupDate:  p.PickupDate.UTC(),
		EmptyBins:   p.EmptyBins,
		FilledBins:  p.FilledBins,
		Status:      p.Status,
		Products:    mapAllocations(p.Products),
		CompletedAt: p.CompletedAt,
		CreatedAt:   p.CreatedAt.UTC(),
	}
}

func mapContainer(c domain.Container) Container {
	return Container{
		Id:          c.ID,
		Reference:   c.Reference,
		Destination: c.Destination,
		Status:      c.Status,
		Products:    mapAllocations(c.Products),
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
}

func mapProcessing(pr domain.ProcessingRequest) ProcessingRequest {
	return ProcessingRequest{
		Id:          pr.ID,
		ProductId:   pr.ProductID,
		ProductName: pr.ProductName,
		Quantity:    pr.Quantity,
		Notes:       pr.Notes,
		Status:      pr.Status,
		CreatedAt:   pr.CreatedAt.UTC(),
		UpdatedAt:   pr.UpdatedAt.UTC(),
	}
}
