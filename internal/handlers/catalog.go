package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/store"
)

func (s *Server) GetCustomers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	customers, err := s.Store.SearchCustomers(r.Context(), strings.TrimSpace(r.URL.Query().Get("search")))
	if err != nil {
		writeStoreError(w, r, err, "customer")
		return
	}
	out := make([]Customer, 0, len(customers))
	for _, c := range customers {
		out = append(out, mapCustomer(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) PostCustomers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	var req CreateCustomerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	company := strings.TrimSpace(req.CompanyName)
	if company == "" {
		httpx.BadRequest(w, r, "companyName is required")
		return
	}

	customer := domain.Customer{
		CompanyName: company,
		Email:       strings.TrimSpace(string(req.Email)),
		Phone:       strings.TrimSpace(req.Phone),
		Address:     strings.TrimSpace(req.Address),
	}
	for _, name := range req.DefaultProductTypes {
		if name = strings.TrimSpace(name); name != "" {
			customer.DefaultProductTypes = append(customer.DefaultProductTypes, domain.DefaultProductType{ProductName: name})
		}
	}
	for _, loc := range req.Locations {
		name := strings.TrimSpace(loc.Name)
		if name == "" {
			httpx.BadRequest(w, r, "location name is required")
			return
		}
		if loc.EmptyBins < 0 {
			httpx.BadRequest(w, r, "emptyBins must not be negative")
			return
		}
		customer.Locations = append(customer.Locations, domain.Location{Name: name, Address: strings.TrimSpace(loc.Address), EmptyBins: loc.EmptyBins})
	}

	created, err := s.Store.CreateCustomer(r.Context(), customer)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			httpx.Conflict(w, r, "customer_exists", "A customer with this company name already exists")
			return
		}
		writeStoreError(w, r, err, "customer")
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionCustomerCreate,
		EntityType: "customer",
		EntityID:   &created.ID,
	})
	httpx.WriteJSON(w, http.StatusCreated, mapCustomer(created))
}

func (s *Server) GetCustomer(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	customer, err := s.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "customer")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapCustomer(customer))
}

func (s *Server) GetDrivers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	drivers, err := s.Store.ListDrivers(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "driver")
		return
	}
	out := make([]Driver, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, Driver{Id: d.ID, Name: d.Name, Phone: d.Phone})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) PostDrivers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	var req CreateDriverRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httpx.BadRequest(w, r, "name is required")
		return
	}

	driver, err := s.Store.CreateDriver(r.Context(), domain.Driver{Name: name, Phone: strings.TrimSpace(req.Phone)})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			httpx.Conflict(w, r, "driver_exists", "A driver with this name already exists")
			return
		}
		writeStoreError(w, r, err, "driver")
		return
	}

	s.audit(r, audit.Entry{Action: audit.ActionDriverCreate, EntityType: "driver", EntityID: &driver.ID})
	httpx.WriteJSON(w, http.StatusCreated, Driver{Id: driver.ID, Name: driver.Name, Phone: driver.Phone})
}

func (s *Server) GetProducts(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	products, err := s.Store.ListProducts(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "product")
		return
	}
	out := make([]Product, 0, len(products))
	for _, p := range products {
		out = append(out, mapProduct(p))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}
