package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/objectstore"
	"github.com/circularops/api/internal/store"
)

func (s *Server) GetPickups(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !domain.PickupFlow.Valid(status) {
		httpx.BadRequest(w, r, "status must be scheduled or completed")
		return
	}

	pickups, err := s.Store.ListPickups(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}
	out := make([]Pickup, 0, len(pickups))
	for _, p := range pickups {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, mapPickup(p))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) GetPickup(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	pickup, err := s.Store.GetPickup(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapPickup(pickup))
}

func (s *Server) PostPickups(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	var req CreatePickupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.PickupDate.Time.IsZero() {
		httpx.BadRequest(w, r, "pickupDate is required")
		return
	}
	if req.EmptyBins < 0 || req.FilledBins < 0 {
		httpx.BadRequest(w, r, "bin counts must not be negative")
		return
	}

	customer, err := s.Store.GetCustomer(r.Context(), req.CustomerId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.ReferenceNotFound(w, r, "Customer was not found", map[string]any{"field": "customerId"})
			return
		}
		writeStoreError(w, r, err, "customer")
		return
	}

	pickup := domain.Pickup{
		CustomerID: customer.ID,
		Address:    strings.TrimSpace(req.Address),
		PickupDate: req.PickupDate.Time.UTC(),
		EmptyBins:  req.EmptyBins,
		FilledBins: req.FilledBins,
		Status:     domain.PickupFlow.Initial(),
	}

	if req.LocationId != nil {
		var found *domain.Location
		for i := range customer.Locations {
			if customer.Locations[i].ID == *req.LocationId {
				found = &customer.Locations[i]
				break
			}
		}
		if found == nil {
			httpx.ReferenceNotFound(w, r, "Location does not belong to the customer", map[string]any{"field": "locationId"})
			return
		}
		id := found.ID
		pickup.LocationID = &id
		if pickup.Address == "" {
			pickup.Address = found.Address
		}
	}
	if pickup.Address == "" {
		pickup.Address = customer.Address
	}

	if req.DriverId != nil {
		drivers, err := s.Store.ListDrivers(r.Context())
		if err != nil {
			writeStoreError(w, r, err, "driver")
			return
		}
		known := false
		for _, d := range drivers {
			if d.ID == *req.DriverId {
				known = true
				break
			}
		}
		if !known {
			httpx.ReferenceNotFound(w, r, "Driver was not found", map[string]any{"field": "driverId"})
			return
		}
		id := *req.DriverId
		pickup.DriverID = &id
	}

	allocations, appErr := s.resolveItems(r.Context(), req.Products)
	if appErr != nil {
		writeAppError(w, r, appErr)
		return
	}
	pickup.Products = allocations

	created, err := s.Store.CreatePickup(r.Context(), pickup)
	if err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionPickupCreate,
		EntityType: string(domain.EntityPickup),
		EntityID:   &created.ID,
		Metadata:   map[string]any{"products": len(created.Products)},
	})
	httpx.WriteJSON(w, http.StatusCreated, mapPickup(created))
}

// PutPickupProducts replaces the products of a scheduled pickup with the
// aggregated request items.
func (s *Server) PutPickupProducts(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ReplaceProductsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}

	pickup, err := s.Store.GetPickup(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}
	if domain.PickupFlow.Terminal(pickup.Status) {
		httpx.InvalidTransition(w, r, "Completed pickups cannot be edited", pickup.Status)
		return
	}

	allocations, appErr := s.resolveItems(r.Context(), req.Products)
	if appErr != nil {
		writeAppError(w, r, appErr)
		return
	}
	if err := s.Store.ReplacePickupProducts(r.Context(), id, allocations); err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}
	pickup.Products = allocations

	s.audit(r, audit.Entry{
		Action:     audit.ActionPickupProducts,
		EntityType: string(domain.EntityPickup),
		EntityID:   &id,
		Metadata:   map[string]any{"products": len(allocations)},
	})
	httpx.WriteJSON(w, http.StatusOK, mapPickup(pickup))
}

func (s *Server) PostPickupAdvance(w http.ResponseWriter, r *http.Request) {
	s.handleAdvance(w, r, domain.PickupFlow, "pickup")
}

func (s *Server) PostPickupPhotos(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	if s.Photos == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "Photo storage is not configured", nil)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_content_type", "Content-Type must be multipart/form-data", nil)
		return
	}
	if err := r.ParseMultipartForm(s.Config.PhotoMaxBytes); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_multipart", "Failed to parse multipart form", nil)
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_file", "photo is required", nil)
		return
	}
	defer file.Close()

	if s.Config.PhotoMaxBytes > 0 && header.Size > s.Config.PhotoMaxBytes {
		httpx.WriteError(w, r, http.StatusRequestEntityTooLarge, "photo_too_large", "Photo exceeds the size limit", map[string]any{"maxBytes": s.Config.PhotoMaxBytes})
		return
	}
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "image/") {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_content_type", "Only image uploads are supported", map[string]any{"contentType": contentType})
		return
	}

	if _, err := s.Store.GetPickup(r.Context(), id); err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}

	photoID := uuid.New()
	key := objectstore.PhotoKey(id, photoID, header.Filename)
	if err := s.Photos.Put(r.Context(), key, contentType, file, header.Size); err != nil {
		s.Logger.Error("photo_upload_failed", "pickup_id", id, "key", key, "error", err)
		httpx.WriteError(w, r, http.StatusBadGateway, "storage_error", "Failed to store photo", nil)
		return
	}
	photo, err := s.Store.AddPickupPhoto(r.Context(), domain.PickupPhoto{
		ID:          photoID,
		PickupID:    id,
		ObjectPath:  key,
		ContentType: contentType,
	})
	if err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}
	out, err := s.signPhoto(r, photo)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadGateway, "storage_error", "Failed to sign photo URL", nil)
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionPickupPhoto,
		EntityType: string(domain.EntityPickup),
		EntityID:   &id,
		Metadata:   map[string]any{"photoId": photoID.String(), "bytes": header.Size},
	})
	httpx.WriteJSON(w, http.StatusCreated, out)
}

func (s *Server) GetPickupPhotos(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	if s.Photos == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "Photo storage is not configured", nil)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.Store.GetPickup(r.Context(), id); err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}

	photos, err := s.Store.ListPickupPhotos(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "pickup")
		return
	}
	out := make([]PickupPhoto, 0, len(photos))
	for _, p := range photos {
		signed, err := s.signPhoto(r, p)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadGateway, "storage_error", "Failed to sign photo URL", nil)
			return
		}
		out = append(out, signed)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) signPhoto(r *http.Request, p domain.PickupPhoto) (PickupPhoto, error) {
	url, expires, err := s.Photos.SignedURL(r.Context(), p.ObjectPath)
	if err != nil {
		return PickupPhoto{}, err
	}
	return PickupPhoto{
		Id:          p.ID,
		ContentType: p.ContentType,
		Url:         url,
		ExpiresAt:   expires.UTC(),
		CreatedAt:   p.CreatedAt.UTC(),
	}, nil
}
