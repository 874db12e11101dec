package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/importer"
	"github.com/circularops/api/internal/store"
)

func (s *Server) GetContainers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	containers, err := s.Store.ListContainers(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "container")
		return
	}
	out := make([]Container, 0, len(containers))
	for _, c := range containers {
		out = append(out, mapContainer(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) GetContainer(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	container, err := s.Store.GetContainer(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "container")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapContainer(container))
}

// PostContainers creates a container and its allocations in one transaction.
func (s *Server) PostContainers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	var req CreateContainerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		httpx.BadRequest(w, r, "reference is required")
		return
	}

	allocations, appErr := s.resolveItems(r.Context(), req.Products)
	if appErr != nil {
		writeAppError(w, r, appErr)
		return
	}

	var (
		created domain.Container
		failed  string
	)
	err := s.Store.WithinTx(r.Context(), func(tx store.Store) error {
		c, err := tx.CreateContainer(r.Context(), domain.Container{
			Reference:   reference,
			Destination: strings.TrimSpace(req.Destination),
			Status:      domain.ContainerFlow.Initial(),
		})
		if err != nil {
			return err
		}
		for _, a := range allocations {
			failed = a.ProductName
			if _, err := s.Importer.Coordinator.AdjustAllocation(r.Context(), tx, c.ID, a.ProductID, a.Quantity); err != nil {
				return err
			}
		}
		created, err = tx.GetContainer(r.Context(), c.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			httpx.Conflict(w, r, "container_exists", "A container with this reference already exists")
			return
		}
		if errors.Is(err, importer.ErrCeilingExceeded) || errors.Is(err, importer.ErrNegativeQuantity) {
			writeAppError(w, r, quantityError(failed, err))
			return
		}
		writeStoreError(w, r, err, "container")
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionContainerCreate,
		EntityType: string(domain.EntityContainer),
		EntityID:   &created.ID,
		Metadata:   map[string]any{"reference": created.Reference, "products": len(created.Products)},
	})
	httpx.WriteJSON(w, http.StatusCreated, mapContainer(created))
}

// PostContainerProducts adds a signed delta to one product allocation.
func (s *Server) PostContainerProducts(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req AllocationDeltaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		httpx.BadRequest(w, r, "productName is required")
		return
	}

	container, err := s.Store.GetContainer(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "container")
		return
	}
	if container.Status != domain.ContainerNew && container.Status != domain.ContainerPacking {
		httpx.InvalidTransition(w, r, "Allocations are closed once a container is sent", container.Status)
		return
	}

	lookup, err := s.Importer.Resolver.Resolve(r.Context(), importer.RefProduct, []string{name})
	if err != nil {
		writeStoreError(w, r, err, "product")
		return
	}
	ref := lookup.Resolve(name)
	if !ref.Found() {
		httpx.ReferenceNotFound(w, r, "Product was not found", map[string]any{"product": name})
		return
	}

	quantity, err := s.Importer.Coordinator.AdjustAllocation(r.Context(), s.Store, id, *ref.ID, req.Delta)
	if err != nil {
		if errors.Is(err, importer.ErrCeilingExceeded) || errors.Is(err, importer.ErrNegativeQuantity) {
			writeAppError(w, r, quantityError(name, err))
			return
		}
		writeStoreError(w, r, err, "container")
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionContainerProduct,
		EntityType: string(domain.EntityContainer),
		EntityID:   &id,
		Metadata:   map[string]any{"product": name, "delta": req.Delta, "quantity": quantity},
	})
	httpx.WriteJSON(w, http.StatusOK, Allocation{ProductId: *ref.ID, ProductName: name, Quantity: quantity})
}

func (s *Server) PostContainerAdvance(w http.ResponseWriter, r *http.Request) {
	s.handleAdvance(w, r, domain.ContainerFlow, "container")
}
