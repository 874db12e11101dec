package handlers

import (
	"net/http"
	"strings"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/lineitem"
)

func (s *Server) GetProcessingRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	requests, err := s.Store.ListProcessingRequests(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "processing_request")
		return
	}
	out := make([]ProcessingRequest, 0, len(requests))
	for _, pr := range requests {
		out = append(out, mapProcessing(pr))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) PostProcessingRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	var req CreateProcessingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.Quantity <= 0 {
		httpx.BadRequest(w, r, "quantity must be positive")
		return
	}

	allocations, appErr := s.resolveItems(r.Context(), []lineitem.Item{{ProductName: req.ProductName, Quantity: req.Quantity}})
	if appErr != nil {
		writeAppError(w, r, appErr)
		return
	}

	created, err := s.Store.CreateProcessingRequest(r.Context(), domain.ProcessingRequest{
		ProductID: allocations[0].ProductID,
		Quantity:  allocations[0].Quantity,
		Notes:     strings.TrimSpace(req.Notes),
		Status:    domain.ProcessingFlow.Initial(),
	})
	if err != nil {
		writeStoreError(w, r, err, "processing_request")
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionProcessingCreate,
		EntityType: string(domain.EntityProcessing),
		EntityID:   &created.ID,
		Metadata:   map[string]any{"product": created.ProductName, "quantity": created.Quantity},
	})
	httpx.WriteJSON(w, http.StatusCreated, mapProcessing(created))
}

func (s *Server) PostProcessingAdvance(w http.ResponseWriter, r *http.Request) {
	s.handleAdvance(w, r, domain.ProcessingFlow, "processing_request")
}
