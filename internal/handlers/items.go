package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/importer"
	"github.com/circularops/api/internal/lineitem"
)

type appError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func writeAppError(w http.ResponseWriter, r *http.Request, e *appError) {
	httpx.WriteError(w, r, e.Status, e.Code, e.Message, e.Details)
}

func quantityError(product string, err error) *appError {
	if errors.Is(err, importer.ErrNegativeQuantity) {
		return &appError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "validation_error",
			Message: "Quantity would become negative",
			Details: map[string]any{"product": product},
		}
	}
	return &appError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "quantity_ceiling_exceeded",
		Message: "Quantity exceeds the allowed ceiling",
		Details: map[string]any{"product": product},
	}
}

// resolveItems aggregates items by product name and resolves every name to a
// product id in one lookup. Quantities are checked against the ceiling after
// aggregation.
func (s *Server) resolveItems(ctx context.Context, items []LineItem) ([]domain.Allocation, *appError) {
	for _, item := range items {
		if strings.TrimSpace(item.ProductName) == "" {
			return nil, &appError{Status: http.StatusBadRequest, Code: "validation_error", Message: "productName is required"}
		}
		if item.Quantity < 0 {
			return nil, &appError{
				Status:  http.StatusBadRequest,
				Code:    "validation_error",
				Message: "quantity must not be negative",
				Details: map[string]any{"product": item.ProductName},
			}
		}
	}

	ceiling := s.Importer.Coordinator.Ceiling
	if ceiling <= 0 {
		ceiling = domain.MaxQuantity
	}
	for _, item := range items {
		if _, err := importer.Decide(nil, item.Quantity, ceiling); err != nil {
			return nil, quantityError(item.ProductName, err)
		}
	}
	merged, err := lineitem.Aggregate(items)
	if err != nil {
		return nil, quantityError("", err)
	}
	for _, item := range merged {
		if _, err := importer.Decide(nil, item.Quantity, ceiling); err != nil {
			return nil, quantityError(item.ProductName, err)
		}
	}

	lookup, err := s.Importer.Resolver.Resolve(ctx, importer.RefProduct, lineitem.Names(merged))
	if err != nil {
		return nil, &appError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "Failed to resolve products"}
	}
	out := make([]domain.Allocation, 0, len(merged))
	for _, item := range merged {
		ref := lookup.Resolve(item.ProductName)
		if !ref.Found() {
			return nil, &appError{
				Status:  http.StatusUnprocessableEntity,
				Code:    "reference_not_found",
				Message: "Product was not found",
				Details: map[string]any{"product": item.ProductName},
			}
		}
		out = append(out, domain.Allocation{ProductID: *ref.ID, ProductName: item.ProductName, Quantity: item.Quantity})
	}
	return out, nil
}
