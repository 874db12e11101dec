package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/store"
)

// Actions recorded in the audit trail.
const (
	ActionLogin            = "auth.login"
	ActionLogout           = "auth.logout"
	ActionCustomerCreate   = "customers.create"
	ActionDriverCreate     = "drivers.create"
	ActionPickupCreate     = "pickups.create"
	ActionPickupProducts   = "pickups.products.replace"
	ActionPickupPhoto      = "pickups.photo.upload"
	ActionContainerCreate  = "containers.create"
	ActionContainerProduct = "containers.products.adjust"
	ActionProcessingCreate = "processing.create"
	ActionImportCompleted  = "import.completed"
	ActionImportFailed     = "import.failed"
	ActionExportDownload   = "export.download"
)

// AdvanceAction names a workflow transition of entity, e.g. pickup.advance.
func AdvanceAction(entity string) string {
	return entity + ".advance"
}

var errMissingAction = errors.New("audit entry has no action")

type Logger struct {
	s store.AuditLog
}

func NewLogger(s store.AuditLog) *Logger {
	return &Logger{s: s}
}

type Entry struct {
	OperatorID *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	RequestID  string
	Metadata   map[string]any
}

func (l *Logger) Log(ctx context.Context, entry Entry) error {
	if entry.Action == "" {
		return errMissingAction
	}
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = encoded
	}

	if err := l.s.InsertAuditLog(ctx, domain.AuditEntry{
		OperatorID: entry.OperatorID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RequestID:  entry.RequestID,
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
