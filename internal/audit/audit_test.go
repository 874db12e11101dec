package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circularops/api/internal/store"
)

func TestLogWritesEntry(t *testing.T) {
	mem := store.NewMemory()
	op := uuid.New()
	id := uuid.New()

	require.NoError(t, NewLogger(mem).Log(context.Background(), Entry{
		OperatorID: &op,
		Action:     ActionImportCompleted,
		EntityType: "inventory",
		EntityID:   &id,
		RequestID:  "req-1",
		Metadata:   map[string]any{"files": 2},
	}))
	require.NoError(t, NewLogger(mem).Log(context.Background(), Entry{Action: ActionExportDownload, EntityType: "products"}))

	entries := mem.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "import.completed", entries[0].Action)
	assert.Equal(t, &op, entries[0].OperatorID)
	assert.JSONEq(t, `{"files":2}`, string(entries[0].Metadata))
	assert.JSONEq(t, `{}`, string(entries[1].Metadata))
}

func TestLogRejectsEntryWithoutAction(t *testing.T) {
	mem := store.NewMemory()
	err := NewLogger(mem).Log(context.Background(), Entry{EntityType: "pickup"})
	require.ErrorIs(t, err, errMissingAction)
	assert.Empty(t, mem.AuditEntries())
}

func TestAdvanceAction(t *testing.T) {
	assert.Equal(t, "processing_request.advance", AdvanceAction("processing_request"))
}
