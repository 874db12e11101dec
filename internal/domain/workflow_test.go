package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerFlowAdvancesInOrder(t *testing.T) {
	status := ContainerFlow.Initial()
	visited := []string{status}
	for !ContainerFlow.Terminal(status) {
		next, err := ContainerFlow.Next(status)
		require.NoError(t, err)
		status = next
		visited = append(visited, status)
	}
	assert.Equal(t, []string{"new", "packing", "sent", "invoiced"}, visited)
}

func TestNextRejectsTerminalAndUnknown(t *testing.T) {
	_, err := PickupFlow.Next(PickupCompleted)
	assert.ErrorIs(t, err, ErrTerminalStatus)

	_, err = ProcessingFlow.Next("shipped")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestNormalizeFallsBackToInitial(t *testing.T) {
	assert.Equal(t, ProcessingInProgress, ProcessingFlow.Normalize(" In Progress "))
	assert.Equal(t, PickupCompleted, PickupFlow.Normalize("COMPLETED"))
	assert.Equal(t, PickupScheduled, PickupFlow.Normalize("whenever"))
}

func TestLocationByName(t *testing.T) {
	c := Customer{Locations: []Location{{Name: "Dock A"}, {Name: "Dock B", Address: "2 Pier"}}}
	loc, ok := c.LocationByName("Dock B")
	require.True(t, ok)
	assert.Equal(t, "2 Pier", loc.Address)

	_, ok = c.LocationByName("dock b")
	assert.False(t, ok)
}
