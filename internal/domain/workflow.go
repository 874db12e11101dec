package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Entity names double as the table names the store advances statuses on.
type Entity string

const (
	EntityPickup     Entity = "pickups"
	EntityContainer  Entity = "containers"
	EntityProcessing Entity = "processing_requests"
)

const (
	PickupScheduled = "scheduled"
	PickupCompleted = "completed"

	ContainerNew      = "new"
	ContainerPacking  = "packing"
	ContainerSent     = "sent"
	ContainerInvoiced = "invoiced"

	ProcessingNew        = "new"
	ProcessingInProgress = "in_progress"
	ProcessingCompleted  = "completed"
)

var (
	ErrUnknownStatus  = errors.New("unknown status")
	ErrTerminalStatus = errors.New("status is terminal")
)

// Workflow is a linear status machine.
type Workflow struct {
	Entity   Entity
	Statuses []string
}

var (
	PickupFlow     = Workflow{Entity: EntityPickup, Statuses: []string{PickupScheduled, PickupCompleted}}
	ContainerFlow  = Workflow{Entity: EntityContainer, Statuses: []string{ContainerNew, ContainerPacking, ContainerSent, ContainerInvoiced}}
	ProcessingFlow = Workflow{Entity: EntityProcessing, Statuses: []string{ProcessingNew, ProcessingInProgress, ProcessingCompleted}}
)

func (w Workflow) Initial() string {
	return w.Statuses[0]
}

func (w Workflow) Valid(status string) bool {
	return slices.Contains(w.Statuses, status)
}

func (w Workflow) Terminal(status string) bool {
	return status == w.Statuses[len(w.Statuses)-1]
}

// Next returns the status following current.
func (w Workflow) Next(current string) (string, error) {
	idx := slices.Index(w.Statuses, current)
	if idx < 0 {
		return "", fmt.Errorf("%s: %w %q", w.Entity, ErrUnknownStatus, current)
	}
	if idx == len(w.Statuses)-1 {
		return "", fmt.Errorf("%s: %w %q", w.Entity, ErrTerminalStatus, current)
	}
	return w.Statuses[idx+1], nil
}

// Normalize maps a free-text status onto the workflow, falling back to the initial status.
func (w Workflow) Normalize(raw string) string {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	for _, s := range w.Statuses {
		if normalized == s {
			return s
		}
	}
	return w.Initial()
}
