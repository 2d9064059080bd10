package domain

import "time"

type TriggerStatus string

const (
	TriggerStatusOpen   TriggerStatus = "OPEN"
	TriggerStatusClosed TriggerStatus = "CLOSED"
)

// ProcurementTrigger is a reorder signal. At most one trigger per component
// may be OPEN at any time.
type ProcurementTrigger struct {
	ID          int64
	ComponentID int64
	Status      TriggerStatus
	CreatedAt   time.Time
}
