package domain

import "time"

type ProductionEntry struct {
	ID               int64
	BoardID          int64
	BoardName        string
	QuantityProduced int
	CreatedAt        time.Time
}

type ConsumptionRecord struct {
	ID                int64
	ProductionEntryID int64
	ComponentID       int64
	BoardID           int64
	QuantityUsed      int
	CreatedAt         time.Time
}

// ConsumedComponent describes one component after a committed deduction.
type ConsumedComponent struct {
	ComponentID  int64
	PartNumber   string
	QuantityUsed int
	NewStock     int
}

// ProductionRecorded is emitted after a production transaction commits.
type ProductionRecorded struct {
	ProductionEntryID int64
	BoardID           int64
	QuantityProduced  int
	Consumed          []ConsumedComponent
	TriggersOpened    []ProcurementTrigger
	CommittedAt       time.Time
}
