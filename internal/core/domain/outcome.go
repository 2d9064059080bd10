package domain

import (
	"fmt"
	"strings"
)

type FailureKind string

const (
	FailureNotFound          FailureKind = "NOT_FOUND"
	FailureNoBOMDefined      FailureKind = "NO_BOM_DEFINED"
	FailureInsufficientStock FailureKind = "INSUFFICIENT_STOCK"
	FailureInvalidInput      FailureKind = "INVALID_INPUT"
	FailureDuplicateRequest  FailureKind = "DUPLICATE_REQUEST"
	FailureInternal          FailureKind = "INTERNAL_ERROR"
)

// Shortage is the deficit of one component found during feasibility
// evaluation. Missing is set when the BOM references a component that no
// longer exists.
type Shortage struct {
	ComponentID int64
	Name        string
	PartNumber  string
	Available   int
	Required    int
	Deficit     int
	Missing     bool
}

type ProductionResult struct {
	ProductionEntryID  int64
	BoardID            int64
	BoardName          string
	QuantityProduced   int
	ComponentsConsumed int
	TriggersOpened     []int64
}

// ProductionFailure is the failed arm of an Outcome. It implements error so
// stages can return it directly.
type ProductionFailure struct {
	Kind      FailureKind
	Message   string
	Shortages []Shortage

	cause error
}

func (f *ProductionFailure) Error() string {
	if f.Kind == FailureInsufficientStock && len(f.Shortages) > 0 {
		parts := make([]string, 0, len(f.Shortages))
		for _, s := range f.Shortages {
			parts = append(parts, fmt.Sprintf("component %d: available %d, required %d", s.ComponentID, s.Available, s.Required))
		}
		return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Message, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *ProductionFailure) Unwrap() error {
	return f.cause
}

// Cause returns the underlying error of an internal failure, if any.
func (f *ProductionFailure) Cause() error {
	return f.cause
}

func NewFailure(kind FailureKind, message string) *ProductionFailure {
	return &ProductionFailure{Kind: kind, Message: message}
}

func InsufficientStock(shortages []Shortage) *ProductionFailure {
	return &ProductionFailure{
		Kind:      FailureInsufficientStock,
		Message:   "insufficient stock for production",
		Shortages: shortages,
	}
}

// InternalFailure hides cause behind an opaque message.
func InternalFailure(cause error) *ProductionFailure {
	return &ProductionFailure{
		Kind:    FailureInternal,
		Message: "failed to record production",
		cause:   cause,
	}
}

// Outcome is the result of RecordProduction. Exactly one of Success and
// Failure is set.
type Outcome struct {
	Success    *ProductionResult
	Failure    *ProductionFailure
	FinalState TxState
}

func (o Outcome) Committed() bool {
	return o.Success != nil
}

func (o Outcome) Kind() FailureKind {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Kind
}

// Err returns the failure as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}
