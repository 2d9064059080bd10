package domain

// BOMEntry is one line of a board's bill of materials: how many units of a
// component one board consumes.
type BOMEntry struct {
	BoardID          int64
	ComponentID      int64
	QuantityRequired int
}
