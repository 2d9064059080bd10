package domain

import "time"

type Component struct {
	ID                      int64
	Name                    string
	PartNumber              string
	CurrentStock            int
	MonthlyRequiredQuantity int // reorder threshold basis
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type Board struct {
	ID   int64
	Name string
}
