package storage

import "errors"

var (
	ErrStockGuard  = errors.New("stock would become negative")
	ErrNotHeld     = errors.New("component is not locked by this transaction")
	ErrTxClosed    = errors.New("transaction already finished")
	ErrNegativeQty = errors.New("deduction quantity must not be negative")
)
