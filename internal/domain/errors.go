package domain

import "errors"

var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrCatalogInvalid      = errors.New("catalog invalid")
	ErrPredicateParse      = errors.New("predicate parse error")
	ErrDegenerateATR       = errors.New("degenerate atr")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrSignalNotFound      = errors.New("signal not found")
)
