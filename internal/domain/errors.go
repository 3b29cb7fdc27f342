package domain

import "errors"

// Common errors returned by the engine, the catalog and the stores
var (
	ErrBasketNotFound    = errors.New("basket not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrDealNotFound      = errors.New("deal not found")
	ErrAlreadyCheckedOut = errors.New("basket has already been checked out")
	ErrInvalidDeal       = errors.New("invalid deal")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrBasketConflict    = errors.New("basket was modified concurrently")
)

// IsNotFound reports whether err is one of the not-found errors
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBasketNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrDealNotFound)
}
