package inventory

import "errors"

var (
	ErrStockItemNotFound   = errors.New("stock item not found")
	ErrInsufficientStock   = errors.New("insufficient stock for reservation")
	ErrReservationNotFound = errors.New("reservation not found")
)
