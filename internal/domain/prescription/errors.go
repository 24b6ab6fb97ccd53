package prescription

import "errors"

var (
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrAlreadyDispensed     = errors.New("prescription has already been dispensed")
	ErrNoItems              = errors.New("prescription has no medication items")
)
