package visit

import (
	"errors"
	"fmt"
)

var (
	ErrVisitNotFound   = errors.New("visit not found")
	ErrVersionConflict = errors.New("visit was modified concurrently")
	ErrLockHeld        = errors.New("visit is locked by another editor")
	ErrLockRequired    = errors.New("editing requires holding the visit lock")
	ErrInvalidStatus   = errors.New("invalid visit status")
)

// IllegalTransitionError names the forbidden transition so the caller sees
// exactly which move was rejected.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal visit status transition %s -> %s", e.From, e.To)
}
