package service

import (
	"errors"
	"fmt"
	"strings"
)

var ErrForbidden = errors.New("forbidden: insufficient permissions")

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// ErrorKind is the machine-readable classification of a completion failure.
type ErrorKind string

const (
	// KindIllegalTransition — state machine violation. Fatal, no side effects.
	KindIllegalTransition ErrorKind = "illegal_transition"
	// KindLockConflict — another actor holds the edit lock. Fatal to the
	// interactive-edit path only; completion never takes the edit lock.
	KindLockConflict ErrorKind = "lock_conflict"
	// KindPriceLookupMiss — absorbed into a fallback price, never surfaced
	// as a failed completion. Present for result payloads and logs.
	KindPriceLookupMiss ErrorKind = "price_lookup_miss"
	// KindReservationFailure — recorded per prescription; completion proceeds.
	KindReservationFailure ErrorKind = "reservation_failure"
	// KindPersistenceFailure — fatal, triggers rollback or compensation.
	KindPersistenceFailure ErrorKind = "persistence_failure"
	// KindCompensationFailure — automatic recovery failed; an operational
	// alert has been raised and a human has to reconcile.
	KindCompensationFailure ErrorKind = "compensation_failure"
)

// Saga stage names, reported on errors so the caller knows where it stopped.
const (
	StageValidate    = "validate"
	StageMaterialize = "materialize_prescription"
	StageReserve     = "reserve_inventory"
	StageInvoice     = "generate_invoice"
	StageAppointment = "sync_appointment"
	StageComplete    = "persist_status"
	StagePatient     = "update_patient_pointer"
)

// CompletionError carries the error kind and the saga stage that failed.
type CompletionError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("visit completion failed at %s: %v", e.Stage, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

func completionErr(kind ErrorKind, stage string, err error) *CompletionError {
	return &CompletionError{Kind: kind, Stage: stage, Err: err}
}
