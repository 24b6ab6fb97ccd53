package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careops/clinicflow/internal/domain/appointment"
	"github.com/careops/clinicflow/internal/domain/invoice"
	"github.com/careops/clinicflow/internal/domain/patient"
	"github.com/careops/clinicflow/internal/domain/prescription"
	"github.com/careops/clinicflow/internal/domain/visit"
	"github.com/careops/clinicflow/internal/service"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// LockConflictResponse tells the caller who holds the edit lock and until when.
type LockConflictResponse struct {
	Error string          `json:"error"`
	Code  string          `json:"code"`
	Lock  *visit.LockInfo `json:"lock,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

func respondServiceError(c *gin.Context, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: validErr.Fields,
		})
		return
	}

	var compErr *service.CompletionError
	if errors.As(err, &compErr) {
		respondCompletionError(c, compErr)
		return
	}

	var transErr *visit.IllegalTransitionError
	if errors.As(err, &transErr) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: transErr.Error(),
			Code:  "ILLEGAL_TRANSITION",
		})
		return
	}

	switch {
	case errors.Is(err, visit.ErrVisitNotFound),
		errors.Is(err, patient.ErrPatientNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, prescription.ErrPrescriptionNotFound),
		errors.Is(err, invoice.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, visit.ErrVersionConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "VERSION_CONFLICT",
		})

	case errors.Is(err, visit.ErrLockHeld):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "LOCK_HELD",
		})

	case errors.Is(err, visit.ErrLockRequired):
		c.JSON(http.StatusPreconditionFailed, ErrorResponse{
			Error: err.Error(),
			Code:  "LOCK_REQUIRED",
		})

	case errors.Is(err, visit.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})

	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})

	case errors.Is(err, service.ErrAccountLocked):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "account temporarily locked",
			Code:  "ACCOUNT_LOCKED",
		})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// respondCompletionError maps the saga error kinds onto HTTP statuses. The
// stage that failed rides along in the details so the client can show it.
func respondCompletionError(c *gin.Context, err *service.CompletionError) {
	details := map[string]string{"stage": err.Stage}
	switch err.Kind {
	case service.KindIllegalTransition:
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Code:    "ILLEGAL_TRANSITION",
			Details: details,
		})
	case service.KindLockConflict:
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Code:    "LOCK_CONFLICT",
			Details: details,
		})
	case service.KindCompensationFailure:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   err.Error(),
			Code:    "COMPENSATION_FAILURE",
			Details: details,
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   err.Error(),
			Code:    string(err.Kind),
			Details: details,
		})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}

	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}
