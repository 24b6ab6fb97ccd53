package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careops/clinicflow/internal/domain"
	"github.com/careops/clinicflow/internal/domain/visit"
	"github.com/careops/clinicflow/internal/service"
)

type VisitHandler struct {
	visits     *service.VisitService
	completion *service.CompletionService
}

func NewVisitHandler(visits *service.VisitService, completion *service.CompletionService) *VisitHandler {
	return &VisitHandler{visits: visits, completion: completion}
}

type createVisitRequest struct {
	PatientID     uuid.UUID               `json:"patient_id" binding:"required"`
	AppointmentID *uuid.UUID              `json:"appointment_id"`
	ProviderID    uuid.UUID               `json:"provider_id" binding:"required"`
	Type          visit.VisitType         `json:"type" binding:"required"`
	Date          time.Time               `json:"date"`
	Coverage      *visit.CoverageSnapshot `json:"coverage"`
}

func (h *VisitHandler) Create(c *gin.Context) {
	var req createVisitRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := claimsFrom(c)

	v, err := h.visits.CreateVisit(c.Request.Context(), &visit.CreateVisitCommand{
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		ProviderID:    req.ProviderID,
		Type:          req.Type,
		Date:          req.Date,
		Coverage:      req.Coverage,
		CreatedBy:     claims.UserID,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, v)
}

func (h *VisitHandler) Get(c *gin.Context) {
	v, err := h.visits.GetVisit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, v)
}

type changeStatusRequest struct {
	Status visit.Status `json:"status" binding:"required"`
}

func (h *VisitHandler) ChangeStatus(c *gin.Context) {
	var req changeStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	// Completion goes through the saga endpoint, never the plain status one.
	if req.Status == visit.StatusCompleted {
		respondError(c, http.StatusBadRequest, "use the complete endpoint to complete a visit")
		return
	}
	claims := claimsFrom(c)

	v, err := h.visits.ChangeStatus(c.Request.Context(), c.Param("id"), req.Status, claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, v)
}

type updateClinicalRequest struct {
	Acts           *[]visit.ClinicalAct       `json:"acts"`
	DeviceExams    *[]visit.DeviceExam        `json:"device_exams"`
	Orders         *[]visit.CareOrder         `json:"orders"`
	MedicationPlan *[]visit.PlannedMedication `json:"medication_plan"`
}

func (h *VisitHandler) UpdateClinical(c *gin.Context) {
	var req updateClinicalRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := claimsFrom(c)

	v, err := h.visits.UpdateClinical(c.Request.Context(), c.Param("id"), &visit.UpdateClinicalCommand{
		Acts:           req.Acts,
		DeviceExams:    req.DeviceExams,
		Orders:         req.Orders,
		MedicationPlan: req.MedicationPlan,
		UpdatedBy:      claims.UserID,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, v)
}

func (h *VisitHandler) AcquireLock(c *gin.Context) {
	claims := claimsFrom(c)

	info, err := h.visits.AcquireLock(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		if errors.Is(err, visit.ErrLockHeld) {
			c.JSON(http.StatusConflict, LockConflictResponse{
				Error: "visit is locked by another editor",
				Code:  "LOCK_HELD",
				Lock:  info,
			})
			return
		}
		respondServiceError(c, err)
		return
	}
	respondOK(c, info)
}

func (h *VisitHandler) ExtendLock(c *gin.Context) {
	claims := claimsFrom(c)

	extended, err := h.visits.ExtendLock(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"extended": extended})
}

func (h *VisitHandler) ReleaseLock(c *gin.Context) {
	claims := claimsFrom(c)

	released, err := h.visits.ReleaseLock(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"released": released})
}

// Complete runs the completion saga for a visit.
func (h *VisitHandler) Complete(c *gin.Context) {
	claims := claimsFrom(c)
	if claims.Role != domain.RoleDoctor && claims.Role != domain.RoleNurse && claims.Role != domain.RoleAdmin {
		respondServiceError(c, service.ErrForbidden)
		return
	}

	result, err := h.completion.CompleteVisit(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}
