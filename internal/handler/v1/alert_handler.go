package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/careops/clinicflow/internal/service"
)

type AlertHandler struct {
	alerts *service.AlertService
}

func NewAlertHandler(alerts *service.AlertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

func (h *AlertHandler) ListOpen(c *gin.Context) {
	list, err := h.alerts.ListOpen(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, list)
}

func (h *AlertHandler) Acknowledge(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	claims := claimsFrom(c)

	if err := h.alerts.Acknowledge(c.Request.Context(), id, claims.UserID); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"acknowledged": true})
}
