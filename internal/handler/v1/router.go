package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/domain"
	"github.com/careops/clinicflow/pkg/auth"
	"github.com/careops/clinicflow/pkg/metrics"
)

type RouterDeps struct {
	JWTManager *auth.JWTManager
	Metrics    *metrics.Collector
	Log        *zap.Logger

	Auth   *AuthHandler
	Visits *VisitHandler
	Alerts *AlertHandler
}

// NewRouter wires the HTTP surface. Clinical routes all sit behind JWT auth;
// /healthz and /metrics stay open for the infrastructure.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Observe(deps.Metrics, deps.Log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1")

	api.POST("/auth/login", deps.Auth.Login)
	api.POST("/auth/refresh", deps.Auth.Refresh)

	authed := api.Group("")
	authed.Use(Authenticate(deps.JWTManager))

	authed.POST("/auth/change-password", deps.Auth.ChangePassword)

	visits := authed.Group("/visits")
	{
		visits.POST("", RequireRole(domain.RoleDoctor, domain.RoleNurse, domain.RoleReceptionist), deps.Visits.Create)
		visits.GET("/:id", deps.Visits.Get)
		visits.PATCH("/:id/status", RequireRole(domain.RoleDoctor, domain.RoleNurse, domain.RoleReceptionist), deps.Visits.ChangeStatus)
		visits.PUT("/:id/clinical", RequireRole(domain.RoleDoctor, domain.RoleNurse), deps.Visits.UpdateClinical)

		visits.POST("/:id/lock", RequireRole(domain.RoleDoctor, domain.RoleNurse), deps.Visits.AcquireLock)
		visits.PUT("/:id/lock", RequireRole(domain.RoleDoctor, domain.RoleNurse), deps.Visits.ExtendLock)
		visits.DELETE("/:id/lock", RequireRole(domain.RoleDoctor, domain.RoleNurse), deps.Visits.ReleaseLock)

		visits.POST("/:id/complete", RequireRole(domain.RoleDoctor, domain.RoleNurse), deps.Visits.Complete)
	}

	alerts := authed.Group("/alerts")
	alerts.Use(RequireRole(domain.RoleAdmin))
	{
		alerts.GET("", deps.Alerts.ListOpen)
		alerts.POST("/:id/acknowledge", deps.Alerts.Acknowledge)
	}

	return r
}
