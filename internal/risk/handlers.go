package risk

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/logger"
	"github.com/riskforge/riskforge/internal/device"
)

// Handlers exposes the login scoring pipeline over HTTP.
type Handlers struct {
	service *Service
	logger  *zap.Logger
	audit   *logger.AuditLogger
}

// NewHandlers creates the HTTP handlers for the risk service.
func NewHandlers(service *Service, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		service: service,
		logger:  log.With(zap.String("component", "risk_handlers")),
		audit:   logger.NewAuditLogger(log),
	}
}

// RegisterRoutes registers the risk endpoints on the router.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/score/login", h.scoreLogin)
	r.GET("/v1/risk/config", h.getConfig)
	r.PUT("/v1/risk/config", h.updateConfig)
	r.GET("/v1/profile/:user_id", h.getProfile)
	r.GET("/v1/devices/:user_id", h.listDevices)
	r.POST("/v1/devices/:user_id/:device_hash/trust", h.trustDevice)
	r.POST("/v1/devices/:user_id/:device_hash/bind", h.bindDevice)
	r.POST("/v1/devices/:user_id/:device_hash/unbind", h.unbindDevice)
}

func (h *Handlers) scoreLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assessment, err := h.service.ScoreLogin(c.Request.Context(), req)
	switch {
	case errors.Is(err, ErrAccountLocked):
		c.JSON(http.StatusLocked, gin.H{"error": "account temporarily locked"})
		return
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	case err != nil:
		h.logger.Error("login scoring failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring failed"})
		return
	}

	status := http.StatusOK
	if assessment.Decision == DecisionHardDeny {
		status = http.StatusForbidden
	}
	c.JSON(status, assessment)
}

func (h *Handlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Configs().Snapshot())
}

func (h *Handlers) updateConfig(c *gin.Context) {
	var patch ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	before := h.service.Configs().Snapshot()
	updated, err := h.service.Configs().Update(patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.audit.LogConfigurationChanged(c.ClientIP(), "risk_config", before, updated)
	c.JSON(http.StatusOK, updated)
}

func (h *Handlers) getProfile(c *gin.Context) {
	prof, err := h.service.Profile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile lookup failed"})
		return
	}
	c.JSON(http.StatusOK, prof)
}

func (h *Handlers) listDevices(c *gin.Context) {
	devices, err := h.service.Devices().List(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *Handlers) trustDevice(c *gin.Context) {
	err := h.service.Devices().Trust(c.Request.Context(), c.Param("user_id"), c.Param("device_hash"))
	if errors.Is(err, device.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trust update failed"})
		return
	}
	h.audit.LogDeviceTrusted(c.Param("user_id"), c.Param("device_hash"), true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) bindDevice(c *gin.Context) {
	userID := c.Param("user_id")
	deviceHash := c.Param("device_hash")

	raw, tokenHash, err := device.NewBindToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	err = h.service.Devices().SetBindToken(c.Request.Context(), userID, deviceHash, tokenHash, time.Now().UTC())
	if errors.Is(err, device.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bind failed"})
		return
	}

	h.audit.LogDeviceBound(userID, deviceHash)

	// The raw token is returned exactly once; only its hash is stored.
	c.JSON(http.StatusOK, gin.H{"device_hash": deviceHash, "device_binding": raw})
}

func (h *Handlers) unbindDevice(c *gin.Context) {
	err := h.service.Devices().ClearBindToken(c.Request.Context(), c.Param("user_id"), c.Param("device_hash"))
	if errors.Is(err, device.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unbind failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
