package intel

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/logger"
)

// Handlers exposes feed status and reload over HTTP.
type Handlers struct {
	service *Service
	logger  *zap.Logger
	audit   *logger.AuditLogger
}

// NewHandlers creates the threat intel HTTP handlers.
func NewHandlers(service *Service, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		service: service,
		logger:  log.With(zap.String("component", "intel_handlers")),
		audit:   logger.NewAuditLogger(log),
	}
}

// RegisterRoutes registers the intel endpoints on the router.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/intel/status", h.status)
	r.POST("/v1/intel/reload", h.reload)
}

func (h *Handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Status())
}

func (h *Handlers) reload(c *gin.Context) {
	status := h.service.Reload()
	h.audit.LogIntelReload(c.ClientIP(), status.Counts)
	c.JSON(http.StatusOK, status)
}
