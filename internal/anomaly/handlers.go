package anomaly

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers exposes transaction recording and scoring over HTTP.
type Handlers struct {
	service *Service
	logger  *zap.Logger
}

// NewHandlers creates the transaction scoring HTTP handlers.
func NewHandlers(service *Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, logger: logger.With(zap.String("component", "anomaly_handlers"))}
}

// RegisterRoutes registers the transaction endpoints on the router.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/transactions", h.record)
	r.GET("/v1/score/transaction", h.scoreNewest)
	r.POST("/v1/score/transaction", h.scoreHypothetical)
	r.POST("/v1/score/transaction/heuristic", h.scoreHeuristic)
	r.POST("/v1/rules/test", h.rulesTest)
}

func (h *Handlers) record(c *gin.Context) {
	var tx Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if tx.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}

	stored, err := h.service.Record(c.Request.Context(), tx)
	if err != nil {
		h.logger.Error("transaction record failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record failed"})
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *Handlers) scoreNewest(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}

	result, err := h.service.ScoreNewest(c.Request.Context(), accountID, c.Query("method"))
	if err != nil {
		h.logger.Error("transaction scoring failed", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type scoreRequest struct {
	AccountID   string      `json:"account_id" binding:"required"`
	Method      string      `json:"method,omitempty"`
	Transaction Transaction `json:"transaction"`
}

func (h *Handlers) scoreHypothetical(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.ScoreHypothetical(c.Request.Context(), req.AccountID, req.Transaction, req.Method)
	if err != nil {
		h.logger.Error("transaction scoring failed", zap.String("account_id", req.AccountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) scoreHeuristic(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.ScoreHeuristicFor(c.Request.Context(), req.AccountID, req.Transaction)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) rulesTest(c *gin.Context) {
	var tx Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shadow_mode": true, "triggered": ShadowRules(tx)})
}
