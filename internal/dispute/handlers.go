package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/shelfswap/internal/order"
	"github.com/mbd888/shelfswap/internal/validation"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up authenticated dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/dispute", h.OpenDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.POST("/disputes/:id/messages", h.PostMessage)
	r.GET("/disputes/:id/messages", h.ListMessages)
	r.POST("/disputes/:id/evidence", h.AddEvidence)
	r.GET("/disputes/:id/evidence", h.ListEvidence)
	r.POST("/disputes/:id/withdraw", h.Withdraw)
	r.GET("/users/:id/disputes", h.ListUserDisputes)
}

// RegisterSupportRoutes sets up support-only dispute routes.
func (h *Handler) RegisterSupportRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListDisputes)
	r.POST("/disputes/:id/resolve", h.Resolve)
}

type messageRequest struct {
	Body string `json:"body" binding:"required"`
}

// OpenDispute handles POST /v1/orders/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}
	req.Description = validation.SanitizeString(req.Description, 2000)

	d, err := h.service.Open(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.canView(c, d) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// PostMessage handles POST /v1/disputes/:id/messages
func (h *Handler) PostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "body is required",
		})
		return
	}

	m, err := h.service.PostMessage(
		c.Request.Context(),
		c.Param("id"),
		c.GetString("authUserID"),
		c.GetString("authRole"),
		validation.SanitizeString(req.Body, validation.MaxStringLength),
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// ListMessages handles GET /v1/disputes/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.canView(c, d) {
		return
	}

	messages, err := h.service.Messages(c.Request.Context(), d.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// AddEvidence handles POST /v1/disputes/:id/evidence
func (h *Handler) AddEvidence(c *gin.Context) {
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "filename, url, contentType, sizeBytes and sha256 are required",
		})
		return
	}
	req.Filename = validation.SanitizeString(req.Filename, 255)

	e, err := h.service.AddEvidence(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"evidence": e})
}

// ListEvidence handles GET /v1/disputes/:id/evidence
func (h *Handler) ListEvidence(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.canView(c, d) {
		return
	}

	evidence, err := h.service.Evidence(c.Request.Context(), d.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"evidence": evidence,
		"count":    len(evidence),
	})
}

// Withdraw handles POST /v1/disputes/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	d, err := h.service.Withdraw(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListUserDisputes handles GET /v1/users/:id/disputes
func (h *Handler) ListUserDisputes(c *gin.Context) {
	userID := c.Param("id")
	if userID != c.GetString("authUserID") && c.GetString("authRole") != "support" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Cannot list another user's disputes",
		})
		return
	}

	disputes, err := h.service.ListByUser(c.Request.Context(), userID, parseLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// ListDisputes handles GET /v1/support/disputes?status=mediation
func (h *Handler) ListDisputes(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusMediation)))
	switch status {
	case StatusOpened, StatusMediation, StatusResolved:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "status must be opened, mediation or resolved",
		})
		return
	}

	disputes, err := h.service.ListByStatus(c.Request.Context(), status, parseLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// Resolve handles POST /v1/support/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// parseLimit reads the limit query param, defaulting to 50, capped at 200.
func parseLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}

// canView rejects callers who are neither a party nor support.
func (h *Handler) canView(c *gin.Context, d *Dispute) bool {
	callerID := c.GetString("authUserID")
	if d.IsParty(callerID) || c.GetString("authRole") == "support" {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{
		"error":   "unauthorized",
		"message": "Not a party to this dispute",
	})
	return false
}

// respondError maps service errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound), errors.Is(err, order.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute or order not found",
		})
	case errors.Is(err, ErrDisputeAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "dispute_exists",
			"message": "Order already has an open dispute",
		})
	case errors.Is(err, ErrDisputeResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "Dispute is already resolved",
		})
	case errors.Is(err, ErrNotParty):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not a party to this dispute",
		})
	case errors.Is(err, ErrNotMediation):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_mediation",
			"message": "Dispute must be in mediation for this operation",
		})
	case errors.Is(err, ErrNotWithdrawable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_withdrawable",
			"message": "Dispute can only be withdrawn while opened",
		})
	case errors.Is(err, ErrInvalidReason):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_reason",
			"message": "Reason must be one of the dispute reason codes",
		})
	case errors.Is(err, ErrInvalidEvidence):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_evidence",
			"message": err.Error(),
		})
	case errors.Is(err, ErrUnsupportedEvidence):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error":   "unsupported_evidence_type",
			"message": "Evidence content type is not allowed",
		})
	case errors.Is(err, ErrEvidenceTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "evidence_too_large",
			"message": "Evidence exceeds the size ceiling",
		})
	case errors.Is(err, ErrDuplicateEvidence):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_evidence",
			"message": "Identical evidence already submitted",
		})
	case errors.Is(err, ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "empty_message",
			"message": "Message body is empty",
		})
	case errors.Is(err, ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_resolution",
			"message": err.Error(),
		})
	case errors.Is(err, order.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "Order status does not allow a dispute",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
