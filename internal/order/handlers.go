package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/shelfswap/internal/validation"
)

// Handler provides HTTP endpoints for order operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up authenticated order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/orders/:id/history", h.GetHistory)
	r.GET("/users/:id/orders", h.ListOrders)
	r.POST("/orders/:id/pay", h.ConfirmPayment)
	r.POST("/orders/:id/ship", h.MarkShipped)
	r.POST("/orders/:id/delivered", h.MarkDelivered)
	r.POST("/orders/:id/confirm", h.ConfirmOrder)
	r.POST("/orders/:id/cancel", h.CancelOrder)
}

type shipRequest struct {
	TrackingRef string `json:"trackingRef"`
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("seller_id", req.SellerID),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	buyerID := c.GetString("authUserID")
	order, err := h.service.Create(c.Request.Context(), buyerID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrSameParty):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "same_party",
				"message": "Buyer and seller cannot be the same user",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive decimal",
			})
		case errors.Is(err, ErrInvalidShipping):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_shipping_method",
				"message": "Shipping method must be postal or in_person",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "order_failed",
				"message": "Failed to create order",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	callerID := c.GetString("authUserID")
	if callerID != order.BuyerID && callerID != order.SellerID && c.GetString("authRole") != "support" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not a party to this order",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// GetHistory handles GET /v1/orders/:id/history
func (h *Handler) GetHistory(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	callerID := c.GetString("authUserID")
	if callerID != order.BuyerID && callerID != order.SellerID && c.GetString("authRole") != "support" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not a party to this order",
		})
		return
	}

	history, err := h.service.History(c.Request.Context(), order.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transitions": history,
		"count":       len(history),
	})
}

// ListOrders handles GET /v1/users/:id/orders
func (h *Handler) ListOrders(c *gin.Context) {
	userID := c.Param("id")
	if userID != c.GetString("authUserID") && c.GetString("authRole") != "support" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Cannot list another user's orders",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	orders, err := h.service.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// ConfirmPayment handles POST /v1/orders/:id/pay
func (h *Handler) ConfirmPayment(c *gin.Context) {
	order, err := h.service.ConfirmPayment(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// MarkShipped handles POST /v1/orders/:id/ship
func (h *Handler) MarkShipped(c *gin.Context) {
	// In-person handovers ship without a body.
	var req shipRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	order, err := h.service.MarkShipped(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req.TrackingRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// MarkDelivered handles POST /v1/orders/:id/delivered
func (h *Handler) MarkDelivered(c *gin.Context) {
	order, err := h.service.MarkDelivered(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ConfirmOrder handles POST /v1/orders/:id/confirm
func (h *Handler) ConfirmOrder(c *gin.Context) {
	order, err := h.service.Confirm(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder handles POST /v1/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// respondError maps service errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Order not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not authorized for this order operation",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "Order status does not allow this operation",
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Order was modified concurrently, retry",
		})
	case errors.Is(err, ErrMissingTrackingRef):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_tracking_ref",
			"message": "A tracking reference is required for postal shipments",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
