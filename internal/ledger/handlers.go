package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for ledger queries.
type Handler struct {
	ledger *Ledger
	events EventStore
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger, events EventStore) *Handler {
	return &Handler{ledger: ledger, events: events}
}

// RegisterRoutes sets up authenticated ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/balance", h.GetBalance)
	r.GET("/users/:id/ledger", h.GetHistory)
}

// RegisterSupportRoutes sets up support-only ledger routes.
func (h *Handler) RegisterSupportRoutes(r *gin.RouterGroup) {
	r.GET("/ledger/reconcile", h.Reconcile)
}

// GetBalance handles GET /v1/users/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// GetHistory handles GET /v1/users/:id/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	entries, err := h.ledger.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Reconcile handles GET /v1/support/ledger/reconcile
// Replays the event log for every user and compares against stored balances.
func (h *Handler) Reconcile(c *gin.Context) {
	results, err := ReconcileAll(c.Request.Context(), h.events, h.ledger.store)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	mismatches := 0
	for _, r := range results {
		if !r.Match {
			mismatches++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results":    results,
		"count":      len(results),
		"mismatches": mismatches,
	})
}
