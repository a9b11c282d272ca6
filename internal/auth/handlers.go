package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/shelfswap/internal/idgen"
	"github.com/mbd888/shelfswap/internal/validation"
)

// Handler provides HTTP endpoints for auth management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":      "api_key",
		"header":    "Authorization: Bearer sk_...",
		"altHeader": "X-API-Key: sk_...",
		"note":      "API key is returned on registration. Store it securely.",
		"publicEndpoints": []string{
			"POST /v1/register",
			"GET /v1/auth/info",
			"GET /health",
		},
		"protectedEndpoints": []string{
			"POST /v1/orders",
			"POST /v1/orders/:id/dispute",
			"POST /v1/webhooks",
		},
	})
}

// RegisterRequest is the request body for registering a user
type RegisterRequest struct {
	DisplayName string `json:"displayName"`
}

// Register creates a marketplace user and issues their first API key
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	c.ShouldBindJSON(&req)
	req.DisplayName = validation.SanitizeString(req.DisplayName, 100)
	if req.DisplayName == "" {
		req.DisplayName = "Primary key"
	}

	userID := idgen.WithPrefix("usr_")
	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), userID, RoleUser, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registration_failed",
			"message": "Failed to register user",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"userId":  userID,
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// CreateSupportKeyRequest is the request body for provisioning a support key
type CreateSupportKeyRequest struct {
	Name string `json:"name"`
}

// CreateSupportKey provisions a support-staff key. Admin-guarded.
func (h *Handler) CreateSupportKey(c *gin.Context) {
	var req CreateSupportKeyRequest
	c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "Support key"
	}

	userID := idgen.WithPrefix("sup_")
	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), userID, RoleSupport, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to create key",
			"message": "Failed to create support key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"userId":  userID,
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"role":    key.Role,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// ListKeys returns API keys for the authenticated user
func (h *Handler) ListKeys(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), key.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list keys",
		})
		return
	}

	// Don't expose hashes
	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"role":      k.Role,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  safeKeys,
		"count": len(safeKeys),
	})
}

// CreateKeyRequest is the request body for creating a key
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey creates an additional API key for the authenticated user
func (h *Handler) CreateKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateKeyRequest
	c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "Additional key"
	}

	rawKey, newKey, err := h.manager.GenerateKey(c.Request.Context(), key.UserID, key.Role, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to create key",
			"message": "Failed to create API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   newKey.ID,
		"name":    newKey.Name,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// RevokeKey revokes an API key
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID := c.Param("keyId")

	// Prevent revoking current key
	if keyID == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key you're using",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "Key not found or already revoked",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Key revoked",
		"keyId":   keyID,
	})
}

// GetCurrentUser returns info about the authenticated user
func (h *Handler) GetCurrentUser(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    key.UserID,
		"role":      key.Role,
		"keyId":     key.ID,
		"keyName":   key.Name,
		"createdAt": key.CreatedAt,
		"lastUsed":  key.LastUsed,
	})
}
