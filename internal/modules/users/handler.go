package users

import (
	"net/http"
	"strconv"

	"identity/internal/middleware"
	"identity/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler manages HTTP interactions for user lookup and administration.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	userGroup := protected.Group("/users")
	{
		userGroup.GET("/me", h.GetMe)
		userGroup.GET("", middleware.AdminOnly(), h.List)
		userGroup.GET("/:id", middleware.SelfOrAdmin(), h.GetByID)
		userGroup.POST("/:id/block", middleware.SelfOrAdmin(), h.Block)
	}
}

func (h *Handler) GetMe(c *gin.Context) {
	userID := c.GetInt64("user_id")

	profile, err := h.service.GetByID(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": profile})
}

func (h *Handler) List(c *gin.Context) {
	profiles, err := h.service.List(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"users": profiles})
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	profile, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": profile})
}

func (h *Handler) Block(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	profile, err := h.service.Block(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": profile})
}
