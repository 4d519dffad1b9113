package modification

import (
	"context"
	"net/http"

	"recipe-modifier/internal/api/handlers"
	"recipe-modifier/internal/api/middleware"
	"recipe-modifier/internal/core/ai/quota"
	modificationCore "recipe-modifier/internal/core/modification"

	"github.com/gin-gonic/gin"
)

// Service 食譜修改流程
type Service interface {
	RequestModification(ctx context.Context, userID, recipeID string) (*modificationCore.Result, error)
	GetUsageStatus(ctx context.Context, userID string) (quota.Status, error)
	InvalidateRecipe(ctx context.Context, recipeID string) (int, error)
}

// Handler 食譜修改處理程序
type Handler struct {
	service Service
	recipes modificationCore.RecipeLookup
	debug   bool
}

// NewHandler 創建修改處理程序
func NewHandler(service Service, recipes modificationCore.RecipeLookup, debug bool) *Handler {
	return &Handler{service: service, recipes: recipes, debug: debug}
}

// HandleRequestModification 依使用者偏好修改食譜
func (h *Handler) HandleRequestModification(c *gin.Context) {
	result, err := h.service.RequestModification(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}
	c.Header("X-Cache", cacheHeader(result.CacheHit))
	handlers.RespondJSON(c, http.StatusOK, result)
}

// HandleInvalidate 清除食譜所有修改快取
func (h *Handler) HandleInvalidate(c *gin.Context) {
	recipeID := c.Param("id")
	// 只允許擁有者清除
	if _, err := h.recipes.Get(c.Request.Context(), middleware.UserID(c), recipeID); err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}
	removed, err := h.service.InvalidateRecipe(c.Request.Context(), recipeID)
	if err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}
	handlers.RespondJSON(c, http.StatusOK, gin.H{"invalidated": removed})
}

// HandleUsage 今日使用狀態
func (h *Handler) HandleUsage(c *gin.Context) {
	status, err := h.service.GetUsageStatus(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}
	handlers.RespondJSON(c, http.StatusOK, gin.H{"data": status})
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
