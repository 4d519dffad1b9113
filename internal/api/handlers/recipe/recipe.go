package recipe

import (
	"context"
	"net/http"
	"strings"

	"recipe-modifier/internal/api/handlers"
	"recipe-modifier/internal/api/middleware"
	recipeCore "recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Invalidator 食譜內容變更後清除修改快取
type Invalidator interface {
	InvalidateRecipe(ctx context.Context, recipeID string) (int, error)
}

// SaveRecipeRequest 建立或更新食譜
type SaveRecipeRequest struct {
	Title       string                  `json:"title" binding:"required,max=255"`
	Ingredients []recipeCore.Ingredient `json:"ingredients" binding:"required,min=1,dive"`
	Steps       []recipeCore.Step       `json:"steps" binding:"required,min=1,dive"`
	TotalCarbs  float64                 `json:"total_carbs" binding:"gte=0"`
}

// Handler 食譜與偏好處理程序
type Handler struct {
	recipes     recipeCore.Repository
	preferences recipeCore.PreferenceRepository
	invalidator Invalidator
	debug       bool
}

// NewHandler 創建新的食譜處理程序
func NewHandler(recipes recipeCore.Repository, preferences recipeCore.PreferenceRepository, invalidator Invalidator, debug bool) *Handler {
	return &Handler{
		recipes:     recipes,
		preferences: preferences,
		invalidator: invalidator,
		debug:       debug,
	}
}

// HandleGetRecipe 取得使用者的食譜
func (h *Handler) HandleGetRecipe(c *gin.Context) {
	snap, err := h.recipes.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}
	handlers.RespondJSON(c, http.StatusOK, gin.H{"data": snap})
}

// HandleSaveRecipe 建立或更新食譜，並清除該食譜的修改快取
func (h *Handler) HandleSaveRecipe(c *gin.Context) {
	recipeID := strings.TrimSpace(c.Param("id"))
	var req SaveRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, common.NewInvalidInputError("invalid recipe payload", err), h.debug)
		return
	}

	snap := &recipeCore.RecipeSnapshot{
		ID:          recipeID,
		OwnerID:     middleware.UserID(c),
		Title:       strings.TrimSpace(req.Title),
		Ingredients: req.Ingredients,
		Steps:       req.Steps,
		TotalCarbs:  req.TotalCarbs,
	}
	if err := h.recipes.Save(c.Request.Context(), snap); err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}

	// 快取清除失敗不影響儲存結果，舊結果最多保留到 TTL
	removed, err := h.invalidator.InvalidateRecipe(c.Request.Context(), recipeID)
	if err != nil {
		common.LogWarn("清除食譜快取失敗",
			zap.String("request_id", requestid.Get(c)),
			zap.String("recipe_id", recipeID),
			zap.Error(err),
		)
	}
	common.LogInfo("食譜已儲存",
		zap.String("request_id", requestid.Get(c)),
		zap.String("recipe_id", recipeID),
		zap.Int("invalidated", removed),
	)
	handlers.RespondJSON(c, http.StatusOK, gin.H{"data": snap})
}

// HandleGetPreferences 取得使用者的飲食偏好
func (h *Handler) HandleGetPreferences(c *gin.Context) {
	prefs, err := h.preferences.GetPreferences(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}
	handlers.RespondJSON(c, http.StatusOK, gin.H{"data": prefs})
}

// HandleSavePreferences 更新使用者的飲食偏好
func (h *Handler) HandleSavePreferences(c *gin.Context) {
	var prefs recipeCore.PreferenceSet
	if err := c.ShouldBindJSON(&prefs); err != nil {
		handlers.RespondError(c, common.NewInvalidInputError("invalid preferences payload", err), h.debug)
		return
	}
	userID := middleware.UserID(c)
	if err := h.preferences.SavePreferences(c.Request.Context(), userID, prefs); err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}

	saved, err := h.preferences.GetPreferences(c.Request.Context(), userID)
	if err != nil {
		handlers.RespondError(c, err, h.debug)
		return
	}
	handlers.RespondJSON(c, http.StatusOK, gin.H{"data": saved})
}

// HandleDietOptions 列出支援的飲食類型
func HandleDietOptions(c *gin.Context) {
	handlers.RespondJSON(c, http.StatusOK, gin.H{"diet_types": recipeCore.DietTypes()})
}
