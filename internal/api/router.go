package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"recipe-modifier/internal/api/handlers"
	"recipe-modifier/internal/api/handlers/health"
	modificationHandler "recipe-modifier/internal/api/handlers/modification"
	recipeHandler "recipe-modifier/internal/api/handlers/recipe"
	"recipe-modifier/internal/api/middleware"
	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/infrastructure/metrics"
	"recipe-modifier/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies 路由所需的服務
type Dependencies struct {
	Modification *modification.Service
	Recipes      recipe.Repository
	Preferences  recipe.PreferenceRepository
	Metrics      *metrics.Metrics
	RateLimiter  *middleware.RateLimiter
	Health       health.Options
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Modification == nil || deps.Recipes == nil || deps.Preferences == nil {
		return nil, errors.New("modification service and repositories are required")
	}

	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 創建路由引擎
	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(requestid.New()) // 自動生成請求 ID
	router.Use(middleware.Logger(deps.Metrics))

	// CORS 設置
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", middleware.UserHeader},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID", "X-Cache", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if allowsAll(cfg.Server.CORSOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	// 請求體大小限制
	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))

	// 健康檢查路由
	healthHandler := health.NewHandler(deps.Health)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API 路由組
	api := router.Group("/api/v1")
	api.Use(middleware.RequireUser())
	if cfg.RateLimit.Enabled && deps.RateLimiter != nil {
		api.Use(middleware.RateLimit(deps.RateLimiter))
	}
	api.Use(requestTimeout(cfg.Server.WriteTimeout))
	{
		recipes := recipeHandler.NewHandler(deps.Recipes, deps.Preferences, deps.Modification, cfg.App.Debug)
		modifications := modificationHandler.NewHandler(deps.Modification, deps.Recipes, cfg.App.Debug)

		recipeGroup := api.Group("/recipes")
		{
			recipeGroup.GET("/:id", recipes.HandleGetRecipe)
			recipeGroup.PUT("/:id", recipes.HandleSaveRecipe)

			// 依偏好修改食譜
			recipeGroup.POST("/:id/modifications", modifications.HandleRequestModification)
			recipeGroup.DELETE("/:id/modifications", modifications.HandleInvalidate)
		}

		api.GET("/preferences", recipes.HandleGetPreferences)
		api.PUT("/preferences", recipes.HandleSavePreferences)
		api.GET("/preferences/diet-types", recipeHandler.HandleDietOptions)
		api.GET("/usage", modifications.HandleUsage)
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Duration("timeout", cfg.Server.WriteTimeout),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
	)

	return router, nil
}

// requestTimeout 設置請求超時；處理器尚未回應時回傳 504
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", requestid.Get(c)),
				zap.Duration("timeout", timeout),
			)
			handlers.RespondError(c, common.NewError(common.ErrCodeRequestTimeout, "request timeout", http.StatusGatewayTimeout, ctx.Err()), false)
		}
	}
}

func allowsAll(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return len(origins) == 0
}
