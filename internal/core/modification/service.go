package modification

import (
	"context"
	"errors"
	"strings"
	"time"

	"recipe-modifier/internal/core/ai/cache"
	"recipe-modifier/internal/core/ai/client"
	"recipe-modifier/internal/core/ai/fingerprint"
	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/core/ai/quota"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/infrastructure/metrics"
	"recipe-modifier/internal/pkg/common"

	"go.uber.org/zap"
)

// RecipeLookup 依使用者取得食譜快照
type RecipeLookup interface {
	Get(ctx context.Context, ownerID, recipeID string) (*recipe.RecipeSnapshot, error)
}

// PreferenceLookup 取得使用者目前的偏好
type PreferenceLookup interface {
	GetPreferences(ctx context.Context, userID string) (*recipe.PreferenceSet, error)
}

// ModelInvoker 模型呼叫，由 client.Client 實作
type ModelInvoker interface {
	Invoke(ctx context.Context, prompt provider.Prompt, rc client.RequestConfig) (*client.RawOutput, error)
}

// Result 一次修改請求的結果
type Result struct {
	Delta       *recipe.RecipeDelta     `json:"data"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Source      cache.Source            `json:"source"`
	CacheHit    bool                    `json:"cache_hit"`
	CreatedAt   time.Time               `json:"created_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
	Usage       *quota.Status           `json:"usage,omitempty"`
}

// Dependencies Service 的協作者
type Dependencies struct {
	Recipes       RecipeLookup
	Preferences   PreferenceLookup
	Cache         *cache.ResponseCache
	Limiter       *quota.Limiter
	Model         ModelInvoker
	Validator     *recipe.Validator
	Metrics       *metrics.Metrics
	RequestConfig client.RequestConfig
}

// Service 食譜修改流程：指紋 → 快取 → 配額 → 模型 → 驗證
type Service struct {
	deps Dependencies
}

// NewService 創建修改服務
func NewService(deps Dependencies) *Service {
	if deps.Validator == nil {
		deps.Validator = recipe.NewValidator()
	}
	return &Service{deps: deps}
}

// RequestModification 取得使用者食譜依其偏好修改後的版本；快取命中不消耗配額
func (s *Service) RequestModification(ctx context.Context, userID, recipeID string) (*Result, error) {
	userID = strings.TrimSpace(userID)
	recipeID = strings.TrimSpace(recipeID)
	if userID == "" {
		return nil, common.NewInvalidInputError("user id is required", nil)
	}
	if recipeID == "" {
		return nil, common.NewInvalidInputError("recipe id is required", nil)
	}

	snapshot, err := s.deps.Recipes.Get(ctx, userID, recipeID)
	if err != nil {
		return nil, s.fail(err)
	}
	prefs, err := s.deps.Preferences.GetPreferences(ctx, userID)
	if err != nil {
		return nil, s.fail(err)
	}
	if snapshot == nil || prefs == nil {
		return nil, s.fail(common.NewNotFoundError("recipe or preferences not found"))
	}
	norm := prefs.Normalize()

	fp, err := fingerprint.Build(snapshot.ID, norm)
	if err != nil {
		return nil, s.fail(err)
	}

	start := time.Now()
	res, err := s.deps.Cache.GetOrCompute(ctx, fp, cache.Meta{RecipeID: snapshot.ID, Preferences: norm},
		func(cctx context.Context) (*recipe.RecipeDelta, error) {
			return s.compute(cctx, userID, *snapshot, norm)
		})
	if err != nil {
		common.LogWarn("食譜修改失敗",
			zap.String("user_id", userID),
			zap.String("recipe_id", recipeID),
			zap.String("fingerprint", fp.Short()),
			zap.String("kind", common.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, s.fail(err)
	}

	s.deps.Metrics.Modification(string(res.Source))
	common.LogInfo("食譜修改完成",
		zap.String("user_id", userID),
		zap.String("recipe_id", recipeID),
		zap.String("fingerprint", fp.Short()),
		zap.String("source", string(res.Source)),
		zap.Duration("duration", time.Since(start)),
	)

	out := &Result{
		Delta:       res.Entry.Result,
		Fingerprint: fp,
		Source:      res.Source,
		CacheHit:    res.Source == cache.SourceCache,
		CreatedAt:   res.Entry.CreatedAt,
		ExpiresAt:   res.Entry.ExpiresAt,
	}
	if status, err := s.deps.Limiter.Peek(ctx, userID); err == nil {
		out.Usage = &status
	} else {
		common.LogWarn("無法讀取使用狀態", zap.String("user_id", userID), zap.Error(err))
	}
	return out, nil
}

// compute 只在快取未命中時執行：先預留額度再呼叫模型，額度不因失敗退回
func (s *Service) compute(ctx context.Context, userID string, snapshot recipe.RecipeSnapshot, prefs recipe.PreferenceSet) (*recipe.RecipeDelta, error) {
	reservation, err := s.deps.Limiter.CheckAndReserve(ctx, userID)
	if err != nil {
		return nil, err
	}
	common.LogDebug("已預留配額",
		zap.String("user_id", userID),
		zap.String("reservation_id", reservation.ID),
		zap.Int64("remaining", reservation.Remaining),
	)

	prompt, err := recipe.BuildPrompt(snapshot, prefs)
	if err != nil {
		return nil, common.NewProcessingError("failed to build prompt", err)
	}

	raw, err := s.deps.Model.Invoke(ctx, prompt, s.deps.RequestConfig)
	if err != nil {
		return nil, err
	}

	delta, err := s.deps.Validator.Parse(raw.Content, snapshot)
	if err != nil {
		return nil, err
	}
	common.LogDebug("AI 回應驗證通過",
		zap.String("recipe_id", snapshot.ID),
		zap.String("model", raw.Model),
		zap.Int("attempts", raw.Attempts),
		zap.Int("modified_ingredients", delta.ModifiedIngredientCount()),
		zap.Int("carbs_reduction_percent", delta.Nutrition.CarbsReductionPercent),
	)
	return delta, nil
}

// GetUsageStatus 唯讀的每日使用狀態
func (s *Service) GetUsageStatus(ctx context.Context, userID string) (quota.Status, error) {
	return s.deps.Limiter.Peek(ctx, strings.TrimSpace(userID))
}

// InvalidateRecipe 食譜被修改後清除其所有修改快取
func (s *Service) InvalidateRecipe(ctx context.Context, recipeID string) (int, error) {
	recipeID = strings.TrimSpace(recipeID)
	if recipeID == "" {
		return 0, common.NewInvalidInputError("recipe id is required", nil)
	}
	return s.deps.Cache.InvalidateRecipe(ctx, recipeID)
}

func (s *Service) fail(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		s.deps.Metrics.Modification("canceled")
	default:
		s.deps.Metrics.Modification("error_" + common.KindOf(err).String())
	}
	return err
}
