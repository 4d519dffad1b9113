package cache

import (
	"context"
	"errors"
	"time"

	"recipe-modifier/internal/core/ai/fingerprint"
	"recipe-modifier/internal/core/recipe"
)

// ErrMiss 快取中沒有可用的條目
var ErrMiss = errors.New("cache miss")

// Entry 快取條目，建立後唯讀；每個 fingerprint 最多一筆有效條目
type Entry struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	RecipeID    string                  `json:"recipe_id"`
	Preferences recipe.PreferenceSet    `json:"preferences"`
	Result      *recipe.RecipeDelta     `json:"result"`
	CreatedAt   time.Time               `json:"created_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
}

// Expired now >= ExpiresAt 即視為過期
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store 快取條目的儲存後端
type Store interface {
	// Get 條目不存在或已過期時回傳 ErrMiss
	Get(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, fp fingerprint.Fingerprint) error
	// DeleteByRecipe 刪除某食譜的所有條目，回傳刪除數量
	DeleteByRecipe(ctx context.Context, recipeID string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Clock 可注入的時間來源
type Clock func() time.Time
