package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// Store 以記憶體保存食譜與偏好，程序重啟後資料消失
type Store struct {
	mu          sync.RWMutex
	recipes     map[string]recipe.RecipeSnapshot
	preferences map[string]recipe.PreferenceSet
	now         func() time.Time
}

// NewStore 創建記憶體儲存
func NewStore() *Store {
	return &Store{
		recipes:     make(map[string]recipe.RecipeSnapshot),
		preferences: make(map[string]recipe.PreferenceSet),
		now:         time.Now,
	}
}

// Get 取得食譜；不存在或不屬於 ownerID 時回傳 NotFoundError
func (s *Store) Get(_ context.Context, ownerID, recipeID string) (*recipe.RecipeSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.recipes[recipeID]
	if !ok || snap.OwnerID != ownerID {
		return nil, common.NewNotFoundError("recipe not found")
	}
	out := cloneSnapshot(snap)
	return &out, nil
}

// Save 新增或覆寫食譜；同一 ID 已屬於其他使用者時視為不存在
func (s *Store) Save(_ context.Context, snapshot *recipe.RecipeSnapshot) error {
	if snapshot == nil || strings.TrimSpace(snapshot.ID) == "" || strings.TrimSpace(snapshot.OwnerID) == "" {
		return common.NewInvalidInputError("recipe id and owner are required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.recipes[snapshot.ID]; ok && existing.OwnerID != snapshot.OwnerID {
		return common.NewNotFoundError("recipe not found")
	}
	stored := cloneSnapshot(*snapshot)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now().UTC()
	}
	s.recipes[stored.ID] = stored
	snapshot.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetPreferences 取得偏好；尚未設定時回傳 NotFoundError
func (s *Store) GetPreferences(_ context.Context, userID string) (*recipe.PreferenceSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, ok := s.preferences[userID]
	if !ok {
		return nil, common.NewNotFoundError("preferences not set")
	}
	out := prefs.Normalize()
	return &out, nil
}

// SavePreferences 驗證並保存正規化後的偏好
func (s *Store) SavePreferences(_ context.Context, userID string, prefs recipe.PreferenceSet) error {
	if strings.TrimSpace(userID) == "" {
		return common.NewInvalidInputError("user id is required", nil)
	}
	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.preferences[userID] = prefs
	s.mu.Unlock()
	return nil
}

// Ping 記憶體儲存永遠可用
func (s *Store) Ping(context.Context) error { return nil }

// Close 無資源需要釋放
func (s *Store) Close() error { return nil }

func cloneSnapshot(s recipe.RecipeSnapshot) recipe.RecipeSnapshot {
	out := s
	out.Ingredients = append([]recipe.Ingredient(nil), s.Ingredients...)
	out.Steps = append([]recipe.Step(nil), s.Steps...)
	return out
}
