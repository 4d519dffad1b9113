package recipe

import "context"

// Repository 食譜儲存；Get 在食譜不存在或不屬於 ownerID 時回傳 NotFoundError
type Repository interface {
	Get(ctx context.Context, ownerID, recipeID string) (*RecipeSnapshot, error)
	Save(ctx context.Context, snapshot *RecipeSnapshot) error
}

// PreferenceRepository 使用者飲食偏好儲存；尚未設定時回傳 NotFoundError
type PreferenceRepository interface {
	GetPreferences(ctx context.Context, userID string) (*PreferenceSet, error)
	SavePreferences(ctx context.Context, userID string, prefs PreferenceSet) error
}
