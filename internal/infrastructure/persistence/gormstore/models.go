package gormstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"recipe-modifier/internal/core/recipe"
)

// RecipeModel 食譜資料表
type RecipeModel struct {
	ID          string         `gorm:"type:varchar(64);primaryKey"`
	OwnerID     string         `gorm:"type:varchar(64);not null;index"`
	Title       string         `gorm:"type:varchar(255);not null"`
	Ingredients IngredientList `gorm:"type:json"`
	Steps       StepList       `gorm:"type:json"`
	TotalCarbs  float64        `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 資料表名稱
func (RecipeModel) TableName() string { return "recipes" }

// PreferenceModel 使用者飲食偏好資料表
type PreferenceModel struct {
	UserID           string      `gorm:"type:varchar(64);primaryKey"`
	DietType         string      `gorm:"type:varchar(32);not null"`
	MaxCarbsGrams    float64     `gorm:"not null;default:0"`
	ExcludedProducts StringSlice `gorm:"type:json"`
	Allergens        StringSlice `gorm:"type:json"`
	UpdatedAt        time.Time
}

// TableName 資料表名稱
func (PreferenceModel) TableName() string { return "dietary_preferences" }

// IngredientList 以 JSON 欄位保存的食材
type IngredientList []recipe.Ingredient

// Scan implements the sql.Scanner interface
func (l *IngredientList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// Value implements the driver.Valuer interface
func (l IngredientList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalJSON(l)
}

// StepList 以 JSON 欄位保存的步驟
type StepList []recipe.Step

// Scan implements the sql.Scanner interface
func (l *StepList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// Value implements the driver.Valuer interface
func (l StepList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalJSON(l)
}

// StringSlice 以 JSON 欄位保存的字串集合
type StringSlice []string

// Scan implements the sql.Scanner interface
func (s *StringSlice) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Value implements the driver.Valuer interface
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return marshalJSON(s)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dst)
	}
}

func marshalJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func toModel(s *recipe.RecipeSnapshot) *RecipeModel {
	return &RecipeModel{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		Title:       s.Title,
		Ingredients: IngredientList(s.Ingredients),
		Steps:       StepList(s.Steps),
		TotalCarbs:  s.TotalCarbs,
		UpdatedAt:   s.UpdatedAt,
	}
}

func toSnapshot(m *RecipeModel) *recipe.RecipeSnapshot {
	return &recipe.RecipeSnapshot{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Title:       m.Title,
		Ingredients: []recipe.Ingredient(m.Ingredients),
		Steps:       []recipe.Step(m.Steps),
		TotalCarbs:  m.TotalCarbs,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toPreferenceModel(userID string, p recipe.PreferenceSet) *PreferenceModel {
	allergens := make(StringSlice, len(p.Allergens))
	for i, a := range p.Allergens {
		allergens[i] = string(a)
	}
	return &PreferenceModel{
		UserID:           userID,
		DietType:         string(p.DietType),
		MaxCarbsGrams:    p.MaxCarbsGrams,
		ExcludedProducts: StringSlice(p.ExcludedProducts),
		Allergens:        allergens,
	}
}

func toPreferenceSet(m *PreferenceModel) recipe.PreferenceSet {
	allergens := make([]recipe.Allergen, len(m.Allergens))
	for i, a := range m.Allergens {
		allergens[i] = recipe.Allergen(a)
	}
	return recipe.PreferenceSet{
		DietType:         recipe.DietType(m.DietType),
		MaxCarbsGrams:    m.MaxCarbsGrams,
		ExcludedProducts: []string(m.ExcludedProducts),
		Allergens:        allergens,
	}
}
