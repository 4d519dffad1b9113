package recipe

import "time"

// Ingredient 原始食譜的食材
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// Step 原始食譜的步驟
type Step struct {
	Number      int    `json:"number"`
	Description string `json:"description"`
}

// RecipeSnapshot 模型所需的食譜唯讀投影，由呼叫端提供，核心流程不會修改或保存
type RecipeSnapshot struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Title       string       `json:"title"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []Step       `json:"steps"`
	TotalCarbs  float64      `json:"total_carbs"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ModifiedIngredient 修改後的食材
type ModifiedIngredient struct {
	Name               string  `json:"name"`
	Quantity           float64 `json:"quantity"`
	Unit               string  `json:"unit"`
	IsModified         bool    `json:"is_modified"`
	SubstitutionReason string  `json:"substitution_reason,omitempty"`
}

// ModifiedStep 修改後的步驟
type ModifiedStep struct {
	Number             int    `json:"number"`
	Description        string `json:"description"`
	IsModified         bool   `json:"is_modified"`
	ModificationReason string `json:"modification_reason,omitempty"`
}

// NutritionalSummary 營養摘要；CarbsReductionPercent 由原始與新碳水計算，可能為負值
type NutritionalSummary struct {
	OriginalCarbs         float64  `json:"original_carbs"`
	TotalCarbs            float64  `json:"total_carbs"`
	CarbsReductionPercent int      `json:"carbs_reduction_percent"`
	ReportedReduction     *float64 `json:"reported_reduction,omitempty"`
}

// RecipeDelta 模型產生的食譜修改結果，建構後不再變動
type RecipeDelta struct {
	Title              string               `json:"title"`
	Ingredients        []ModifiedIngredient `json:"ingredients"`
	Steps              []ModifiedStep       `json:"steps"`
	Nutrition          NutritionalSummary   `json:"nutritional_summary"`
	ChangesDescription string               `json:"changes_description"`
}

// ModifiedIngredientCount 被標記為修改的食材數
func (d *RecipeDelta) ModifiedIngredientCount() int {
	n := 0
	for _, ing := range d.Ingredients {
		if ing.IsModified {
			n++
		}
	}
	return n
}

// ModifiedStepCount 被標記為修改的步驟數
func (d *RecipeDelta) ModifiedStepCount() int {
	n := 0
	for _, st := range d.Steps {
		if st.IsModified {
			n++
		}
	}
	return n
}
