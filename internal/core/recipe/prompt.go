package recipe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"
)

// PromptVersion 提示詞模板版本，模板變動時需同步調整以免沿用舊快取
const PromptVersion = "v1"

const systemInstruction = `You are a professional chef and nutritionist. You adapt existing recipes to personal dietary constraints.

Respond with ONLY one JSON object, no markdown and no explanation, using exactly these fields:
{
  "title": "modified recipe title",
  "ingredients": [
    {"name": "ingredient", "quantity": 100, "unit": "g", "isModified": true, "substitutionReason": "why it was replaced"}
  ],
  "steps": [
    {"number": 1, "description": "step text", "isModified": false, "modificationReason": ""}
  ],
  "nutritionalValues": {"totalCarbs": 12.5, "carbsReduction": 40},
  "changesDescription": "short summary of the changes"
}

Rules:
1. Keep the dish recognisable; change only what the constraints require.
2. Never use an excluded product or an ingredient containing a listed allergen.
3. Keep total carbohydrates at or below the requested maximum when it is greater than zero.
4. quantity must be a number; totalCarbs is the total grams of carbohydrates of the modified recipe.
5. Set isModified to true for every ingredient or step you changed and explain why.`

// PromptPayload 放在 user 訊息中的結構化資料
type PromptPayload struct {
	Recipe      PromptRecipe  `json:"recipe"`
	Preferences PreferenceSet `json:"preferences"`
}

// PromptRecipe 提示詞中的食譜內容
type PromptRecipe struct {
	Title       string       `json:"title"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []Step       `json:"steps"`
	TotalCarbs  float64      `json:"totalCarbs"`
}

// BuildPrompt 依食譜與偏好建立模型請求內容
func BuildPrompt(snapshot RecipeSnapshot, prefs PreferenceSet) (provider.Prompt, error) {
	prefs = prefs.Normalize()
	payload := PromptPayload{
		Recipe: PromptRecipe{
			Title:       snapshot.Title,
			Ingredients: snapshot.Ingredients,
			Steps:       snapshot.Steps,
			TotalCarbs:  snapshot.TotalCarbs,
		},
		Preferences: prefs,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return provider.Prompt{}, fmt.Errorf("failed to marshal prompt payload: %w", err)
	}

	maxCarbs := "no limit"
	if prefs.MaxCarbsGrams > 0 {
		maxCarbs = strconv.FormatFloat(prefs.MaxCarbsGrams, 'f', -1, 64) + " g"
	}
	allergenNames := make([]string, len(prefs.Allergens))
	for i, a := range prefs.Allergens {
		allergenNames[i] = string(a)
	}

	user := fmt.Sprintf(`Modify the recipe below to satisfy these dietary preferences.
Diet type: %s
Maximum carbohydrates: %s
Excluded products: %s
Allergens to avoid: %s

Recipe data:
%s`,
		prefs.DietType,
		maxCarbs,
		listOrNone(prefs.ExcludedProducts),
		listOrNone(allergenNames),
		string(data),
	)

	return provider.Prompt{System: systemInstruction, User: user}, nil
}

// DecodePromptPayload 從 user 訊息取回結構化資料
func DecodePromptPayload(user string) (*PromptPayload, error) {
	block, err := common.ExtractJSONObject(user)
	if err != nil {
		return nil, err
	}
	var payload PromptPayload
	if err := common.ParseJSON(block, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode prompt payload: %w", err)
	}
	return &payload, nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
