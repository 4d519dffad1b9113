package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// substitution 離線替換規則
type substitution struct {
	match       string
	replacement string
	reason      string
	allergen    recipe.Allergen
	lowersCarbs bool
}

var substitutions = []substitution{
	{match: "flour", replacement: "almond flour", reason: "lower in carbohydrates than wheat flour", allergen: recipe.AllergenGluten, lowersCarbs: true},
	{match: "sugar", replacement: "erythritol", reason: "sweetens without adding carbohydrates", lowersCarbs: true},
	{match: "rice", replacement: "cauliflower rice", reason: "keeps the texture with far fewer carbohydrates", lowersCarbs: true},
	{match: "pasta", replacement: "zucchini noodles", reason: "vegetable noodles instead of wheat pasta", allergen: recipe.AllergenGluten, lowersCarbs: true},
	{match: "spaghetti", replacement: "zucchini noodles", reason: "vegetable noodles instead of wheat pasta", allergen: recipe.AllergenGluten, lowersCarbs: true},
	{match: "potato", replacement: "turnip", reason: "root vegetable with fewer carbohydrates", lowersCarbs: true},
	{match: "bread", replacement: "lettuce wraps", reason: "avoids bread", allergen: recipe.AllergenGluten, lowersCarbs: true},
	{match: "milk", replacement: "unsweetened almond milk", reason: "dairy-free alternative", allergen: recipe.AllergenDairy},
	{match: "butter", replacement: "olive oil", reason: "dairy-free fat", allergen: recipe.AllergenDairy},
	{match: "cheese", replacement: "nutritional yeast", reason: "dairy-free alternative", allergen: recipe.AllergenDairy},
	{match: "egg", replacement: "flax egg", reason: "egg-free binder", allergen: recipe.AllergenEggs},
	{match: "soy sauce", replacement: "coconut aminos", reason: "soy-free seasoning", allergen: recipe.AllergenSoy},
	{match: "peanut", replacement: "sunflower seeds", reason: "peanut-free alternative", allergen: recipe.AllergenPeanuts},
	{match: "almond", replacement: "pumpkin seeds", reason: "nut-free alternative", allergen: recipe.AllergenNuts},
	{match: "shrimp", replacement: "chicken", reason: "shellfish-free protein", allergen: recipe.AllergenShellfish},
	{match: "salmon", replacement: "tofu", reason: "fish-free protein", allergen: recipe.AllergenFish},
	{match: "sesame", replacement: "sunflower oil", reason: "sesame-free alternative", allergen: recipe.AllergenSesame},
}

var lowCarbDiets = map[recipe.DietType]bool{
	recipe.DietLowCarb:  true,
	recipe.DietKeto:     true,
	recipe.DietDiabetic: true,
	recipe.DietPaleo:    true,
}

// Provider 本地開發用的離線提供者，依提示詞中的結構化資料產生可預期的修改結果
type Provider struct {
	latency time.Duration
}

// New 創建離線提供者；latency 模擬網路延遲
func New(latency time.Duration) *Provider {
	return &Provider{latency: latency}
}

// Name 提供者名稱
func (p *Provider) Name() string { return "simulated" }

// Close 無資源需要釋放
func (p *Provider) Close() error { return nil }

// Generate 解析 user 訊息中的食譜與偏好，回傳符合模型輸出格式的 JSON
func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, provider.TransportError(p.Name(), ctx.Err())
		case <-timer.C:
		}
	}

	payload, err := recipe.DecodePromptPayload(req.Prompt().User)
	if err != nil {
		return nil, common.NewKindError(common.KindModel, "simulated provider could not read the prompt", err)
	}

	out, err := json.Marshal(modify(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal simulated response: %w", err)
	}
	return &provider.Response{
		Content:      string(out),
		Model:        "simulated",
		FinishReason: "stop",
	}, nil
}

type outIngredient struct {
	Name               string  `json:"name"`
	Quantity           float64 `json:"quantity"`
	Unit               string  `json:"unit"`
	IsModified         bool    `json:"isModified"`
	SubstitutionReason string  `json:"substitutionReason,omitempty"`
}

type outStep struct {
	Number             int    `json:"number"`
	Description        string `json:"description"`
	IsModified         bool   `json:"isModified"`
	ModificationReason string `json:"modificationReason,omitempty"`
}

type outResponse struct {
	Title       string          `json:"title"`
	Ingredients []outIngredient `json:"ingredients"`
	Steps       []outStep       `json:"steps"`
	Nutrition   struct {
		TotalCarbs     float64 `json:"totalCarbs"`
		CarbsReduction float64 `json:"carbsReduction"`
	} `json:"nutritionalValues"`
	ChangesDescription string `json:"changesDescription"`
}

func modify(payload *recipe.PromptPayload) outResponse {
	prefs := payload.Preferences
	avoid := make(map[recipe.Allergen]bool, len(prefs.Allergens))
	for _, a := range prefs.Allergens {
		avoid[a] = true
	}
	lowCarb := lowCarbDiets[prefs.DietType] || prefs.MaxCarbsGrams > 0

	var out outResponse
	out.Title = payload.Recipe.Title + " (" + strings.ReplaceAll(string(prefs.DietType), "_", " ") + ")"

	replaced := map[string]string{}
	for _, ing := range payload.Recipe.Ingredients {
		o := outIngredient{Name: ing.Name, Quantity: ing.Quantity, Unit: ing.Unit}
		lower := strings.ToLower(ing.Name)
		for _, ex := range prefs.ExcludedProducts {
			if ex != "" && strings.Contains(lower, ex) {
				o.Name = "omit " + ing.Name
				o.Quantity = 0
				o.IsModified = true
				o.SubstitutionReason = "excluded product"
			}
		}
		if !o.IsModified {
			for _, s := range substitutions {
				if !strings.Contains(lower, s.match) {
					continue
				}
				if (s.allergen != "" && avoid[s.allergen]) || (s.lowersCarbs && lowCarb) {
					o.Name = s.replacement
					o.IsModified = true
					o.SubstitutionReason = s.reason
					break
				}
			}
		}
		if o.IsModified {
			replaced[lower] = o.Name
		}
		out.Ingredients = append(out.Ingredients, o)
	}

	for i, st := range payload.Recipe.Steps {
		o := outStep{Number: st.Number, Description: st.Description}
		if o.Number <= 0 {
			o.Number = i + 1
		}
		desc := strings.ToLower(st.Description)
		for from, to := range replaced {
			if strings.Contains(desc, from) {
				o.Description = st.Description + " (use " + to + " instead of " + from + ")"
				o.IsModified = true
				o.ModificationReason = "ingredient substituted"
				break
			}
		}
		out.Steps = append(out.Steps, o)
	}
	if len(out.Steps) == 0 {
		out.Steps = append(out.Steps, outStep{Number: 1, Description: "Combine the ingredients and cook as usual."})
	}
	if len(out.Ingredients) == 0 {
		out.Ingredients = append(out.Ingredients, outIngredient{Name: "water", Quantity: 100, Unit: "ml"})
	}

	original := payload.Recipe.TotalCarbs
	carbs := original
	if lowCarb && len(replaced) > 0 {
		carbs = original * 0.4
	}
	if prefs.MaxCarbsGrams > 0 && carbs > prefs.MaxCarbsGrams {
		carbs = prefs.MaxCarbsGrams
	}
	out.Nutrition.TotalCarbs = math.Round(carbs*10) / 10
	if original > 0 {
		out.Nutrition.CarbsReduction = math.Round((original - out.Nutrition.TotalCarbs) / original * 100)
	}

	if len(replaced) == 0 {
		out.ChangesDescription = "The recipe already fits the requested preferences."
	} else {
		out.ChangesDescription = fmt.Sprintf("Adjusted %d ingredient(s) for a %s diet.", len(replaced), prefs.DietType)
	}
	return out
}
