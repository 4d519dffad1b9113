package recipe

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"recipe-modifier/internal/pkg/common"

	"github.com/go-playground/validator/v10"
)

// DietType 飲食類型
type DietType string

const (
	DietStandard      DietType = "standard"
	DietLowCarb       DietType = "low_carb"
	DietKeto          DietType = "keto"
	DietPaleo         DietType = "paleo"
	DietVegetarian    DietType = "vegetarian"
	DietVegan         DietType = "vegan"
	DietMediterranean DietType = "mediterranean"
	DietGlutenFree    DietType = "gluten_free"
	DietDiabetic      DietType = "diabetic"
)

// Allergen 過敏原
type Allergen string

const (
	AllergenGluten    Allergen = "gluten"
	AllergenDairy     Allergen = "dairy"
	AllergenEggs      Allergen = "eggs"
	AllergenNuts      Allergen = "nuts"
	AllergenPeanuts   Allergen = "peanuts"
	AllergenSoy       Allergen = "soy"
	AllergenFish      Allergen = "fish"
	AllergenShellfish Allergen = "shellfish"
	AllergenSesame    Allergen = "sesame"
)

// PreferenceSet 使用者的飲食偏好；集合欄位比較時不計順序
type PreferenceSet struct {
	DietType         DietType   `json:"diet_type" validate:"required,diet_type"`
	MaxCarbsGrams    float64    `json:"max_carbs_grams" validate:"gte=0"`
	ExcludedProducts []string   `json:"excluded_products" validate:"dive,max=100"`
	Allergens        []Allergen `json:"allergens" validate:"dive,allergen"`
}

var (
	dietTypes = map[DietType]struct{}{
		DietStandard: {}, DietLowCarb: {}, DietKeto: {}, DietPaleo: {}, DietVegetarian: {},
		DietVegan: {}, DietMediterranean: {}, DietGlutenFree: {}, DietDiabetic: {},
	}
	allergens = map[Allergen]struct{}{
		AllergenGluten: {}, AllergenDairy: {}, AllergenEggs: {}, AllergenNuts: {}, AllergenPeanuts: {},
		AllergenSoy: {}, AllergenFish: {}, AllergenShellfish: {}, AllergenSesame: {},
	}

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("diet_type", func(fl validator.FieldLevel) bool {
		return IsDietType(fl.Field().String())
	})
	_ = v.RegisterValidation("allergen", func(fl validator.FieldLevel) bool {
		return IsAllergen(fl.Field().String())
	})
	return v
}

// IsDietType 是否為支援的飲食類型
func IsDietType(s string) bool {
	_, ok := dietTypes[DietType(s)]
	return ok
}

// IsAllergen 是否為支援的過敏原
func IsAllergen(s string) bool {
	_, ok := allergens[Allergen(s)]
	return ok
}

// DietTypes 所有飲食類型（排序後）
func DietTypes() []string {
	out := make([]string, 0, len(dietTypes))
	for d := range dietTypes {
		out = append(out, string(d))
	}
	sort.Strings(out)
	return out
}

// Validate 檢查偏好設定，失敗時回傳 InvalidInputError
func (p PreferenceSet) Validate() error {
	if math.IsNaN(p.MaxCarbsGrams) || math.IsInf(p.MaxCarbsGrams, 0) {
		return common.NewInvalidInputError("max_carbs_grams must be a finite number", nil)
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return common.NewInvalidInputError(
				fmt.Sprintf("invalid preference %s: failed %q", fe.Namespace(), fe.Tag()), err)
		}
		return common.NewInvalidInputError("invalid preferences", err)
	}
	return nil
}

// Normalize 回傳正規化後的副本：nil 集合轉為空集合，項目去空白、轉小寫、去重並排序，-0 轉為 0
func (p PreferenceSet) Normalize() PreferenceSet {
	out := PreferenceSet{
		DietType:         DietType(strings.ToLower(strings.TrimSpace(string(p.DietType)))),
		MaxCarbsGrams:    p.MaxCarbsGrams,
		ExcludedProducts: normalizeSet(p.ExcludedProducts),
	}
	// -0 與 0 視為相同
	if out.MaxCarbsGrams == 0 {
		out.MaxCarbsGrams = 0
	}
	raw := make([]string, len(p.Allergens))
	for i, a := range p.Allergens {
		raw[i] = string(a)
	}
	norm := normalizeSet(raw)
	out.Allergens = make([]Allergen, len(norm))
	for i, a := range norm {
		out.Allergens[i] = Allergen(a)
	}
	return out
}

func normalizeSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		v := strings.ToLower(strings.TrimSpace(item))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
