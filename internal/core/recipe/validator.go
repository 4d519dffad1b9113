package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"recipe-modifier/internal/pkg/common"

	"go.uber.org/zap"
)

// wireResponse 模型回應的原始結構；指標欄位用於區分「缺少」與「零值」
type wireResponse struct {
	Title              *string           `json:"title"`
	Ingredients        *[]wireIngredient `json:"ingredients"`
	Steps              *[]wireStep       `json:"steps"`
	NutritionalValues  *wireNutrition    `json:"nutritionalValues"`
	ChangesDescription *string           `json:"changesDescription"`
}

type wireIngredient struct {
	Name               string      `json:"name"`
	Quantity           *flexNumber `json:"quantity"`
	Unit               string      `json:"unit"`
	IsModified         *bool       `json:"isModified"`
	SubstitutionReason *string     `json:"substitutionReason"`
}

type wireStep struct {
	Number             *flexNumber `json:"number"`
	Description        string      `json:"description"`
	IsModified         *bool       `json:"isModified"`
	ModificationReason *string     `json:"modificationReason"`
}

type wireNutrition struct {
	TotalCarbs     *flexNumber `json:"totalCarbs"`
	CarbsReduction *flexNumber `json:"carbsReduction"`
}

// flexNumber 接受 JSON 數字或可解析為數字的字串
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", string(data))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid number %q", string(data))
	}
	*n = flexNumber(f)
	return nil
}

// maxStepNumber 步驟編號上限
const maxStepNumber = 1000

// Validator 將模型輸出解析為 RecipeDelta
type Validator struct {
	// ClampNegativeReduction 為 true 時碳水增加會記為 0
	ClampNegativeReduction bool
}

// NewValidator 創建回應驗證器
func NewValidator() *Validator {
	return &Validator{}
}

// Parse 解析模型輸出；任何結構錯誤都回傳 ProcessingError
func (v *Validator) Parse(raw string, original RecipeSnapshot) (*RecipeDelta, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, common.NewProcessingError("empty AI response", nil)
	}

	wire, err := decodeWire(content)
	if err != nil {
		common.LogWarn("AI 回應解析失敗",
			zap.Int("ai_response_length", len(content)),
			zap.String("ai_response_preview", common.Truncate(content, 200)),
			zap.Error(err),
		)
		return nil, common.NewProcessingError("AI response is not valid JSON", err)
	}

	delta, err := v.build(wire, original)
	if err != nil {
		return nil, common.NewProcessingError("AI response failed validation", err)
	}
	return delta, nil
}

// decodeWire 先嘗試整段嚴格解析，失敗後才從文字中擷取第一個 JSON 物件
func decodeWire(content string) (*wireResponse, error) {
	var wire wireResponse
	strictErr := common.ParseJSON(content, &wire)
	if strictErr == nil {
		return &wire, nil
	}

	block, err := common.ExtractJSONObject(content)
	if err != nil {
		return nil, fmt.Errorf("%v; fallback extraction: %w", strictErr, err)
	}
	wire = wireResponse{}
	if err := common.ParseJSON(block, &wire); err != nil {
		return nil, fmt.Errorf("extracted block: %w", err)
	}
	return &wire, nil
}

func (v *Validator) build(w *wireResponse, original RecipeSnapshot) (*RecipeDelta, error) {
	if w.Title == nil || strings.TrimSpace(*w.Title) == "" {
		return nil, fmt.Errorf("missing title")
	}
	if w.Ingredients == nil {
		return nil, fmt.Errorf("missing ingredients")
	}
	if len(*w.Ingredients) == 0 {
		return nil, fmt.Errorf("ingredients must not be empty")
	}
	if w.Steps == nil {
		return nil, fmt.Errorf("missing steps")
	}
	if len(*w.Steps) == 0 {
		return nil, fmt.Errorf("steps must not be empty")
	}
	if w.NutritionalValues == nil || w.NutritionalValues.TotalCarbs == nil {
		return nil, fmt.Errorf("missing nutritionalValues.totalCarbs")
	}
	newCarbs := float64(*w.NutritionalValues.TotalCarbs)
	if newCarbs < 0 {
		return nil, fmt.Errorf("nutritionalValues.totalCarbs must not be negative")
	}

	delta := &RecipeDelta{
		Title:       strings.TrimSpace(*w.Title),
		Ingredients: make([]ModifiedIngredient, 0, len(*w.Ingredients)),
		Steps:       make([]ModifiedStep, 0, len(*w.Steps)),
	}

	for i, ing := range *w.Ingredients {
		name := strings.TrimSpace(ing.Name)
		if name == "" {
			return nil, fmt.Errorf("ingredient %d: missing name", i+1)
		}
		out := ModifiedIngredient{
			Name: name,
			Unit: strings.TrimSpace(ing.Unit),
		}
		if ing.Quantity != nil {
			out.Quantity = float64(*ing.Quantity)
		}
		if ing.IsModified != nil {
			out.IsModified = *ing.IsModified
		}
		if ing.SubstitutionReason != nil {
			out.SubstitutionReason = strings.TrimSpace(*ing.SubstitutionReason)
		}
		delta.Ingredients = append(delta.Ingredients, out)
	}

	for i, st := range *w.Steps {
		desc := strings.TrimSpace(st.Description)
		if desc == "" {
			return nil, fmt.Errorf("step %d: missing description", i+1)
		}
		out := ModifiedStep{
			Number:      i + 1,
			Description: desc,
		}
		if st.Number != nil && *st.Number > 0 {
			n := float64(*st.Number)
			if n != math.Trunc(n) || n > maxStepNumber {
				return nil, fmt.Errorf("step %d: invalid number %v", i+1, n)
			}
			out.Number = int(n)
		}
		if st.IsModified != nil {
			out.IsModified = *st.IsModified
		}
		if st.ModificationReason != nil {
			out.ModificationReason = strings.TrimSpace(*st.ModificationReason)
		}
		delta.Steps = append(delta.Steps, out)
	}

	if w.ChangesDescription != nil {
		delta.ChangesDescription = strings.TrimSpace(*w.ChangesDescription)
	}

	reduction := CarbsReductionPercent(original.TotalCarbs, newCarbs)
	if v.ClampNegativeReduction && reduction < 0 {
		reduction = 0
	}
	delta.Nutrition = NutritionalSummary{
		OriginalCarbs:         original.TotalCarbs,
		TotalCarbs:            newCarbs,
		CarbsReductionPercent: reduction,
	}
	if w.NutritionalValues.CarbsReduction != nil {
		reported := float64(*w.NutritionalValues.CarbsReduction)
		delta.Nutrition.ReportedReduction = &reported
	}

	return delta, nil
}

// CarbsReductionPercent 計算碳水減少百分比；原始值為 0 時回傳 0，碳水增加時為負值
func CarbsReductionPercent(originalCarbs, newCarbs float64) int {
	if originalCarbs <= 0 {
		return 0
	}
	return int(math.Round((originalCarbs - newCarbs) / originalCarbs * 100))
}
