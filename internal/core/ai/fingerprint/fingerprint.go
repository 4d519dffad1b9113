package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// Version 正規化格式版本；欄位順序或編碼方式變動時必須調整
const Version = "v1"

// Fingerprint 64 字元的 SHA-256 十六進位摘要
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Short 日誌用的短格式
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Build 由食譜 ID 與偏好產生快取鍵；集合欄位先正規化再排序，與輸入順序無關
func Build(recipeID string, prefs recipe.PreferenceSet) (Fingerprint, error) {
	canonical, err := Canonical(recipeID, prefs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

// Canonical 回傳雜湊前的正規化位元組：
// ["v1", recipeId, dietType, maxCarbsGrams, [excludedProducts...], [allergens...]]
func Canonical(recipeID string, prefs recipe.PreferenceSet) ([]byte, error) {
	id := strings.TrimSpace(recipeID)
	if id == "" {
		return nil, common.NewInvalidInputError("recipe id is required", nil)
	}
	norm := prefs.Normalize()
	if err := norm.Validate(); err != nil {
		return nil, err
	}

	allergens := make([]string, len(norm.Allergens))
	for i, a := range norm.Allergens {
		allergens[i] = string(a)
	}

	// maxCarbsGrams 以最短十進位表示，json.Number 避免再經過 float 編碼
	fields := []interface{}{
		Version,
		id,
		string(norm.DietType),
		json.Number(strconv.FormatFloat(norm.MaxCarbsGrams, 'f', -1, 64)),
		norm.ExcludedProducts,
		allergens,
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fingerprint fields: %w", err)
	}
	return out, nil
}
