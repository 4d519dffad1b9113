package recipe

import (
	"math"
	"testing"

	"recipe-modifier/internal/pkg/common"

	"github.com/stretchr/testify/assert"
)

func TestPreferenceSet_Validate(t *testing.T) {
	valid := PreferenceSet{
		DietType:         DietKeto,
		MaxCarbsGrams:    20,
		ExcludedProducts: []string{"sugar"},
		Allergens:        []Allergen{AllergenNuts},
	}
	assert.NoError(t, valid.Validate())

	cases := map[string]PreferenceSet{
		"unknown diet":     {DietType: "carnivore"},
		"missing diet":     {MaxCarbsGrams: 10},
		"negative carbs":   {DietType: DietKeto, MaxCarbsGrams: -1},
		"nan carbs":        {DietType: DietKeto, MaxCarbsGrams: math.NaN()},
		"inf carbs":        {DietType: DietKeto, MaxCarbsGrams: math.Inf(1)},
		"unknown allergen": {DietType: DietKeto, Allergens: []Allergen{"pollen"}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			err := p.Validate()
			assert.Error(t, err)
			assert.Equal(t, common.KindInvalidInput, common.KindOf(err))
		})
	}
}

func TestPreferenceSet_Normalize(t *testing.T) {
	p := PreferenceSet{
		DietType:         " Keto ",
		MaxCarbsGrams:    25,
		ExcludedProducts: []string{"Sugar", " rice", "sugar", ""},
		Allergens:        []Allergen{"Soy", "nuts", "soy"},
	}
	n := p.Normalize()

	assert.Equal(t, DietKeto, n.DietType)
	assert.Equal(t, []string{"rice", "sugar"}, n.ExcludedProducts)
	assert.Equal(t, []Allergen{AllergenNuts, AllergenSoy}, n.Allergens)

	empty := PreferenceSet{DietType: DietVegan}.Normalize()
	assert.NotNil(t, empty.ExcludedProducts)
	assert.NotNil(t, empty.Allergens)
	assert.Empty(t, empty.ExcludedProducts)
}

func TestPreferenceSet_NormalizeNegativeZero(t *testing.T) {
	n := PreferenceSet{DietType: DietKeto, MaxCarbsGrams: math.Copysign(0, -1)}.Normalize()
	assert.False(t, math.Signbit(n.MaxCarbsGrams))
}

func TestDietTypes(t *testing.T) {
	types := DietTypes()
	assert.Len(t, types, 9)
	assert.Contains(t, types, "low_carb")
	assert.True(t, IsDietType("diabetic"))
	assert.False(t, IsAllergen("pollen"))
}
