package record

import "strings"

// DefaultCO2PerKg is the emission factor (kg CO2e per kg of food) used when
// no category matches.
const DefaultCO2PerKg = 2.5

type categoryFactor struct {
	keywords []string
	kgPerKg  float64
}

// Rough lifecycle emission factors per kg of food, most specific first.
var categoryFactors = []categoryFactor{
	{[]string{"beef", "steak", "veal"}, 60},
	{[]string{"lamb", "mutton"}, 24},
	{[]string{"cheese"}, 21},
	{[]string{"pork", "bacon", "ham", "sausage"}, 7},
	{[]string{"chicken", "poultry", "turkey"}, 6},
	{[]string{"fish", "salmon", "tuna", "seafood", "shrimp", "prawn"}, 5},
	{[]string{"egg"}, 4.5},
	{[]string{"rice"}, 4},
	{[]string{"milk", "dairy", "yogurt", "yoghurt", "butter", "cream"}, 3},
	{[]string{"bread", "pasta", "grain", "cereal", "flour", "oat", "noodle"}, 1.4},
	{[]string{"fruit", "apple", "banana", "orange", "berry", "grape", "lemon"}, 0.9},
	{[]string{"vegetable", "veg", "produce", "tomato", "potato", "carrot", "lettuce", "onion", "spinach"}, 0.7},
}

var unitToKg = map[string]float64{
	"mg": 1e-6, "g": 0.001, "gram": 0.001, "grams": 0.001,
	"kg": 1, "kilo": 1, "kilogram": 1, "kilograms": 1,
	"lb": 0.45359237, "lbs": 0.45359237, "pound": 0.45359237, "pounds": 0.45359237,
	"oz": 0.028349523, "ounce": 0.028349523, "ounces": 0.028349523,
	"ml": 0.001, "l": 1, "liter": 1, "litre": 1, "liters": 1, "litres": 1,
}

// CO2Estimator derives a per-unit emission figure for rows that do not
// carry one.
type CO2Estimator struct {
	DefaultPerKg float64
}

// FactorFor returns the kg CO2e per kg factor for a category or food name.
func (e CO2Estimator) FactorFor(foodType, foodName string) float64 {
	for _, s := range []string{foodType, foodName} {
		s = strings.ToLower(s)
		if s == "" {
			continue
		}
		for _, c := range categoryFactors {
			for _, k := range c.keywords {
				if strings.Contains(s, k) {
					return c.kgPerKg
				}
			}
		}
	}
	if e.DefaultPerKg > 0 {
		return e.DefaultPerKg
	}
	return DefaultCO2PerKg
}

// PerUnit estimates kg CO2e for one unit of the item. The per-unit weight is
// converted to kg; a bare number is taken as grams. Without a weight the
// factor is applied per unit.
func (e CO2Estimator) PerUnit(foodType, foodName string, weight float64, weightUnit string) float64 {
	factor := e.FactorFor(foodType, foodName)
	if weight <= 0 {
		return factor
	}
	mult, ok := unitToKg[strings.ToLower(strings.TrimSpace(weightUnit))]
	if !ok {
		mult = 0.001
	}
	return factor * weight * mult
}
