package fitbit

// Nutrient maps a food item field to its create-food form parameter.
type Nutrient struct {
	Field string
	Param string
}

// Nutrients lists every extended nutrient in the order it is sent.
// Item fields carry unit suffixes (_g, _mg, ...) that the API parameters drop.
var Nutrients = []Nutrient{
	{Field: "caloriesFromFat", Param: "caloriesFromFat"},
	{Field: "totalFat_g", Param: "totalFat"},
	{Field: "transFat_g", Param: "transFat"},
	{Field: "saturatedFat_g", Param: "saturatedFat"},
	{Field: "cholesterol_mg", Param: "cholesterol"},
	{Field: "sodium_mg", Param: "sodium"},
	{Field: "potassium_mg", Param: "potassium"},
	{Field: "totalCarbohydrate_g", Param: "totalCarbohydrate"},
	{Field: "dietaryFiber_g", Param: "dietaryFiber"},
	{Field: "sugars_g", Param: "sugars"},
	{Field: "protein_g", Param: "protein"},
	{Field: "vitaminA_iu", Param: "vitaminA"},
	{Field: "vitaminB6", Param: "vitaminB6"},
	{Field: "vitaminB12", Param: "vitaminB12"},
	{Field: "vitaminC_mg", Param: "vitaminC"},
	{Field: "vitaminD_iu", Param: "vitaminD"},
	{Field: "vitaminE_iu", Param: "vitaminE"},
	{Field: "biotin_mg", Param: "biotin"},
	{Field: "folicAcid_mg", Param: "folicAcid"},
	{Field: "niacin_mg", Param: "niacin"},
	{Field: "pantothenicAcid_mg", Param: "pantothenicAcid"},
	{Field: "riboflavin_mg", Param: "riboflavin"},
	{Field: "thiamin_mg", Param: "thiamin"},
	{Field: "calcium_g", Param: "calcium"},
	{Field: "copper_g", Param: "copper"},
	{Field: "iron_mg", Param: "iron"},
	{Field: "magnesium_mg", Param: "magnesium"},
	{Field: "phosphorus_g", Param: "phosphorus"},
	{Field: "iodine_mcg", Param: "iodine"},
	{Field: "zinc_mg", Param: "zinc"},
}

var nutrientFields = func() map[string]string {
	m := make(map[string]string, len(Nutrients))
	for _, n := range Nutrients {
		m[n.Field] = n.Param
	}
	return m
}()

// IsNutrientField reports whether field is a known extended nutrient.
func IsNutrientField(field string) bool {
	_, ok := nutrientFields[field]
	return ok
}
