package fitbit

// Meal type ids accepted by the log-food endpoint.
const (
	MealBreakfast      = 1
	MealMorningSnack   = 2
	MealLunch          = 3
	MealAfternoonSnack = 4
	MealDinner         = 5
	MealAnytime        = 7
)

var mealTypeIDs = map[string]int{
	"Breakfast":       MealBreakfast,
	"Morning Snack":   MealMorningSnack,
	"Lunch":           MealLunch,
	"Afternoon Snack": MealAfternoonSnack,
	"Dinner":          MealDinner,
	"Anytime":         MealAnytime,
}

// MealTypeID resolves a meal label. ok is false when the label is absent or
// unknown, in which case MealAnytime is returned.
func MealTypeID(label string) (id int, ok bool) {
	if id, ok := mealTypeIDs[label]; ok {
		return id, true
	}
	return MealAnytime, false
}
