// Package foodlog turns a meal submission into Fitbit custom foods and food
// log entries, one create+log pair per item.
package foodlog

import (
	"encoding/json"
	"fmt"

	"github.com/pysugar/food-log-nexus/internal/fitbit"
)

// FoodItem is one food in a meal submission. Extended nutrients are keyed by
// their suffixed item field name (e.g. "protein_g").
type FoodItem struct {
	FoodName    string             `json:"foodName"`
	Amount      float64            `json:"amount"`
	Unit        string             `json:"unit"`
	Calories    *float64           `json:"calories,omitempty"`
	FormType    string             `json:"formType,omitempty"`
	Description string             `json:"description,omitempty"`
	Nutrients   map[string]float64 `json:"-"`
}

type foodItemFields FoodItem

func (f *FoodItem) UnmarshalJSON(data []byte) error {
	var base foodItemFields
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, val := range raw {
		if !fitbit.IsNutrientField(key) || string(val) == "null" {
			continue
		}
		var v float64
		if err := json.Unmarshal(val, &v); err != nil {
			return fmt.Errorf("nutrient %s: %w", key, err)
		}
		if base.Nutrients == nil {
			base.Nutrients = make(map[string]float64)
		}
		base.Nutrients[key] = v
	}

	*f = FoodItem(base)
	return nil
}

func (f FoodItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 6+len(f.Nutrients))
	out["foodName"] = f.FoodName
	out["amount"] = f.Amount
	out["unit"] = f.Unit
	if f.Calories != nil {
		out["calories"] = *f.Calories
	}
	if f.FormType != "" {
		out["formType"] = f.FormType
	}
	if f.Description != "" {
		out["description"] = f.Description
	}
	for k, v := range f.Nutrients {
		out[k] = v
	}
	return json.Marshal(out)
}

// LogRequest is a whole meal submission.
type LogRequest struct {
	MealType string     `json:"meal_type"`
	LogDate  string     `json:"log_date"`
	LogTime  string     `json:"log_time"`
	Foods    []FoodItem `json:"foods"`
	UserID   string     `json:"userId,omitempty"`
}

// Meta is the metadata shared by every item of one submission.
type Meta struct {
	Date       string
	Time       string
	MealTypeID int
}

// Outcome is the result of a successful create+log pair.
type Outcome struct {
	FoodName string          `json:"foodName"`
	FoodID   int64           `json:"foodId"`
	FoodLog  *fitbit.FoodLog `json:"foodLog"`
}

// ItemFailure records why one item could not be logged.
type ItemFailure struct {
	Index    int
	FoodName string
	Err      error
}

// Result partitions the settled items of a submission.
type Result struct {
	Successes []Outcome
	Failures  []ItemFailure
}
