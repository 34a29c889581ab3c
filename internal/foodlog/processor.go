package foodlog

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/fitbit"
	"github.com/pysugar/food-log-nexus/internal/logging"
)

const unknownFoodName = "Unknown Food"

// Processor runs the create-then-log sequence for a single item.
type Processor struct {
	api fitbit.API
}

func NewProcessor(api fitbit.API) *Processor {
	return &Processor{api: api}
}

// Validate checks the fields an item needs before any remote call.
func Validate(item FoodItem) error {
	if item.FoodName == "" || item.Amount <= 0 || item.Unit == "" {
		name := item.FoodName
		if name == "" {
			name = unknownFoodName
		}
		return apperr.Validation("Missing required field for food log: %s.", name)
	}
	if item.Calories != nil && *item.Calories < 0 {
		return apperr.Validation("Invalid nutrient value for food log: %s (calories).", item.FoodName)
	}
	for field, v := range item.Nutrients {
		if v < 0 {
			return apperr.Validation("Invalid nutrient value for food log: %s (%s).", item.FoodName, field)
		}
	}
	return nil
}

// Process creates a custom food for item and logs it under meta.
func (p *Processor) Process(ctx context.Context, accessToken, userID string, item FoodItem, meta Meta) (*Outcome, error) {
	if err := Validate(item); err != nil {
		return nil, err
	}

	unitID := fitbit.ResolveUnit(ctx, item.Unit)
	food, err := p.api.CreateFood(ctx, accessToken, userID, buildCreateRequest(item, unitID))
	if err != nil {
		return nil, upstreamError(err, "Failed to create food \"%s\": %s", item.FoodName)
	}
	logging.Printf(ctx, "✅ Successfully created food: %s (Food ID: %d)", item.FoodName, food.FoodID)

	entry, err := p.api.LogFood(ctx, accessToken, userID, fitbit.LogFoodRequest{
		FoodID:     food.FoodID,
		MealTypeID: meta.MealTypeID,
		UnitID:     unitID,
		Amount:     item.Amount,
		Date:       meta.Date,
		Time:       meta.Time,
	})
	if err != nil {
		return nil, upstreamError(err, "Failed to log food \"%s\": %s", item.FoodName)
	}
	logging.Printf(ctx, "✅ Successfully logged food: %s for user %s", item.FoodName, userID)

	return &Outcome{FoodName: item.FoodName, FoodID: food.FoodID, FoodLog: entry}, nil
}

func buildCreateRequest(item FoodItem, unitID int) fitbit.CreateFoodRequest {
	req := fitbit.CreateFoodRequest{
		Name:               item.FoodName,
		UnitID:             unitID,
		DefaultServingSize: item.Amount,
		FormType:           item.FormType,
		Description:        item.Description,
	}
	if item.Calories != nil {
		req.Calories = int64(math.Round(*item.Calories))
	}
	if req.FormType == "" {
		req.FormType = fitbit.DefaultFormType
	}
	if req.Description == "" {
		req.Description = "Logged via Gemini: " + item.FoodName
	}
	for _, n := range fitbit.Nutrients {
		if v, ok := item.Nutrients[n.Field]; ok {
			req.Nutrients = append(req.Nutrients, fitbit.NutrientValue{Param: n.Param, Value: v})
		}
	}
	return req
}

// upstreamError tags a Fitbit call failure. format takes the food name and the
// remote message, in that order.
func upstreamError(err error, format, foodName string) error {
	msg := fitbit.ErrorMessage(err)
	switch {
	case msg != "":
	case errors.Is(err, fitbit.ErrMalformedResponse):
		msg = fitbit.ErrMalformedResponse.Error()
	default:
		msg = "Unknown error"
	}
	e := apperr.UpstreamAPI(format, foodName, msg).Wrap(err)
	var apiErr *fitbit.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		e = e.WithStatus(http.StatusTooManyRequests)
		if apiErr.RetryAfter > 0 {
			e = e.WithDetails(map[string]int64{"retryAfterSeconds": int64(apiErr.RetryAfter.Seconds())})
		}
	case errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err):
		e = e.WithStatus(http.StatusGatewayTimeout)
	}
	return e
}

func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
