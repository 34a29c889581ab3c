package foodlog

import (
	"context"

	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/fitbit"
	"github.com/pysugar/food-log-nexus/internal/logging"
	"github.com/pysugar/food-log-nexus/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds in-flight items per submission.
const DefaultMaxConcurrency = 8

// AllFailedMessage is reported when every item failed without a captured cause.
const AllFailedMessage = "all food items failed to log"

// ItemProcessor handles one item end to end.
type ItemProcessor interface {
	Process(ctx context.Context, accessToken, userID string, item FoodItem, meta Meta) (*Outcome, error)
}

// Orchestrator fans a submission out to the item processor and settles all
// items before reporting.
type Orchestrator struct {
	processor      ItemProcessor
	maxConcurrency int
}

// NewOrchestrator creates an orchestrator. maxConcurrency <= 0 selects the default.
func NewOrchestrator(processor ItemProcessor, maxConcurrency int) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Orchestrator{processor: processor, maxConcurrency: maxConcurrency}
}

// LogMeal processes every item of req concurrently. One item failing never
// cancels another. It fails only when no item succeeded.
func (o *Orchestrator) LogMeal(ctx context.Context, accessToken, userID string, req LogRequest) (*Result, error) {
	mealTypeID, known := fitbit.MealTypeID(req.MealType)
	if !known {
		logging.Printf(ctx, "⚠️ Unknown meal type %q. Defaulting to 'Anytime'(%d).", req.MealType, mealTypeID)
	}

	if len(req.Foods) == 0 {
		return nil, apperr.Validation(`Invalid input: "foods" array is missing or empty.`)
	}

	meta := Meta{Date: req.LogDate, Time: req.LogTime, MealTypeID: mealTypeID}

	outcomes := make([]*Outcome, len(req.Foods))
	errs := make([]error, len(req.Foods))

	g := new(errgroup.Group)
	g.SetLimit(o.maxConcurrency)
	for i, item := range req.Foods {
		g.Go(func() error {
			outcomes[i], errs[i] = o.processor.Process(ctx, accessToken, userID, item, meta)
			return nil
		})
	}
	_ = g.Wait()

	// Results are reported in submission order regardless of completion order.
	var result Result
	for i, item := range req.Foods {
		err := errs[i]
		if err == nil && outcomes[i] == nil {
			err = apperr.UpstreamAPI("Failed to log food \"%s\": %s", item.FoodName, "Unknown error")
		}
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{Index: i, FoodName: item.FoodName, Err: err})
			if apperr.Is(err, apperr.KindValidation) {
				metrics.ItemOutcomes.WithLabelValues("invalid").Inc()
			} else {
				metrics.ItemOutcomes.WithLabelValues("failed").Inc()
			}
			logging.Printf(ctx, "❌ Food item %d (%s) failed: %v", i, item.FoodName, err)
			continue
		}
		result.Successes = append(result.Successes, *outcomes[i])
		metrics.ItemOutcomes.WithLabelValues("logged").Inc()
	}

	if len(result.Successes) == 0 {
		if len(result.Failures) > 0 {
			return &result, result.Failures[0].Err
		}
		return &result, apperr.UpstreamAPI(AllFailedMessage)
	}

	logging.Printf(ctx, "✅ Logged %d/%d food items (meal type %d)", len(result.Successes), len(req.Foods), mealTypeID)
	return &result, nil
}
