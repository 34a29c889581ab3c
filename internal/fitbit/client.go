// Package fitbit is a thin client for the Fitbit nutrition endpoints
// (create custom food, log food) plus the lookup tables they need.
package fitbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/food-log-nexus/internal/logging"
	"github.com/pysugar/food-log-nexus/internal/metrics"
	"github.com/pysugar/food-log-nexus/internal/util"
)

const (
	DefaultBaseURL = "https://api.fitbit.com"
	DefaultTimeout = 15 * time.Second

	// DefaultFormType is sent when an item carries no form type.
	DefaultFormType = "DRY"
)

// API is the subset of the Fitbit API the food-log pipeline depends on.
type API interface {
	CreateFood(ctx context.Context, accessToken, userID string, req CreateFoodRequest) (*Food, error)
	LogFood(ctx context.Context, accessToken, userID string, req LogFoodRequest) (*FoodLog, error)
}

// NutrientValue is a translated nutrient ready for the create-food form.
type NutrientValue struct {
	Param string
	Value float64
}

// CreateFoodRequest describes a custom food definition.
type CreateFoodRequest struct {
	Name               string
	UnitID             int
	DefaultServingSize float64
	Calories           int64
	FormType           string
	Description        string
	Nutrients          []NutrientValue
}

// Form encodes the request as the form body the endpoint expects.
func (r CreateFoodRequest) Form() url.Values {
	form := url.Values{}
	form.Set("name", r.Name)
	form.Set("defaultFoodMeasurementUnitId", strconv.Itoa(r.UnitID))
	form.Set("defaultServingSize", formatNumber(r.DefaultServingSize))
	form.Set("calories", strconv.FormatInt(r.Calories, 10))
	form.Set("formType", r.FormType)
	form.Set("description", r.Description)
	for _, n := range r.Nutrients {
		form.Set(n.Param, formatNumber(n.Value))
	}
	return form
}

// LogFoodRequest records an amount of a food against a meal.
type LogFoodRequest struct {
	FoodID     int64
	MealTypeID int
	UnitID     int
	Amount     float64
	Date       string
	Time       string
}

func (r LogFoodRequest) Form() url.Values {
	form := url.Values{}
	form.Set("foodId", strconv.FormatInt(r.FoodID, 10))
	form.Set("mealTypeId", strconv.Itoa(r.MealTypeID))
	form.Set("unitId", strconv.Itoa(r.UnitID))
	form.Set("amount", formatNumber(r.Amount))
	form.Set("date", r.Date)
	if r.Time != "" {
		form.Set("time", r.Time)
	}
	return form
}

// Food is the food object returned by the create-food endpoint.
type Food struct {
	FoodID             int64   `json:"foodId"`
	Name               string  `json:"name"`
	AccessLevel        string  `json:"accessLevel,omitempty"`
	Brand              string  `json:"brand,omitempty"`
	Calories           float64 `json:"calories,omitempty"`
	DefaultServingSize float64 `json:"defaultServingSize,omitempty"`
	Units              []int   `json:"units,omitempty"`
}

// FoodLog is the log entry returned by the log-food endpoint.
type FoodLog struct {
	LogID       int64           `json:"logId"`
	LogDate     string          `json:"logDate,omitempty"`
	LoggedFood  json.RawMessage `json:"loggedFood,omitempty"`
	Nutritional json.RawMessage `json:"nutritionalValues,omitempty"`
}

type createFoodResponse struct {
	Food *Food `json:"food"`
}

type logFoodResponse struct {
	FoodLog *FoodLog `json:"foodLog"`
	// Some API versions answer with "log" instead of "foodLog".
	Log *FoodLog `json:"log"`
}

type errorResponse struct {
	Errors []struct {
		ErrorType string `json:"errorType"`
		FieldName string `json:"fieldName"`
		Message   string `json:"message"`
	} `json:"errors"`
}

// APIError is a non-success answer from the Fitbit API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
	// RetryAfter is set on 429 answers that say when to come back.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fitbit api status %d: %s", e.StatusCode, e.Message)
}

// ErrMalformedResponse is returned when a success response lacks the expected shape.
var ErrMalformedResponse = errors.New("unexpected response shape from Fitbit API")

// Client talks to the Fitbit REST API using per-call bearer tokens.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL and a
// nil httpClient gets DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// CreateFood registers a custom food and returns its definition.
func (c *Client) CreateFood(ctx context.Context, accessToken, userID string, req CreateFoodRequest) (*Food, error) {
	var out createFoodResponse
	if err := c.postForm(ctx, "create_food", accessToken, c.userPath(userID, "foods.json"), req.Form(), &out); err != nil {
		return nil, err
	}
	if out.Food == nil || out.Food.FoodID == 0 {
		return nil, ErrMalformedResponse
	}
	return out.Food, nil
}

// LogFood records a food entry in the user's diary.
func (c *Client) LogFood(ctx context.Context, accessToken, userID string, req LogFoodRequest) (*FoodLog, error) {
	var out logFoodResponse
	if err := c.postForm(ctx, "log_food", accessToken, c.userPath(userID, "foods/log.json"), req.Form(), &out); err != nil {
		return nil, err
	}
	entry := out.FoodLog
	if entry == nil {
		entry = out.Log
	}
	if entry == nil || entry.LogID == 0 {
		return nil, ErrMalformedResponse
	}
	return entry, nil
}

func (c *Client) userPath(userID, resource string) string {
	return fmt.Sprintf("%s/1/user/%s/%s", c.baseURL, url.PathEscape(userID), resource)
}

func (c *Client) postForm(ctx context.Context, endpoint, accessToken, target string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.FitbitLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FitbitRequests.WithLabelValues(endpoint, "transport").Inc()
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FitbitRequests.WithLabelValues(endpoint, "transport").Inc()
		return fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.FitbitRequests.WithLabelValues(endpoint, "error").Inc()
		logging.Printf(ctx, "❌ Fitbit %s failed (status %d): %s", endpoint, resp.StatusCode, util.TruncateBytes(body))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			Body:       string(body),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = RetryDelay(resp.Header, time.Now())
		}
		return apiErr
	}
	metrics.FitbitRequests.WithLabelValues(endpoint, "ok").Inc()

	if err := json.Unmarshal(body, out); err != nil {
		logging.Printf(ctx, "❌ Fitbit %s returned undecodable body: %s", endpoint, util.TruncateBytes(body))
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// errorMessage extracts errors[0].message from a Fitbit error body.
func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && len(e.Errors) > 0 && e.Errors[0].Message != "" {
		return e.Errors[0].Message
	}
	return ""
}

// ErrorMessage returns the remote message carried by err, if any.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
