package models

// SubmissionLog records the outcome of one food-log request.
type SubmissionLog struct {
	ID            string `gorm:"primaryKey" json:"id"`
	RequestID     string `json:"request_id,omitempty"`
	Timestamp     int64  `gorm:"index" json:"timestamp"`
	LocalIdentity string `gorm:"index" json:"local_identity"`
	MealType      string `json:"meal_type"`
	LogDate       string `json:"log_date"`
	ItemsTotal    int    `json:"items_total"`
	ItemsLogged   int    `json:"items_logged"`
	ItemsFailed   int    `json:"items_failed"`
	Status        int    `json:"status"`
	Duration      int64  `json:"duration"` // milliseconds
	Error         string `json:"error,omitempty"`
}

// SubmissionStats holds aggregated counters for submission logs
type SubmissionStats struct {
	TotalSubmissions int64 `json:"total_submissions"`
	SuccessCount     int64 `json:"success_count"`
	ErrorCount       int64 `json:"error_count"`
}
