package types

// ------------------------------
// Response Types
// ------------------------------

// Dashboard is the aggregate view returned by GET /api/dashboard. The server
// owns the shape of Metrics; the client treats it as opaque JSON.
type Dashboard struct {
	Streak      int              `json:"streak"`
	LastMood    string           `json:"lastMood,omitempty"`
	Metrics     []map[string]any `json:"metrics,omitempty"`
	RetrievedAt string           `json:"retrievedAt,omitempty"`
}

// InsightPoint is one sample of the mood trend time series.
type InsightPoint struct {
	Date  string  `json:"date"`
	Score float64 `json:"score"`
	Mood  string  `json:"mood,omitempty"`
}

// Insights is the trend payload returned by GET /api/insights.
type Insights struct {
	Period string         `json:"period,omitempty"`
	Points []InsightPoint `json:"points"`
}
