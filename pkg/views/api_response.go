package views

// APIResponse wraps every successful HTTP payload.
type APIResponse struct {
	TraceID string `json:"traceId"` // unique identifier for the API request
	Data    any    `json:"data"`
}
