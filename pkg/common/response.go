package common

// APIResponse is the success envelope of every JSON endpoint.
type APIResponse struct {
	TraceID string `json:"traceId"`
	Data    any    `json:"data"`
}
