package types

// ChatRequest is the payload accepted by POST /chat, POST /chat/stream and POST /reset.
type ChatRequest struct {
	// Text of the new user turn. Required for /chat and /chat/stream, ignored by /reset.
	// example: Hello, who are you?
	UserInput string `json:"user_input" example:"Hello, who are you?"`
	// Model identifier. Defaults to "mistral" when omitted.
	// example: mistral
	Model string `json:"model,omitempty" example:"mistral" validate:"omitempty,max=256"`
	// Sampling temperature. Defaults to 0.3 when omitted.
	// example: 0.3
	Temperature *float64 `json:"temperature,omitempty" example:"0.3" validate:"omitempty,gte=0,lte=2"`
	// Use the similarity-indexed memory instead of the recent-window memory.
	// example: false
	UseVectorMemory bool `json:"use_vector_memory,omitempty" example:"false"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	// Complete model response.
	// example: Hi there! How can I help?
	Response string `json:"response" example:"Hi there! How can I help?"`
	// Wall-clock seconds from request receipt to completion, rounded to 2 decimals.
	// example: 1.42
	ElapsedTime float64 `json:"elapsed_time" example:"1.42"`
}

// ResetResponse is returned by POST /reset.
type ResetResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: Conversation reset for model mistral
	Message string `json:"message" example:"Conversation reset for model mistral"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	// example: temperature
	Field string `json:"field" example:"temperature"`
	// example: lte
	Rule string `json:"rule" example:"lte"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Per-field validation failures, when the error is a validation error.
	Details []FieldError `json:"details,omitempty"`
}

// HandleStatus summarizes one cached model handle for /status.
type HandleStatus struct {
	// example: mistral
	ModelID string `json:"model_id" example:"mistral"`
	// Temperature most recently applied to the handle.
	// example: 0.3
	Temperature float64 `json:"temperature" example:"0.3"`
	// example: 40
	TopK int `json:"top_k" example:"40"`
	// example: 0.9
	TopP float64 `json:"top_p" example:"0.9"`
	// example: 400
	MaxTokens int `json:"max_tokens" example:"400"`
	// Unix seconds the handle was created.
	// example: 1700000000
	CreatedUnix int64 `json:"created_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Cached model handles.
	Handles []HandleStatus `json:"handles"`
	// Model identifiers with a cached prompt template.
	Templates []string `json:"templates"`
	// Inference backend in use (ollama, llama).
	// example: ollama
	Backend string `json:"backend" example:"ollama"`
	// True once startup preloading has finished.
	// example: true
	Ready bool `json:"ready" example:"true"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
