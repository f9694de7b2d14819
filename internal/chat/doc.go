// Package chat runs conversational turns: it resolves the model handle,
// prompt template and memory for a request, invokes the backend and records
// the exchange.
//
// The Service is constructed once in main and shared by every HTTP handler.
// Handlers for the same model are not serialized unless the per-model
// admission gate is enabled.
package chat
