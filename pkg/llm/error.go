// Package llm provides the internal representations of language model
// requests, responses and transcript messages shared by the gateways, the
// conversation manager and the HTTP surface.
package llm

// ErrorResponse represents an error returned to an HTTP client.
type ErrorResponse struct {
	Error string `json:"error"`
}
