// Package problemdetails renders RFC 7807 error bodies.
package problemdetails

import (
	"encoding/json"
	"net/http"
)

// ProblemDetails is the wire shape for every error response.
type ProblemDetails struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"traceId,omitempty"`
}

// Write serializes the problem with the proper content type. Encoding
// failures are ignored; the status line already left.
func Write(w http.ResponseWriter, problem ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}
