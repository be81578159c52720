// Package api — HTTP surface of the HUB with RFC 7807 Problem Detail
// error responses.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iscc/iscc-hub-go/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is the protocol error kind (MALFORMED, WRONG_HUB, ...).
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation of this occurrence.
	Detail string `json:"detail,omitempty"`
	// Field names the offending note field when known.
	Field string `json:"field,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// RequestID links to the server logs for this request.
	RequestID string `json:"request_id,omitempty"`
	// Receipt carries the original receipt on DUPLICATE_NONCE conflicts.
	Receipt *contracts.IsccReceipt `json:"receipt,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteProblem writes an RFC 7807 response for a typed pipeline error.
func WriteProblem(w http.ResponseWriter, r *http.Request, err *contracts.Error, receipt *contracts.IsccReceipt) {
	status := err.HTTPStatus()
	problem := &ProblemDetail{
		Type:      fmt.Sprintf("https://iscc.io/hub/errors/%s", err.Kind),
		Title:     string(err.Kind),
		Status:    status,
		Detail:    err.Msg,
		Field:     err.Field,
		Instance:  r.URL.Path,
		RequestID: w.Header().Get("X-Request-ID"),
		Receipt:   receipt,
	}
	if status == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes a plain RFC 7807 response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://iscc.io/hub/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "INTERNAL",
		"An unexpected error occurred. Please try again later.")
}
