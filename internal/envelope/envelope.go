// Package envelope serializes handler output into the standard response
// shape shared by every endpoint: {success, data|error, meta}.
package envelope

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Version is reported in every response's meta block.
const Version = "1.0"

// Meta accompanies every response.
type Meta struct {
	Timestamp    string `json:"timestamp"`
	ResponseTime string `json:"response_time"`
	Version      string `json:"version"`
}

// ErrorBody is the error object of a failed response.
type ErrorBody struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	ErrorDetails any    `json:"error_details,omitempty"`
}

// Pagination describes a list response slice.
type Pagination struct {
	Total       int  `json:"total"`
	Count       int  `json:"count"`
	PerPage     int  `json:"per_page"`
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	Offset      int  `json:"offset"`
	HasMore     bool `json:"has_more"`
}

// NewPagination computes the derived fields from the query window.
func NewPagination(total, count, perPage, offset int) Pagination {
	p := Pagination{Total: total, Count: count, PerPage: perPage, Offset: offset}
	if perPage > 0 {
		p.TotalPages = (total + perPage - 1) / perPage
		p.CurrentPage = offset/perPage + 1
	}
	p.HasMore = offset+count < total
	return p
}

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    Meta `json:"meta"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
	Meta    Meta      `json:"meta"`
}

// Builder stamps responses with timing metadata. Now is overridable in
// tests and defaults to time.Now.
type Builder struct {
	Now func() time.Time
}

func (b *Builder) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) meta(start time.Time) Meta {
	now := b.now()
	return Meta{
		Timestamp:    now.UTC().Format(time.RFC3339),
		ResponseTime: fmt.Sprintf("%dms", now.Sub(start).Milliseconds()),
		Version:      Version,
	}
}

// Success builds the body for a 2xx response with the payload verbatim.
func (b *Builder) Success(data any, start time.Time) ([]byte, error) {
	return json.Marshal(successResponse{Success: true, Data: data, Meta: b.meta(start)})
}

// Error builds the body for a non-2xx response. The data key is dropped
// entirely.
func (b *Builder) Error(code int, message string, start time.Time) ([]byte, error) {
	return json.Marshal(errorResponse{
		Success: false,
		Error:   ErrorBody{Code: code, Message: message},
		Meta:    b.meta(start),
	})
}

// FromPayload wraps an arbitrary handler payload according to the status
// code. On failure the payload's message is promoted into error.message,
// the status into error.code, and any errors / error_details keys are
// nested under the error object.
func (b *Builder) FromPayload(status int, payload any, start time.Time) ([]byte, error) {
	if status >= 200 && status < 300 {
		return b.Success(payload, start)
	}

	body := ErrorBody{Code: status, Message: http.StatusText(status)}
	if m, ok := payload.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok && msg != "" {
			body.Message = msg
		}
		if details, ok := m["errors"]; ok {
			body.Details = details
		}
		if details, ok := m["error_details"]; ok {
			body.ErrorDetails = details
		}
	}
	return json.Marshal(errorResponse{Success: false, Error: body, Meta: b.meta(start)})
}

// List builds a list payload keyed by the resource name with pagination
// attached. When the caller asked for limit=1, exactly one item matched,
// and the endpoint opts into unwrapping, the single object is returned
// directly under the singular resource name.
func (b *Builder) List(resource string, items []any, p Pagination, unwrap bool, start time.Time) ([]byte, error) {
	if unwrap && p.PerPage == 1 && len(items) == 1 {
		singular := strings.TrimSuffix(resource, "s")
		data := map[string]any{
			singular: items[0],
			"note":   fmt.Sprintf("returned a single %s object because limit=1 matched exactly one record", singular),
		}
		return b.Success(data, start)
	}
	data := map[string]any{
		resource:     items,
		"pagination": p,
	}
	return b.Success(data, start)
}

// Write sends a built body with the JSON content type. Encoding failures
// fall back to a bare 500 so a response always terminates the request.
func Write(w http.ResponseWriter, status int, body []byte, err error) {
	if err != nil {
		slog.Error("encode response envelope", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
