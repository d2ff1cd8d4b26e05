// Package httpx holds the JSON envelopes shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/retail-admin/fulfillment/internal/platform/requestctx"
)

const maxBodyBytes = 1 << 20

// Error is the JSON error envelope. Details are merged into the top level of the payload.
type Error struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	RequestID string
	TraceID   string
	Details   map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, 80), Message: clip(message, 512), Status: status}
}

func (e Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// AsRetryable marks the error as safe for the client to retry unchanged.
func (e Error) AsRetryable() Error {
	e.Retryable = true
	return e
}

// WithRequestID overrides the request id echoed to the client.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, 80)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, 64)
	return e
}

// WithDetails attaches extra fields. The map is copied.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// WriteError renders err, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err = err.WithRequestID(middleware.GetReqID(ctx))
	}
	if err.TraceID == "" {
		err = err.WithTraceID(requestctx.TraceID(ctx))
	}

	payload := make(map[string]any, len(err.Details)+6)
	maps.Copy(payload, err.Details)
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = err.Status
	if err.Retryable {
		payload["retryable"] = true
	}
	if err.RequestID != "" {
		payload["request_id"] = err.RequestID
	}
	if err.TraceID != "" {
		payload["trace_id"] = err.TraceID
	}
	WriteJSON(w, err.Status, payload)
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON strictly decodes a single JSON document from the request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON document")
	}
	return nil
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
