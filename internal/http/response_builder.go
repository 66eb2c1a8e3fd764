package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	raw        []byte
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets a value to be encoded as JSON.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	b.raw = nil
	return b
}

// Raw sets an already encoded JSON document.
func (b *JSONResponseBuilder) Raw(content []byte) *JSONResponseBuilder {
	b.raw = content
	b.body = nil
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	content := b.raw
	if b.body != nil {
		encoded, err := json.Marshal(b.body)
		if err != nil {
			slog.Error("Encode response failed", log.FieldError, err)
			http.Error(w, `{"error":"internal error","code":"internal"}`, http.StatusInternalServerError)
			return
		}
		content = encoded
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(b.statusCode)
	if len(content) > 0 {
		_, _ = w.Write(content)
		if content[len(content)-1] != '\n' {
			_, _ = w.Write([]byte("\n"))
		}
	}
}

type errorBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Index    *int   `json:"index,omitempty"`
	StreamID string `json:"streamId,omitempty"`
	Expected *int   `json:"expectedVersion,omitempty"`
	Actual   *int   `json:"actualVersion,omitempty"`
}

// ErrorResponse maps domain errors to status codes. Unknown errors become
// 500 without leaking their message.
func ErrorResponse(err error) *JSONResponseBuilder {
	var (
		validation  *core.ValidationError
		conflict    *es.ConcurrencyConflictError
		duplicate   *es.DuplicateStreamError
		notFound    *es.NotFoundError
		unsupported *es.UnsupportedTypeError
	)
	switch {
	case errors.As(err, &validation):
		body := errorBody{Error: err.Error(), Code: "validation_failed", Field: validation.Field}
		if validation.Index >= 0 {
			body.Index = &validation.Index
		}
		return NewJSONResponse().Status(http.StatusUnprocessableEntity).Body(body)
	case errors.As(err, &unsupported):
		return NewJSONResponse().Status(http.StatusUnprocessableEntity).
			Body(errorBody{Error: err.Error(), Code: "unsupported_type"})
	case errors.As(err, &conflict):
		return NewJSONResponse().Status(http.StatusConflict).Body(errorBody{
			Error:    err.Error(),
			Code:     "concurrency_conflict",
			StreamID: conflict.StreamID.String(),
			Expected: &conflict.Expected,
			Actual:   &conflict.Actual,
		})
	case errors.As(err, &duplicate):
		return NewJSONResponse().Status(http.StatusConflict).
			Body(errorBody{Error: err.Error(), Code: "duplicate_stream", StreamID: duplicate.StreamID.String()})
	case errors.As(err, &notFound):
		return NewJSONResponse().Status(http.StatusNotFound).
			Body(errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, context.DeadlineExceeded):
		return NewJSONResponse().Status(http.StatusGatewayTimeout).
			Body(errorBody{Error: "request timed out", Code: "timeout"})
	}
	return InternalServerError()
}

func BadRequestError(message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(http.StatusBadRequest).Body(errorBody{Error: message, Code: "bad_request"})
}

func NotFoundError(message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(http.StatusNotFound).Body(errorBody{Error: message, Code: "not_found"})
}

func InternalServerError() *JSONResponseBuilder {
	return NewJSONResponse().Status(http.StatusInternalServerError).Body(errorBody{Error: "internal error", Code: "internal"})
}

// writeError logs server-side failures and writes the mapped response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorResponse(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, op, log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, "", ""))
	}
	resp.Write(w)
}
