package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"

	"github.com/google/uuid"
)

const maxBodyBytes = 4 << 20

type (
	operationsRequest struct {
		Operations []core.Operation `json:"operations"`
	}

	tradesRequest struct {
		Trades []core.Trade `json:"trades"`
	}

	valuationsRequest struct {
		Valuations []core.Valuation `json:"valuations"`
	}

	appendRequest struct {
		Events []es.Event `json:"events"`
	}
)

// decodeJSON reads one JSON document into v. Unknown fields and trailing
// data are rejected. A payload with an unknown event type surfaces as the
// registry's UnsupportedTypeError.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body has trailing data")
	}
	return nil
}

// decodeOrReject decodes the body and writes the error response on
// failure. It reports whether the handler should continue.
func (s *Server) decodeOrReject(w http.ResponseWriter, r *http.Request, v any) bool {
	err := decodeJSON(w, r, v)
	if err == nil {
		return true
	}
	var (
		unsupported *es.UnsupportedTypeError
		validation  *core.ValidationError
	)
	switch {
	case errors.As(err, &unsupported), errors.As(err, &validation):
		s.writeError(w, r, "decode", err)
		return false
	case errors.Is(err, core.ErrInvalidDate):
		s.writeError(w, r, "decode", core.Invalid("date", err.Error()))
		return false
	}
	BadRequestError("invalid request body: " + err.Error()).Write(w)
	return false
}

// streamID parses the {id} path segment.
func streamID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid stream id %q", raw)
	}
	return id, nil
}

// parseSince reads the optional since query parameter. Absent means the
// zero date, which refreshes from the first event.
func parseSince(r *http.Request) (core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(raw)
}
