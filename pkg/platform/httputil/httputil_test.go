package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "careverify/pkg/domain-errors"
)

func TestStatusFor(t *testing.T) {
	tests := map[dErrors.Code]int{
		dErrors.CodeBadRequest:          http.StatusBadRequest,
		dErrors.CodeValidation:          http.StatusBadRequest,
		dErrors.CodeUnauthorized:        http.StatusUnauthorized,
		dErrors.CodeForbidden:           http.StatusForbidden,
		dErrors.CodeNotFound:            http.StatusNotFound,
		dErrors.CodeInvalidTransition:   http.StatusConflict,
		dErrors.CodeStaleState:          http.StatusConflict,
		dErrors.CodeAppealLimitExceeded: http.StatusUnprocessableEntity,
		dErrors.CodeNoEligibleInsurer:   http.StatusServiceUnavailable,
		dErrors.CodeNoScorersAvailable:  http.StatusServiceUnavailable,
		dErrors.CodeRateLimited:         http.StatusTooManyRequests,
		dErrors.CodeTimeout:             http.StatusGatewayTimeout,
		dErrors.CodeInvariantViolation:  http.StatusInternalServerError,
		dErrors.CodeInternal:            http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), string(code))
	}
}

func TestWriteError(t *testing.T) {
	t.Run("server errors hide their description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(errors.New("pq: connection reset"), dErrors.CodeInternal, "save claim"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "internal_error", body["error"])
		assert.NotContains(t, body, "error_description")
	})

	t.Run("client errors keep the message through wrapping", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("appeal: %w", dErrors.New(dErrors.CodeAppealLimitExceeded, "claim already appealed twice")))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"error":"appeal_limit_exceeded","error_description":"claim already appealed twice"}`, w.Body.String())
	})

	t.Run("plain errors are internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestWriteRejection_IncludesCurrentState(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRejection(w, dErrors.New(dErrors.CodeInvalidTransition, "claim is not a draft"), map[string]string{"status": "submitted"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"error": "invalid_transition",
		"error_description": "claim is not a draft",
		"current": {"status": "submitted"}
	}`, w.Body.String())
}

type noteRequest struct {
	Note string `json:"note"`
}

func (r *noteRequest) Validate() error {
	r.Note = strings.TrimSpace(r.Note)
	if r.Note == "" {
		return dErrors.New(dErrors.CodeValidation, "note is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decode := func(body string) (*noteRequest, *httptest.ResponseRecorder) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/claims/x/notes", strings.NewReader(body))
		req, ok := DecodeAndPrepare[noteRequest](w, r, logger, context.Background(), "req-1")
		if !ok {
			return nil, w
		}
		return req, w
	}

	req, _ := decode(`{"note":"  resubmitted with discharge summary "}`)
	require.NotNil(t, req)
	assert.Equal(t, "resubmitted with discharge summary", req.Note)

	req, w := decode(`{"note":"x","extra":true}`)
	assert.Nil(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bad_request")

	req, w = decode(`{"note":"   "}`)
	assert.Nil(t, req)
	assert.Contains(t, w.Body.String(), "validation_error")

	req, w = decode(`not json`)
	assert.Nil(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
