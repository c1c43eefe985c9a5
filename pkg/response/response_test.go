package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{customError.WrapLoanNotFound("x"), http.StatusNotFound},
		{customError.WrapInvalidPaymentAmount("0"), http.StatusBadRequest},
		{customError.WrapInvalidTransition("x", "closed", "repayment"), http.StatusConflict},
		{customError.WrapOverpaymentRejected("x", "10"), http.StatusUnprocessableEntity},
		{customError.WrapLockTimeout("x", errors.New("deadline")), http.StatusServiceUnavailable},
		{fmt.Errorf("loan x: %w", customError.WrapReferenceConflict("x", "R")), http.StatusConflict},
		{customError.WrapDatabaseError(errors.New("boom")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusFor(tt.err))
		})
	}
}

func TestFromError(t *testing.T) {
	logrus.SetOutput(io.Discard)

	w := httptest.NewRecorder()
	FromError(w, customError.WrapInvalidRequest("reference", "failed required"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, customError.ErrCodeInvalidRequest, body.Code)
	assert.Equal(t, "reference", body.Field)

	w = httptest.NewRecorder()
	FromError(w, customError.WrapDatabaseError(errors.New("password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestLoggingMiddleware(t *testing.T) {
	log, hook := test.NewNullLogger()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	LoggingMiddleware(log)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/api/v1/products", entry.Data["path"])
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	CORSMiddleware(next).ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/loans", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	NotFound(w, "route not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "route not found", body.Message)
	assert.Empty(t, body.Error)
}
