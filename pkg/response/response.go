package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var statusByCode = map[string]int{
	customError.ErrCodeLoanNotFound:         http.StatusNotFound,
	customError.ErrCodeProductNotFound:      http.StatusNotFound,
	customError.ErrCodeInvalidRequest:       http.StatusBadRequest,
	customError.ErrCodeInvalidScheduleInput: http.StatusBadRequest,
	customError.ErrCodeInvalidPaymentAmount: http.StatusBadRequest,
	customError.ErrCodeInvalidPaymentMethod: http.StatusBadRequest,
	customError.ErrCodeInvalidProduct:       http.StatusBadRequest,
	customError.ErrCodeUnknownAccount:       http.StatusBadRequest,
	customError.ErrCodeInvalidTransition:    http.StatusConflict,
	customError.ErrCodeReferenceConflict:    http.StatusConflict,
	customError.ErrCodeDuplicateReference:   http.StatusConflict,
	customError.ErrCodeDuplicateFineAccrual: http.StatusConflict,
	customError.ErrCodeVersionConflict:      http.StatusConflict,
	customError.ErrCodeProductAlreadyExists: http.StatusConflict,
	customError.ErrCodeOverpaymentRejected:  http.StatusUnprocessableEntity,
	customError.ErrCodeLoanLimitExceeded:    http.StatusUnprocessableEntity,
	customError.ErrCodeNoOutstandingBalance: http.StatusUnprocessableEntity,
	customError.ErrCodeUnbalancedEntry:      http.StatusUnprocessableEntity,
	customError.ErrCodeLockTimeout:          http.StatusServiceUnavailable,
	customError.ErrCodeSavingsUnavailable:   http.StatusServiceUnavailable,
}

// StatusFor maps an error to the HTTP status it should be reported with.
// Errors without a business code are internal.
func StatusFor(err error) int {
	if status, ok := statusByCode[customError.Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response := Response{
		Success:   statusCode >= 200 && statusCode < 300,
		Data:      data,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logrus.WithError(err).Error("failed to encode JSON response")
	}
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a created JSON response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	response := ErrorResponse{
		Success:   false,
		Message:   message,
		Timestamp: time.Now(),
	}

	if err != nil {
		response.Error = err.Error()
	}

	write(w, statusCode, response)
}

// FromError reports err with the status its business code maps to.
// Internal errors are logged and hidden from the caller.
func FromError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	response := ErrorResponse{
		Success:   false,
		Code:      customError.Code(err),
		Timestamp: time.Now(),
	}

	var be *customError.BusinessError
	if errors.As(err, &be) {
		response.Message = be.Message
		response.Field = be.Field
	}
	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error("request failed")
		response.Error = "internal error"
	} else {
		response.Error = err.Error()
	}

	write(w, status, response)
}

// NotFound sends a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message, nil)
}

func write(w http.ResponseWriter, statusCode int, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		logrus.WithError(encodeErr).Error("failed to encode error response")
	}
}

// CORSMiddleware adds CORS headers
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response recorder to capture the status code
			recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			entry := log.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      recorder.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if recorder.statusCode >= http.StatusInternalServerError {
				entry.Error("request handled")
			} else {
				entry.Info("request handled")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *responseRecorder) WriteHeader(statusCode int) {
	rec.statusCode = statusCode
	rec.ResponseWriter.WriteHeader(statusCode)
}
