package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDatabaseError_MapsToUnavailable(t *testing.T) {
	cause := errors.New("throttled")
	err := NewDatabaseError("query", cause).WithCode("ProvisionedThroughputExceededException")

	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsDatabase(fmt.Errorf("fetch: %w", err)))
	assert.NotEmpty(t, err.StackTrace)
}

func TestWithDetails_Merges(t *testing.T) {
	err := NewValidationError("bad").
		WithDetails(map[string]interface{}{"a": 1}).
		WithDetails(map[string]interface{}{"b": 2})

	assert.Len(t, err.Details, 2)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))

	wrapped := Wrap(NewNotFoundError("service"), "lookup")
	assert.True(t, IsNotFound(wrapped))
	assert.Contains(t, wrapped.Error(), "lookup: service not found")

	plain := Wrap(errors.New("boom"), "render")
	assert.True(t, IsType(plain, ErrorTypeInternal))
}

func TestErrorHandler_AppError(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/services/x/records", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()

	h.Handle(rec, req, NewDatabaseError("query", errors.New("down")).WithCode("InternalServerError"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Error)
	assert.Equal(t, "DATABASE", body.Type)
	assert.Equal(t, "InternalServerError", body.Code)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Nil(t, body.Details, "stack trace only in debug mode")
}

func TestErrorHandler_PlainErrorHidesMessage(t *testing.T) {
	h := NewErrorHandler(nil, false)
	rec := httptest.NewRecorder()

	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret detail"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret detail")
}

func TestErrorHandler_MiddlewareRecoversPanic(t *testing.T) {
	h := NewErrorHandler(nil, true)
	handler := h.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "panic: kaboom")
}

func TestHandleStatus(t *testing.T) {
	h := NewErrorHandler(nil, false)
	rec := httptest.NewRecorder()

	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusNotFound, "no route")

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Type)
	assert.Equal(t, "no route", body.Message)
}
