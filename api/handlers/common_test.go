package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/types"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteStatus_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-42")

	WriteStatus(w, http.StatusCreated, map[string]int{"tokens": 12})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, map[string]any{"tokens": float64(12)}, resp.Data)
}

func TestWriteError_Status(t *testing.T) {
	tests := []struct {
		err  *types.Error
		want int
	}{
		{types.NewInvalidRequestError("bad"), http.StatusBadRequest},
		{types.NewError(types.ErrUnauthorized, "x"), http.StatusUnauthorized},
		{types.NewError(types.ErrForbidden, "x"), http.StatusForbidden},
		{types.NewNotFoundError("x"), http.StatusNotFound},
		{types.NewError(types.ErrRateLimited, "x"), http.StatusTooManyRequests},
		{types.NewError(types.ErrContextOverflow, "x"), http.StatusRequestEntityTooLarge},
		{types.NewError(types.ErrTimeout, "x"), http.StatusGatewayTimeout},
		{types.NewError(types.ErrServiceUnavailable, "x"), http.StatusServiceUnavailable},
		{types.NewError(types.ErrCompressionFailed, "x"), http.StatusInternalServerError},
		{types.NewError(types.ErrCacheError, "x"), http.StatusInternalServerError},
		{types.NewError(types.ErrorCode("SOMETHING_NEW"), "x"), http.StatusInternalServerError},
		// 显式状态码优先
		{types.NewError(types.ErrCompressionFailed, "x").WithHTTPStatus(http.StatusServiceUnavailable), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.err.Code, tt.want), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.want, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
		})
	}
}

func TestWriteError_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrStorageError, "load conversation").
		WithCause(errors.New("dial tcp 10.0.0.5:5432: connection refused")).
		WithRetryable(true)
	WriteError(w, err, nil)

	body := w.Body.String()
	assert.NotContains(t, body, "10.0.0.5")

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "load conversation", resp.Error.Message)
	assert.True(t, resp.Error.Retryable)
}

func TestWriteServiceError(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")
	WriteServiceError(w, assert.AnError, zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
	assert.Equal(t, "req-1", resp.RequestID)

	w = httptest.NewRecorder()
	wrapped := fmt.Errorf("handler: %w", types.NewNotFoundError("missing"))
	WriteServiceError(w, wrapped, zap.NewNop())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Model string `json:"model"`
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		wantOK      bool
		wantStatus  int
	}{
		{"valid", "application/json", `{"model":"gpt-4"}`, true, 0},
		{"charset param", "application/json; charset=utf-8", `{"model":"gpt-4"}`, true, 0},
		{"wrong content type", "text/plain", `{"model":"gpt-4"}`, false, http.StatusUnsupportedMediaType},
		{"missing content type", "", `{"model":"gpt-4"}`, false, http.StatusUnsupportedMediaType},
		{"empty body", "application/json", "", false, http.StatusBadRequest},
		{"malformed", "application/json", `{"model":`, false, http.StatusBadRequest},
		{"unknown field", "application/json", `{"model":"x","temperature":1}`, false, http.StatusBadRequest},
		{"too large", "application/json", `{"model":"` + strings.Repeat("a", int(DefaultMaxBodyBytes)) + `"}`, false, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			r := httptest.NewRequest(http.MethodPost, "/v1/tokens/count", nil)
			if tt.body != "" {
				body = strings.NewReader(tt.body)
				r = httptest.NewRequest(http.MethodPost, "/v1/tokens/count", body)
			}
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()

			var dst payload
			ok := decodeJSON(w, r, &dst, zap.NewNop())

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "gpt-4", dst.Model)
				assert.Zero(t, w.Body.Len())
				return
			}
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(types.ErrInvalidRequest), decodeResponse(t, w).Error.Code)
		})
	}
}

func TestValidateMessages(t *testing.T) {
	assert.Nil(t, validateMessages(nil))
	assert.Nil(t, validateMessages([]types.Message{
		types.NewSystemMessage("be brief"),
		types.NewUserMessage("hi"),
	}))

	err := validateMessages([]types.Message{types.NewUserMessage("hi"), {Role: "tool", Content: "x"}})
	require.NotNil(t, err)
	assert.Equal(t, types.ErrInvalidRequest, err.Code)
	assert.Contains(t, err.Message, "messages[1]")
}
