package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cmadac/internal/logging"
	"github.com/copyleftdev/cmadac/internal/optimization"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("env abc: %w", ErrNotFound), http.StatusNotFound},
		{"invalid state", optimization.NewError(optimization.ErrInvalidState, "step before reset"), http.StatusConflict},
		{"invalid config", optimization.NewError(optimization.ErrInvalidConfig, "cutoff"), http.StatusBadRequest},
		{"wrapped argument", optimization.WrapError(optimization.NewError(optimization.ErrInvalidArgument, "len"), "tell"), http.StatusBadRequest},
		{"other", fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestWriteJSON(t *testing.T) {
	t.Run("client error keeps detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		code := WriteJSON(rec, optimization.NewError(optimization.ErrInvalidState, "episode is done"))
		assert.Equal(t, http.StatusConflict, code)

		var body Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "episode is done", body.Error)
		assert.Equal(t, "invalid state", body.Kind)
	})

	t.Run("server error hides detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteJSON(rec, fmt.Errorf("sqlite: locked"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "sqlite")
	})

	assert.True(t, IsClientError(ErrNotFound))
	assert.False(t, IsClientError(fmt.Errorf("x")))
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.ErrorLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/envs", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
	assert.Contains(t, buf.String(), "boom")
}
