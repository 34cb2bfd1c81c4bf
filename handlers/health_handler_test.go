package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data, ok := response["data"].(map[string]interface{})
	require.True(t, ok, "response has no data envelope: %v", response)
	return data
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	readiness := func(t *testing.T, handler *HealthHandler) (int, map[string]interface{}) {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		handler.HandleReadiness(w, req)
		return w.Code, decodeData(t, w)
	}

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "unhealthy", checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("healthy when no database configured", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, logger))

		assert.Equal(t, http.StatusOK, code)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
	})

	t.Run("extra checks", func(t *testing.T) {
		handler := NewHealthHandler(nil, logger).
			WithCheck("policy", func(context.Context) error { return nil }).
			WithCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") })

		code, data := readiness(t, handler)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["policy"])
		assert.Equal(t, "unhealthy", checks["redis"])
	})
}
