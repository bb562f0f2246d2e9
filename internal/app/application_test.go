package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelab/internal/api"
	"dronelab/internal/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "dronelab.db")
	cfg.Store.Backend = config.StoreBackendMemory
	cfg.HTTP.Mode = "test"
	return cfg
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.HTTP.Port = -1

	application, err := NewApplication(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, application)
}

func TestNewApplication_MemoryBackend(t *testing.T) {
	application, err := NewApplication(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	assert.Equal(t, "0.0.0.0:8080", application.GetAddr())

	w := httptest.NewRecorder()
	application.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Checks["database"])
	assert.Equal(t, "ok", health.Checks["store"])
}

func TestApplication_LecturesSurviveRestart(t *testing.T) {
	cfg := memoryConfig(t)
	ctx := context.Background()

	first, err := NewApplication(ctx, cfg)
	require.NoError(t, err)
	l, err := first.Lifecycle().Start(ctx, "inst-1")
	require.NoError(t, err)
	require.NoError(t, first.Stop(ctx))

	second, err := NewApplication(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Stop(ctx) })

	w := httptest.NewRecorder()
	second.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/lectures?code="+l.Code, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
