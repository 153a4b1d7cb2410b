package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/arachnid-agents/mission-control/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Port:    0,
		Version: "test",
		Store:   config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "progress.db")},
		Admin:   config.AdminConfig{Token: "admin"},
		Badge:   config.BadgeConfig{Rasterizer: "vector"},
		Retention: config.RetentionConfig{
			Days:       30,
			Schedule:   "@daily",
			ArchiveDir: filepath.Join(dir, "archive"),
		},
		Mail: config.MailConfig{Driver: "log", MinTokenLength: 16},
	}
}

func TestNewWithConfig_ServesAndCloses(t *testing.T) {
	ctx := context.Background()
	srv, err := server.NewWithConfig(ctx, testConfig(t))
	require.NoError(t, err)
	srv.Start(ctx)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status?token=agent7", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, srv.Close(ctx))
}

func TestNewWithConfig_RejectsBadDrivers(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Store.Driver = "etcd"
	_, err := server.NewWithConfig(ctx, cfg)
	assert.ErrorContains(t, err, "unknown store driver")

	cfg = testConfig(t)
	cfg.Mail.Driver = "pigeon"
	_, err = server.NewWithConfig(ctx, cfg)
	assert.ErrorContains(t, err, "unknown mail driver")

	cfg = testConfig(t)
	cfg.Retention.Schedule = "whenever"
	_, err = server.NewWithConfig(ctx, cfg)
	assert.ErrorContains(t, err, "parse retention schedule")
}
