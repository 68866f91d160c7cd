package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/realism/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configGeneral(level string, debug bool) config.GeneralConfig {
	return config.GeneralConfig{LogLevel: level, Debug: debug}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, meter, tracer, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, TelemetryOptions{ServiceName: "test"})
	require.NoError(t, err)
	assert.NotNil(t, meter)
	assert.NotNil(t, tracer)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetupTelemetryPrometheus(t *testing.T) {
	ctx := context.Background()
	tel, meter, _, err := SetupTelemetry(ctx, config.TelemetryConfig{Enabled: true}, TelemetryOptions{ServiceName: "test", ServiceVersion: "dev"})
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(ctx) }()

	c, err := meter.Int64Counter("realism_test_total")
	require.NoError(t, err)
	c.Add(ctx, 3)

	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "realism_test_total")
}
