package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/internal/metrics"
)

func TestNewMetricsServerServesMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	srv := newMetricsServer(":0", reg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
}

func TestIsServerClosedDetectsExpectedShutdownError(t *testing.T) {
	require.True(t, isServerClosed(http.ErrServerClosed))
	require.False(t, isServerClosed(errors.New("other failure")))
}
