package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersMetricsAndServesHandler(t *testing.T) {
	r := NewRegistry()
	r.QueueDepth.WithLabelValues("critical").Set(3)
	r.DevicesOnline.Set(2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "rvcd_scheduler_queue_depth")
	require.Contains(t, rec.Body.String(), "rvcd_discovery_devices_online")
}
