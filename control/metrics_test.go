package control_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/momentics/hioload-uwsd/control"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Lifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(reg)

	m.ClientCreated()
	m.ClientCreated()
	m.ClientCreated()
	m.ClientFreed(control.FreeImmediate)
	m.ClientFreed(control.FreeGraceful)
	m.TLSInitFailed()
	m.Rejected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveClients))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CreatedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FreedTotal.WithLabelValues(control.FreeImmediate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FreedTotal.WithLabelValues(control.FreeGraceful)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TLSInitFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *control.Metrics
	assert.NotPanics(t, func() {
		m.ClientCreated()
		m.ClientFreed(control.FreeGraceful)
		m.TLSInitFailed()
		m.Rejected()
	})
}

func TestHandler_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	control.NewMetrics(reg).ClientCreated()
	probes := control.NewDebugProbes()
	probes.RegisterProbe("clients", func() any { return 1 })
	control.RegisterPlatformProbes(probes)
	h := control.NewHandler(reg, probes)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "uwsd_active_clients 1"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	assert.Contains(t, rec.Body.String(), `"clients":1`)
	assert.Contains(t, rec.Body.String(), `"platform.cpus"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())
}
