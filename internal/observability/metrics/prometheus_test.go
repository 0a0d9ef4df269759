package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PrescriptionsSigned.Inc()
	m.PrescriptionsSigned.Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PrescriptionsSigned))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

func TestHandler_ServesOwnRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ConsentsRecorded.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinic_consents_recorded_total 1"))
}
