package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	require.NotNil(t, m)
	assert.NotNil(t, m.AuthorityCallDuration)
	assert.NotNil(t, m.ActionsTotal)
	assert.NotNil(t, m.PushReconnectsTotal)
}

func TestActionsAndConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.IncAction("select", "ok")
	m.IncAction("select", "ok")
	m.IncAction("select", "conflict")
	m.IncConflict("locked_by_other")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("select", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("select", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsTotal.WithLabelValues("locked_by_other")))
}

func TestAuthorityCallDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveAuthorityCall("lock", "ok", time.Now().Add(-20*time.Millisecond))

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "seat_authority_call_duration_seconds" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found, "seat_authority_call_duration_seconds metric not found")
}

func TestLeaseGauges(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetLease(42, 3)

	assert.Equal(t, 42.0, testutil.ToFloat64(m.LeaseSecondsRemaining))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SelectedSeats))

	m.SetPushConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushConnected))
	m.SetPushConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PushConnected))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncAction("select", "ok")
		m.IncConflict("booked")
		m.IncPushEvent("seat_locked")
		m.IncReconnect()
		m.SetLease(1, 1)
		m.SetPushConnected(true)
		m.ObserveAuthorityCall("fetch", "ok", time.Now())
		m.ObserveHTTP("GET", "/health", "200", time.Millisecond)
	})
}
