package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetRooms(3)
	m.MessageReceived()
	m.Delivered(4)
	m.Dropped(ReasonUnrouted)
	m.Dropped(ReasonUnrouted)
	m.DeliveryFailed()
	m.JoinRejected()
	m.AdmissionRejected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Rooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.MessagesDelivered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(ReasonUnrouted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JoinsRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmissionsRejected))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.SetRooms(1)
		m.MessageReceived()
		m.Delivered(1)
		m.Dropped(ReasonMalformed)
		m.DeliveryFailed()
		m.JoinRejected()
		m.AdmissionRejected()
	})
}

func TestHandler_ExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Delivered(2)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "roomrelay_messages_delivered_total 2")
}
