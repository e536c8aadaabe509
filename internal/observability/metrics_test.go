package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ReferralDetected("query")
		m.BonusOutcome("credited", 10)
		m.LostUpdate("accounts", "walletBalance")
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}

func TestBonusOutcomeCountsPaidUnits(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.BonusOutcome("credited", 10)
	m.BonusOutcome("credited", 10)
	m.BonusOutcome("already_credited", 10)

	require.Equal(t, float64(2), testutil.ToFloat64(m.bonusOutcomes.WithLabelValues("credited")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.bonusOutcomes.WithLabelValues("already_credited")))
	require.Equal(t, float64(20), testutil.ToFloat64(m.bonusPaid))
}

func TestObserveHTTPLabelsUnmatchedRoutes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveHTTP("GET", "", 404, time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}
