package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.PagesVisited.Inc()
	m.FetchFailures.WithLabelValues("dns").Inc()
	m.FetchFailures.WithLabelValues("dns").Inc()
	m.Classifications.WithLabelValues("sbc").Inc()

	require.Equal(t, float64(1), testutil.ToFloat64(m.PagesVisited))
	require.Equal(t, float64(2), testutil.ToFloat64(m.FetchFailures.WithLabelValues("dns")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Classifications.WithLabelValues("sbc")))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
