package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { RegisterCollectors(reg) })

	AuthOperations.WithLabelValues("signin", Outcome(nil)).Inc()
	AuthOperations.WithLabelValues("signin", Outcome(errors.New("boom"))).Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(AuthOperations.WithLabelValues("signin", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(AuthOperations.WithLabelValues("signin", "error")))

	// a second registration on the same registry must fail loudly
	require.Panics(t, func() { RegisterCollectors(reg) })
}
