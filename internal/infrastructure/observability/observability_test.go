package observability

import (
	"testing"

	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardProviderRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := NewStandard(prometrics.New(reg, "", ""), nil, nil)

	tel.Metrics().Counter(observability.MStockCommits).Add(1, observability.L("outcome", "committed"))
	tel.Metrics().Histogram(observability.MUsecaseDuration).Observe(0.1, observability.L("use_case", "X"))

	n, err := testutil.GatherAndCount(reg, "stock_commit_total", "usecase_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotNil(t, tel.Tracer())
	assert.NotNil(t, tel.Logger())
}

func TestUnknownMetricIsNop(t *testing.T) {
	tel := New(nil, nil, nil, nil)
	assert.NotPanics(t, func() {
		tel.Metrics().Counter("missing").Add(1)
		tel.Metrics().Histogram("missing").Observe(1)
	})
}
