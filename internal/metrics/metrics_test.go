package metrics_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/rulesync/internal/metrics"
	"github.com/AdguardTeam/rulesync/internal/rstest"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNamespace is the metrics namespace for tests.
const testNamespace = "test"

// gather returns the metric families from reg mapped to their names.
func gather(tb testing.TB, reg *prometheus.Registry) (mfs map[string]*dto.MetricFamily) {
	tb.Helper()

	families, err := reg.Gather()
	require.NoError(tb, err)

	mfs = make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		mfs[mf.GetName()] = mf
	}

	return mfs
}

// labeledGauge returns the value of the gauge from mf with the given value of
// the label.
func labeledGauge(tb testing.TB, mf *dto.MetricFamily, label, value string) (v float64) {
	tb.Helper()

	require.NotNil(tb, mf)

	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetGauge().GetValue()
			}
		}
	}

	tb.Fatalf("no metric with %s=%q in %q", label, value, mf.GetName())

	return 0
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewReconcile(testNamespace, reg)
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, rstest.Timeout)
	l := rulelimits.New(3, 6, rulelimits.Ceilings{Static: 10, Dynamic: 5, Total: 12})

	m.SetLimits(ctx, l, 8)
	m.ObserveApply(ctx, time.Second, nil)
	m.ObserveApply(ctx, time.Second, errors.Error("test error"))
	m.IncrementCoalesced(ctx)
	m.AddRemediated(ctx, 3)
	m.IncrementUnrecovered(ctx)

	mfs := gather(t, reg)

	assert.Equal(t, float64(8), mfs["test_reconcile_active_rules"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, float64(6), labeledGauge(t, mfs["test_reconcile_rules"], "category", "dynamic"))
	assert.Equal(t, float64(5), labeledGauge(t, mfs["test_reconcile_rule_ceilings"], "category", "dynamic"))
	assert.Equal(t, float64(1), labeledGauge(t, mfs["test_reconcile_limits_exceeded"], "category", "dynamic"))
	assert.Equal(t, float64(0), labeledGauge(t, mfs["test_reconcile_limits_exceeded"], "category", "static"))

	applies := mfs["test_reconcile_applies_total"]
	require.NotNil(t, applies)
	assert.Len(t, applies.GetMetric(), 2)

	remediated := mfs["test_reconcile_remediated_rules_total"]
	require.NotNil(t, remediated)
	assert.Equal(t, float64(3), remediated.GetMetric()[0].GetCounter().GetValue())

	t.Run("duplicate", func(t *testing.T) {
		_, err = metrics.NewReconcile(testNamespace, reg)
		assert.Error(t, err)
	})
}

func TestConfBuild(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewConfBuild(testNamespace, reg)
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, rstest.Timeout)
	m.IncrementCustomCacheLookups(ctx, true)
	m.IncrementCustomCacheLookups(ctx, true)
	m.IncrementCustomCacheLookups(ctx, false)

	mf := gather(t, reg)["test_confbuild_custom_cache_lookups_total"]
	require.NotNil(t, mf)

	var hits, misses float64
	for _, metric := range mf.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetValue() == "1" {
				hits = metric.GetCounter().GetValue()
			} else {
				misses = metric.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, float64(2), hits)
	assert.Equal(t, float64(1), misses)
}

func TestSetUpGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	err := metrics.SetUpGauge(testNamespace, reg, "v0.0.0", "now", "abc", "go1.25")
	require.NoError(t, err)

	mf := gather(t, reg)["test_app_up"]
	require.NotNil(t, mf)

	assert.Equal(t, float64(1), mf.GetMetric()[0].GetGauge().GetValue())
}
