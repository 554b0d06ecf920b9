package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAward("VOTE", "ok")
	m.RecordAward("VOTE", "ok")
	m.RecordAward("CREATE_POLL", "daily_limit")
	m.RecordTransition("ESCALATED")
	m.RecordScanItem("sla_breach", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Awards.WithLabelValues("VOTE", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Awards.WithLabelValues("CREATE_POLL", "daily_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("ESCALATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScanProcessed.WithLabelValues("sla_breach", "failed")))
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Два экземпляра на разных реестрах не должны паниковать из-за дублей
	assert.NotPanics(t, func() {
		_ = Nop()
		_ = Nop()
	})
}
