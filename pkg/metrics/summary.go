package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CommandsTotal sums forge_raft_commands_total across every outcome
// label, for admin surfaces that want one number rather than the raw
// per-label Prometheus series.
func CommandsTotal() uint64 {
	return uint64(counterVecSum(RaftCommandsTotal))
}

// ElectionsTotal returns the number of times this node has become leader.
func ElectionsTotal() uint64 {
	return uint64(counterValue(RaftElectionsTotal))
}

// AverageCommitDuration returns the mean observed client-write commit
// latency, or zero if no command has committed yet.
func AverageCommitDuration() time.Duration {
	sum, count := histogramSumAndCount(RaftCommitDuration)
	if count == 0 {
		return 0
	}
	return time.Duration(sum / float64(count) * float64(time.Second))
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func counterVecSum(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err == nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func histogramSumAndCount(h prometheus.Histogram) (sum float64, count uint64) {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return 0, 0
	}
	hist := m.GetHistogram()
	return hist.GetSampleSum(), hist.GetSampleCount()
}
