package cluster

import (
	"time"

	"github.com/forgehq/forge/pkg/metrics"
)

// Collector periodically refreshes gauges that only make sense at the
// service level (as opposed to pkg/raft's own per-event metric
// updates), such as uptime. It imports pkg/metrics directly; pkg/raft
// and pkg/statemachine never import pkg/cluster, so this stays
// one-directional.
type Collector struct {
	service *Service
	stopCh  chan struct{}
}

// NewCollector builds a collector bound to service.
func NewCollector(service *Service) *Collector {
	return &Collector{service: service, stopCh: make(chan struct{})}
}

// Start begins the collection loop on a fresh stop channel, so a
// Collector can be reused across Stop/Start cycles.
func (c *Collector) Start() {
	c.stopCh = make(chan struct{})
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	metrics.ClusterUptimeSeconds.Set(c.service.Uptime().Seconds())
}
