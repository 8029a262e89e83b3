package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type uniqueJobs struct {
	counter  prometheus.Gauge
	jobCache map[string]struct{}
	mu       sync.RWMutex
}

const trackedJobsTotal = "tracked_jobs_total"

var totalUniqueJobsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: doctrack,
		Name:      trackedJobsTotal,
		Help:      "number of distinct jobs tracked by this process",
	},
)

var UniqueJobs = &uniqueJobs{
	counter:  totalUniqueJobsMetric,
	jobCache: make(map[string]struct{}),
}

func (v *uniqueJobs) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.jobCache = make(map[string]struct{})
	v.counter.Set(0)
}

func (v *uniqueJobs) Track(jobID string) {
	if jobID == "" {
		return
	}

	v.mu.RLock()
	_, exists := v.jobCache[jobID]
	v.mu.RUnlock()
	if exists {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.jobCache[jobID]; exists {
		return
	}
	v.jobCache[jobID] = struct{}{}
	v.counter.Inc()
}

func (v *uniqueJobs) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.jobCache)
}
