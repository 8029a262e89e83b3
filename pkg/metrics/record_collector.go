package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RecordCounter counts the durable records kept by the store.
type RecordCounter interface {
	Count(ctx context.Context) (int64, error)
}

type recordCollector struct {
	records      RecordCounter
	totalRecords *prometheus.Desc
}

// NewRecordCollector reports the number of durable records at scrape time.
func NewRecordCollector(records RecordCounter) prometheus.Collector {
	return &recordCollector{
		records: records,
		totalRecords: prometheus.NewDesc(
			fmt.Sprintf("%s_store_records_total", doctrack),
			"Number of durable records (cached credential, recovery record).",
			nil,
			prometheus.Labels{},
		),
	}
}

func (c *recordCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalRecords
}

// Collect implements Collector.
func (c *recordCollector) Collect(ch chan<- prometheus.Metric) {
	count, err := c.records.Count(context.Background())
	if err != nil {
		zap.S().Named("record_collector").Errorf("failed to count records: %s", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.totalRecords, prometheus.GaugeValue, float64(count))
}
