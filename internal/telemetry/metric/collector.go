package metric

import "github.com/prometheus/client_golang/prometheus"

// Stats is a point-in-time view of a store.
type Stats struct {
	Keys      int
	FileBytes int64
	LogSize   int
}

// Collector reports store statistics on every scrape.
type Collector struct {
	stats func() Stats

	keys      *prometheus.Desc
	fileBytes *prometheus.Desc
	logSize   *prometheus.Desc
}

// NewCollector creates a collector reading from stats. labels are attached to
// every series, typically the store path.
func NewCollector(stats func() Stats, labels prometheus.Labels) *Collector {
	return &Collector{
		stats: stats,
		keys: prometheus.NewDesc("tidekv_store_keys",
			"Live keys in the in-memory table.", nil, labels),
		fileBytes: prometheus.NewDesc("tidekv_store_file_bytes",
			"Size of the journal file.", nil, labels),
		logSize: prometheus.NewDesc("tidekv_store_log_records",
			"Records read or written since the file was last opened.", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.fileBytes
	ch <- c.logSize
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(s.Keys))
	ch <- prometheus.MustNewConstMetric(c.fileBytes, prometheus.GaugeValue, float64(s.FileBytes))
	ch <- prometheus.MustNewConstMetric(c.logSize, prometheus.GaugeValue, float64(s.LogSize))
}
