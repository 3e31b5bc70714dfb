package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promCollector adapts a Registry to the prometheus.Collector interface so
// the hand-rolled counters/gauges/histograms in this package can be scraped
// by github.com/prometheus/client_golang's HTTP handler alongside its own
// process and Go runtime collectors.
type promCollector struct {
	registry  *Registry
	namespace string
}

// NewPrometheusClientHandler returns an http.Handler backed by
// prometheus/client_golang that exposes registry's metrics plus the standard
// process and Go collectors. namespace, if non-empty, is prepended to every
// metric name.
func NewPrometheusClientHandler(registry *Registry, namespace string) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&promCollector{registry: registry, namespace: namespace})
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector. Metric identities are dynamic
// (the registry grows as new names are first accessed), so no fixed
// descriptors are sent; client_golang tolerates unchecked collectors.
func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.mu.RLock()
	counters := make(map[string]*Counter, len(c.registry.counters))
	for k, v := range c.registry.counters {
		counters[k] = v
	}
	gauges := make(map[string]*Gauge, len(c.registry.gauges))
	for k, v := range c.registry.gauges {
		gauges[k] = v
	}
	histograms := make(map[string]*Histogram, len(c.registry.histograms))
	for k, v := range c.registry.histograms {
		histograms[k] = v
	}
	c.registry.mu.RUnlock()

	for name, ctr := range counters {
		desc := prometheus.NewDesc(c.fqName(name), name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(ctr.Value()))
	}
	for name, g := range gauges {
		desc := prometheus.NewDesc(c.fqName(name), name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(g.Value()))
	}
	for name, h := range histograms {
		countDesc := prometheus.NewDesc(c.fqName(name)+"_count", name+" count", nil, nil)
		ch <- prometheus.MustNewConstMetric(countDesc, prometheus.GaugeValue, float64(h.Count()))
		sumDesc := prometheus.NewDesc(c.fqName(name)+"_sum", name+" sum", nil, nil)
		ch <- prometheus.MustNewConstMetric(sumDesc, prometheus.GaugeValue, h.Sum())
	}
}

func (c *promCollector) fqName(name string) string {
	sanitized := sanitizeMetricName(name)
	if c.namespace == "" {
		return sanitized
	}
	return c.namespace + "_" + sanitized
}

func sanitizeMetricName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '.' || r == '-' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
