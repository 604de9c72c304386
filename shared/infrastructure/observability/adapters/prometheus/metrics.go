// Package prometheus adapts observability.Metrics onto the Prometheus
// client library. Metrics live in a private registry and are exported on
// Flush to a node-exporter textfile, which suits a short-lived CLI run that
// has no scrape endpoint.
package prometheus

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"itchdl/shared/domain/observability"
)

// sizeBuckets are used for histograms whose name ends in "bytes".
// Buckets: 1KB, 10KB, 100KB, 1MB, 10MB, 100MB, 1GB, 10GB
var sizeBuckets = []float64{
	1024,
	10240,
	102400,
	1048576,
	10485760,
	104857600,
	1073741824,
	10737418240,
}

// registry owns every collector created by a Metrics tree.
type registry struct {
	mu         sync.Mutex
	namespace  string
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labels     map[string][]string
}

// Metrics implements observability.Metrics. Collectors are created lazily on
// first use of a metric name; the label set seen first is fixed for that
// name, later samples fill missing labels with "" and drop unknown ones.
type Metrics struct {
	tags     map[string]string
	registry *registry
	textfile string
}

// New creates a Metrics adapter. namespace prefixes every metric name and
// textfile, when non-empty, is where Flush writes the exposition.
//
// A dotted name such as "download.file.success" becomes
// "{namespace}_download_file_success_total" for counters.
func New(namespace, textfile string) *Metrics {
	return &Metrics{
		tags: make(map[string]string),
		registry: &registry{
			namespace:  sanitize(namespace),
			reg:        prometheus.NewRegistry(),
			counters:   make(map[string]*prometheus.CounterVec),
			histograms: make(map[string]*prometheus.HistogramVec),
			gauges:     make(map[string]*prometheus.GaugeVec),
			labels:     make(map[string][]string),
		},
		textfile: textfile,
	}
}

// IncrementCounter increments {namespace}_{name}_total.
func (m *Metrics) IncrementCounter(name string, tags map[string]string) {
	all := m.combineTags(tags)
	vec, labels := m.registry.counter(name, all)
	vec.WithLabelValues(labelValues(labels, all)...).Inc()
}

// RecordHistogram observes value in {namespace}_{name}. Names ending in
// "bytes" use size buckets, everything else the client defaults.
func (m *Metrics) RecordHistogram(name string, value float64, tags map[string]string) {
	all := m.combineTags(tags)
	vec, labels := m.registry.histogram(name, all)
	vec.WithLabelValues(labelValues(labels, all)...).Observe(value)
}

// RecordGauge sets {namespace}_{name}.
func (m *Metrics) RecordGauge(name string, value float64, tags map[string]string) {
	all := m.combineTags(tags)
	vec, labels := m.registry.gauge(name, all)
	vec.WithLabelValues(labelValues(labels, all)...).Set(value)
}

// WithTags returns a Metrics sharing the same registry with extra default labels.
func (m *Metrics) WithTags(tags map[string]string) observability.Metrics {
	return &Metrics{
		tags:     m.combineTags(tags),
		registry: m.registry,
		textfile: m.textfile,
	}
}

// Registry exposes the underlying registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry.reg
}

// Flush writes the current state of the registry to the textfile.
// It is a no-op when no textfile was configured.
func (m *Metrics) Flush() error {
	if m.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.textfile, m.registry.reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) combineTags(tags map[string]string) map[string]string {
	all := make(map[string]string, len(m.tags)+len(tags))
	for k, v := range m.tags {
		all[k] = v
	}
	for k, v := range tags {
		all[k] = v
	}
	return all
}

func (r *registry) counter(name string, tags map[string]string) (*prometheus.CounterVec, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vec, ok := r.counters[name]; ok {
		return vec, r.labels["counter:"+name]
	}

	labels := labelNames(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      sanitize(name) + "_total",
		Help:      fmt.Sprintf("Count of %s events", name),
	}, labels)
	r.reg.MustRegister(vec)

	r.counters[name] = vec
	r.labels["counter:"+name] = labels
	return vec, labels
}

func (r *registry) histogram(name string, tags map[string]string) (*prometheus.HistogramVec, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vec, ok := r.histograms[name]; ok {
		return vec, r.labels["histogram:"+name]
	}

	buckets := prometheus.DefBuckets
	if strings.HasSuffix(name, "bytes") {
		buckets = sizeBuckets
	}

	labels := labelNames(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      sanitize(name),
		Help:      fmt.Sprintf("Distribution of %s", name),
		Buckets:   buckets,
	}, labels)
	r.reg.MustRegister(vec)

	r.histograms[name] = vec
	r.labels["histogram:"+name] = labels
	return vec, labels
}

func (r *registry) gauge(name string, tags map[string]string) (*prometheus.GaugeVec, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vec, ok := r.gauges[name]; ok {
		return vec, r.labels["gauge:"+name]
	}

	labels := labelNames(tags)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      sanitize(name),
		Help:      fmt.Sprintf("Current value of %s", name),
	}, labels)
	r.reg.MustRegister(vec)

	r.gauges[name] = vec
	r.labels["gauge:"+name] = labels
	return vec, labels
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, sanitize(k))
	}
	sort.Strings(names)
	return names
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for k, v := range tags {
		byLabel[sanitize(k)] = v
	}

	values := make([]string, len(labels))
	for i, l := range labels {
		values[i] = byLabel[l]
	}
	return values
}

// sanitize maps a dotted or dashed name onto the Prometheus charset
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
