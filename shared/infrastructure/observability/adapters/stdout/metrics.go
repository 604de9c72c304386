package stdout

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"itchdl/shared/domain/observability"
)

// store is shared by every Metrics derived through WithTags
type store struct {
	mu         sync.RWMutex
	counters   map[string]int64
	histograms map[string][]float64
	gauges     map[string]float64
}

// Metrics implements observability.Metrics by printing each sample.
// Values are also kept in memory so tests can inspect them.
type Metrics struct {
	tags   map[string]string
	logger *log.Logger
	json   bool
	store  *store
}

// NewMetrics creates a new stdout metrics instance writing to w
func NewMetrics(w io.Writer, jsonOutput bool) *Metrics {
	return &Metrics{
		tags:   make(map[string]string),
		logger: log.New(w, "", 0),
		json:   jsonOutput,
		store: &store{
			counters:   make(map[string]int64),
			histograms: make(map[string][]float64),
			gauges:     make(map[string]float64),
		},
	}
}

// IncrementCounter increments a counter metric
func (m *Metrics) IncrementCounter(name string, tags map[string]string) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	key := m.buildKey(name, tags)
	m.store.counters[key]++

	m.logMetric("COUNTER", name, float64(m.store.counters[key]), tags)
}

// RecordHistogram records a histogram value
func (m *Metrics) RecordHistogram(name string, value float64, tags map[string]string) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	key := m.buildKey(name, tags)
	m.store.histograms[key] = append(m.store.histograms[key], value)

	stats := calculateStats(m.store.histograms[key])
	m.logHistogram(name, value, tags, stats)
}

// RecordGauge records a gauge value
func (m *Metrics) RecordGauge(name string, value float64, tags map[string]string) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	key := m.buildKey(name, tags)
	m.store.gauges[key] = value

	m.logMetric("GAUGE", name, value, tags)
}

// WithTags returns a new Metrics instance with additional tags
func (m *Metrics) WithTags(tags map[string]string) observability.Metrics {
	return &Metrics{
		tags:   m.combineTags(tags),
		logger: m.logger,
		json:   m.json,
		store:  m.store, // Share the same storage
	}
}

// GetCounter returns the current value of a counter (useful for testing)
func (m *Metrics) GetCounter(name string, tags map[string]string) int64 {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	return m.store.counters[m.buildKey(name, tags)]
}

// GetHistogram returns all values recorded for a histogram (useful for testing)
func (m *Metrics) GetHistogram(name string, tags map[string]string) []float64 {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	values := m.store.histograms[m.buildKey(name, tags)]
	result := make([]float64, len(values))
	copy(result, values)
	return result
}

// GetGauge returns the current value of a gauge (useful for testing)
func (m *Metrics) GetGauge(name string, tags map[string]string) float64 {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	return m.store.gauges[m.buildKey(name, tags)]
}

// buildKey creates a unique key for a metric with tags
func (m *Metrics) buildKey(name string, tags map[string]string) string {
	tagStr := formatTags(m.combineTags(tags), ":", ",")
	if tagStr == "" {
		return name
	}
	return fmt.Sprintf("%s{%s}", name, tagStr)
}

// combineTags merges default tags with provided tags
func (m *Metrics) combineTags(tags map[string]string) map[string]string {
	allTags := make(map[string]string, len(m.tags)+len(tags))
	for k, v := range m.tags {
		allTags[k] = v
	}
	for k, v := range tags {
		allTags[k] = v
	}
	return allTags
}

func (m *Metrics) logMetric(metricType string, name string, value float64, tags map[string]string) {
	allTags := m.combineTags(tags)

	if m.json {
		m.logJSON(map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"type":      "metric",
			"metric":    metricType,
			"name":      name,
			"value":     value,
			"tags":      allTags,
		})
		return
	}

	m.logger.Printf("%s [METRIC] %s %s=%.2f%s",
		time.Now().UTC().Format(time.RFC3339), metricType, name, value, prefixed(formatTags(allTags, "=", " ")))
}

func (m *Metrics) logHistogram(name string, value float64, tags map[string]string, stats histogramStats) {
	allTags := m.combineTags(tags)

	if m.json {
		m.logJSON(map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"type":      "metric",
			"metric":    "HISTOGRAM",
			"name":      name,
			"value":     value,
			"stats": map[string]interface{}{
				"count": stats.count,
				"min":   stats.min,
				"max":   stats.max,
				"avg":   stats.avg,
			},
			"tags": allTags,
		})
		return
	}

	m.logger.Printf("%s [METRIC] HISTOGRAM %s=%.2f count=%d min=%.2f max=%.2f avg=%.2f%s",
		time.Now().UTC().Format(time.RFC3339), name, value,
		stats.count, stats.min, stats.max, stats.avg, prefixed(formatTags(allTags, "=", " ")))
}

func (m *Metrics) logJSON(entry map[string]interface{}) {
	data, err := json.Marshal(entry)
	if err != nil {
		m.logger.Printf("Failed to marshal metric: %v", err)
		return
	}
	m.logger.Println(string(data))
}

// formatTags renders tags in key order so output and keys are stable
func formatTags(tags map[string]string, kvSep, sep string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+kvSep+tags[k])
	}
	return strings.Join(pairs, sep)
}

func prefixed(s string) string {
	if s == "" {
		return ""
	}
	return " " + s
}

// histogramStats holds basic statistics for histogram values
type histogramStats struct {
	count int
	min   float64
	max   float64
	avg   float64
}

// calculateStats computes basic statistics for histogram values
func calculateStats(values []float64) histogramStats {
	if len(values) == 0 {
		return histogramStats{}
	}

	stats := histogramStats{
		count: len(values),
		min:   values[0],
		max:   values[0],
	}

	sum := 0.0
	for _, v := range values {
		sum += v
		if v < stats.min {
			stats.min = v
		}
		if v > stats.max {
			stats.max = v
		}
	}

	stats.avg = sum / float64(len(values))
	return stats
}
