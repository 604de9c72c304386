package stdout

import "itchdl/shared/domain/observability"

// NoopMetrics discards every sample
type NoopMetrics struct{}

func (NoopMetrics) IncrementCounter(string, map[string]string)         {}
func (NoopMetrics) RecordHistogram(string, float64, map[string]string) {}
func (NoopMetrics) RecordGauge(string, float64, map[string]string)     {}

func (n NoopMetrics) WithTags(map[string]string) observability.Metrics { return n }
