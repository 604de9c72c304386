package infraobs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"itchdl/shared/config"
	"itchdl/shared/domain/observability"
	"itchdl/shared/infrastructure/observability/adapters/prometheus"
	"itchdl/shared/infrastructure/observability/adapters/stdout"
)

// Factory builds the stdout logger and the configured metrics adapter.
// Logs go to Output (stderr when nil) so stdout stays free for the report.
type Factory struct {
	Output io.Writer
}

func (f *Factory) CreateObservability(cfg *config.Config) (observability.Logger, observability.Metrics, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration is required")
	}

	out := f.Output
	if out == nil {
		out = os.Stderr
	}
	jsonOutput := strings.EqualFold(cfg.LogFormat, "json")

	logger := stdout.NewLogger(out, stdout.LoggerOptions{
		JSON:  jsonOutput,
		Level: cfg.LogLevel,
	}).WithFields(map[string]interface{}{
		"service": cfg.ServiceName,
		"version": cfg.Version,
	})

	var metrics observability.Metrics
	switch cfg.Observability.MetricsProvider {
	case "", "noop":
		metrics = stdout.NoopMetrics{}
	case "stdout":
		metrics = stdout.NewMetrics(out, jsonOutput)
	case "prometheus":
		metrics = prometheus.New(cfg.ServiceName, cfg.Observability.MetricsFile)
	default:
		return nil, nil, fmt.Errorf("unsupported metrics provider: %s", cfg.Observability.MetricsProvider)
	}

	return logger, metrics, nil
}
