package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"itchdl/internal/domain"
	"itchdl/shared/domain/observability"
)

// Resolver expands one user input into content references
type Resolver interface {
	Resolve(ctx context.Context, input string) ([]domain.ContentRef, error)
}

// MetadataFetcher fetches the records of many references
type MetadataFetcher interface {
	FetchAll(ctx context.Context, refs []domain.ContentRef) []domain.FetchResult
}

// KeyLoader loads the user's download keys ahead of the metadata fetch
type KeyLoader interface {
	Load(ctx context.Context) error
}

// DownloadScheduler downloads the files of fetched records
type DownloadScheduler interface {
	Run(ctx context.Context, records []*domain.GameRecord, ledger *domain.Ledger)
}

// Pipeline runs one invocation: resolve, fetch all metadata, then
// download, then report
type Pipeline struct {
	resolver  Resolver
	keys      KeyLoader
	fetcher   MetadataFetcher
	scheduler DownloadScheduler
	logger    observability.Logger
	metrics   observability.Metrics
}

// NewPipeline wires the stages together. keys may be nil when no API key
// is configured.
func NewPipeline(
	resolver Resolver,
	keys KeyLoader,
	fetcher MetadataFetcher,
	scheduler DownloadScheduler,
	logger observability.Logger,
	metrics observability.Metrics,
) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		keys:      keys,
		fetcher:   fetcher,
		scheduler: scheduler,
		logger:    logger,
		metrics:   metrics,
	}
}

// ListURLs resolves input and returns the canonical game URLs without
// fetching anything else
func (p *Pipeline) ListURLs(ctx context.Context, input string) ([]string, error) {
	refs, err := p.resolver.Resolve(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", input, err)
	}

	urls := make([]string, len(refs))
	for i, ref := range refs {
		urls[i] = ref.URL
	}
	return urls, nil
}

// Run processes input end to end. Only a resolver failure is returned as
// an error; everything scoped to one title ends up in the report.
func (p *Pipeline) Run(ctx context.Context, input string) (*Report, error) {
	start := time.Now()
	logger := p.logger.WithFields(map[string]interface{}{"run_id": uuid.NewString()})

	refs, err := p.resolver.Resolve(ctx, input)
	if err != nil {
		logger.Error("Failed to resolve input", "input", input, "error", err)
		return nil, fmt.Errorf("failed to resolve %q: %w", input, err)
	}
	logger.Info("Resolved titles", "count", len(refs))

	if p.keys != nil && len(refs) > 0 {
		if err := p.keys.Load(ctx); err != nil {
			logger.Warn("Could not load download keys, paid titles may be skipped", "error", err)
		}
	}

	ledger := domain.NewLedger(refs)
	results := p.fetcher.FetchAll(ctx, refs)

	records := make([]*domain.GameRecord, 0, len(results))
	for _, result := range results {
		if result.Err != nil {
			p.recordFetchError(ctx, ledger, result, logger)
			continue
		}
		ledger.Describe(result.Ref.ID, result.Record.Title, result.Record.URL)
		records = append(records, result.Record)
	}

	p.scheduler.Run(ctx, records, ledger)
	ledger.FinalizeAll()

	report := BuildReport(ledger.Snapshot())
	p.recordMetrics(report, time.Since(start))

	logger.Info("Run finished",
		"titles", report.Titles,
		"success", report.Success,
		"partial", report.Partial,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"external_only", report.ExternalOnly,
		"bytes", report.Bytes,
		"duration", time.Since(start))

	return report, nil
}

func (p *Pipeline) recordFetchError(ctx context.Context, ledger *domain.Ledger, result domain.FetchResult, logger observability.Logger) {
	id := result.Ref.ID

	switch {
	case ctx.Err() != nil:
		ledger.Fail(id, reasonCancelled)
	case domain.IsSkippable(result.Err):
		logger.Warn("Skipping title", "game", id.String(), "reason", result.Err)
		ledger.Skip(id, result.Err.Error())
	default:
		logger.Error("Failed to fetch metadata", "game", id.String(), "error", result.Err)
		ledger.Fail(id, result.Err.Error())
	}
}

func (p *Pipeline) recordMetrics(report *Report, duration time.Duration) {
	p.metrics.RecordGauge("run.titles", float64(report.Titles), nil)
	p.metrics.RecordGauge("run.outcomes", float64(report.Success), map[string]string{"outcome": "success"})
	p.metrics.RecordGauge("run.outcomes", float64(report.Partial), map[string]string{"outcome": "partial_failure"})
	p.metrics.RecordGauge("run.outcomes", float64(report.Failed), map[string]string{"outcome": "failed"})
	p.metrics.RecordGauge("run.outcomes", float64(report.ExternalOnly), map[string]string{"outcome": "external_only"})
	p.metrics.RecordGauge("run.outcomes", float64(report.Skipped), map[string]string{"outcome": "skipped"})
	p.metrics.RecordHistogram("run.duration", duration.Seconds(), nil)
}
