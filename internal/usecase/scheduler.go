package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"itchdl/internal/domain"
	"itchdl/internal/domain/service"
	"itchdl/shared/domain/observability"
	"itchdl/shared/domain/retry"
	"itchdl/shared/domain/storage"
)

const reasonCancelled = "cancelled"

// SchedulerOptions controls the download stage
type SchedulerOptions struct {
	Workers       int
	SavePage      bool
	WriteMetadata bool
}

// Scheduler downloads the hosted uploads of many titles through one
// bounded worker pool and records every result in a ledger
type Scheduler struct {
	opener  domain.UploadOpener
	storage storage.ObjectStorage
	paths   *service.StoragePathService
	policy  *retry.Policy
	options SchedulerOptions
	logger  observability.Logger
	metrics observability.Metrics
}

func NewScheduler(
	opener domain.UploadOpener,
	store storage.ObjectStorage,
	paths *service.StoragePathService,
	policy *retry.Policy,
	opts SchedulerOptions,
	logger observability.Logger,
	metrics observability.Metrics,
) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &Scheduler{
		opener:  opener,
		storage: store,
		paths:   paths,
		policy:  policy,
		options: opts,
		logger:  logger.WithFields(map[string]interface{}{"component": "scheduler"}),
		metrics: metrics.WithTags(map[string]string{"component": "scheduler"}),
	}
}

// Run downloads every hosted upload of records. It returns once all tasks
// finished or were abandoned; per-file errors end up in the ledger.
func (s *Scheduler) Run(ctx context.Context, records []*domain.GameRecord, ledger *domain.Ledger) {
	var tasks []domain.DownloadTask

	for _, record := range records {
		ledger.Describe(record.ID, record.Title, record.URL)

		for _, link := range record.ExternalURLs() {
			ledger.RecordExternal(record.ID, link)
		}
		for _, invalid := range record.Invalid {
			ledger.RecordFailure(record.ID, domain.FileFailure{UploadID: invalid.UploadID, Reason: invalid.Reason})
		}

		tasks = append(tasks, s.paths.AssignKeys(record)...)
	}

	s.logger.Info("Starting downloads", "titles", len(records), "files", len(tasks), "workers", s.options.Workers)

	var g errgroup.Group
	g.SetLimit(s.options.Workers)

	for _, task := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				s.fail(task, ledger, reasonCancelled)
				return nil
			}
			s.runTask(ctx, task, ledger)
			return nil
		})
	}
	g.Wait()

	for _, record := range records {
		if ctx.Err() == nil {
			s.writeSidecars(ctx, record, ledger)
		}
		ledger.Finalize(record.ID)
	}
}

func (s *Scheduler) runTask(ctx context.Context, task domain.DownloadTask, ledger *domain.Ledger) {
	logger := s.logger.WithFields(map[string]interface{}{
		"game":      task.Game.ID.String(),
		"upload_id": task.Upload.ID,
		"key":       task.Key,
	})
	ledger.RecordAttempt(task.Game.ID)
	defer s.recoverTask(task, ledger, logger)

	if size, ok := s.present(ctx, task, logger); ok {
		logger.Debug("File already downloaded, skipping", "size", size)
		s.metrics.IncrementCounter("download.file.skipped", nil)
		ledger.RecordFile(task.Game.ID, task.Key, size, true)
		return
	}

	start := time.Now()
	var written int64

	err := s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			logger.Info("Retrying download", "attempt", attempt+1, "max_attempts", s.policy.MaxAttempts())
		}
		n, err := s.download(ctx, task)
		written = n
		return err
	})
	s.metrics.RecordHistogram("download.duration", time.Since(start).Seconds(), nil)

	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = reasonCancelled
		}
		logger.Error("Download failed", "error", err)
		s.fail(task, ledger, reason)
		return
	}

	if !s.sizeMatches(ctx, task, written) {
		logger.Error("Downloaded file has the wrong size", "bytes", written, "expected", task.Upload.Size)
		s.fail(task, ledger, fmt.Sprintf("size mismatch: expected %d bytes, got %d", task.Upload.Size, written))
		return
	}

	logger.Info("Downloaded file", "bytes", written, "duration", time.Since(start))
	s.metrics.IncrementCounter("download.file.success", nil)
	s.metrics.RecordHistogram("download.bytes", float64(written), nil)
	ledger.RecordFile(task.Game.ID, task.Key, written, false)
}

// recoverTask turns a panicking task into a file failure so the other
// workers keep running
func (s *Scheduler) recoverTask(task domain.DownloadTask, ledger *domain.Ledger, logger observability.Logger) {
	if r := recover(); r != nil {
		logger.Error("Panic recovered",
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
		s.fail(task, ledger, fmt.Sprintf("panic recovered: %v", r))
	}
}

func (s *Scheduler) fail(task domain.DownloadTask, ledger *domain.Ledger, reason string) {
	s.metrics.IncrementCounter("download.file.failed", nil)
	ledger.RecordFailure(task.Game.ID, domain.FileFailure{
		UploadID: task.Upload.ID,
		Filename: task.Upload.Filename,
		Reason:   reason,
	})
}

// present reports whether the destination already holds this upload. A
// size match counts; an upload of unknown size matches any stored file.
func (s *Scheduler) present(ctx context.Context, task domain.DownloadTask, logger observability.Logger) (int64, bool) {
	info, err := s.storage.Stat(ctx, task.Key)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			logger.Warn("Could not check existing file", "error", err)
		}
		return 0, false
	}

	if s.sizeMatches(ctx, task, info.Size) {
		return info.Size, true
	}

	logger.Info("Existing file has the wrong size, downloading again",
		"size", info.Size, "expected", task.Upload.Size)
	return 0, false
}

// sizeMatches compares a stored file with the size the API reported. For
// zip and tar archives the unpacked size is accepted as well. Uploads of
// unknown size match anything.
func (s *Scheduler) sizeMatches(ctx context.Context, task domain.DownloadTask, size int64) bool {
	if task.Upload.Size <= 0 || size == task.Upload.Size {
		return true
	}

	unpacked, err := unpackedSize(ctx, s.storage, task.Key, size)
	return err == nil && unpacked == task.Upload.Size
}

// download makes one attempt at streaming an upload into storage. Read
// failures are transient, storage failures are not.
func (s *Scheduler) download(ctx context.Context, task domain.DownloadTask) (int64, error) {
	body, err := s.opener.OpenUpload(ctx, task.Upload.ID, task.Game.DownloadKeyID)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	reader := &trackedReader{reader: body}
	err = s.storage.Put(ctx, task.Key, reader, storage.ObjectMetadata{
		ContentType:   body.ContentType,
		ContentLength: body.Size,
		UserMetadata: map[string]string{
			"upload_id": strconv.FormatInt(task.Upload.ID, 10),
			"game_id":   strconv.FormatInt(task.Game.GameID, 10),
		},
	})
	if err == nil {
		return reader.n, nil
	}

	source := fmt.Sprintf("upload %d", task.Upload.ID)
	switch {
	case ctx.Err() != nil:
		return reader.n, ctx.Err()
	case reader.err != nil:
		return reader.n, &domain.FetchError{URL: source, Retryable: true, Err: reader.err}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return reader.n, &domain.FetchError{URL: source, Retryable: true, Err: err}
	default:
		return reader.n, &domain.WriteError{Key: task.Key, Err: err}
	}
}

// trackedReader remembers read errors so they can be told apart from
// write errors surfacing from the same copy
type trackedReader struct {
	reader io.Reader
	n      int64
	err    error
}

func (r *trackedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.n += int64(n)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

// gameMetadata is the metadata.json document written next to the files
type gameMetadata struct {
	GameID            int64                `json:"game_id"`
	Title             string               `json:"title"`
	URL               string               `json:"url"`
	Author            string               `json:"author"`
	AuthorURL         string               `json:"author_url,omitempty"`
	Description       string               `json:"description,omitempty"`
	CoverURL          string               `json:"cover_url,omitempty"`
	Screenshots       []string             `json:"screenshots,omitempty"`
	Rating            *domain.Rating       `json:"rating,omitempty"`
	UpdatedAt         *time.Time           `json:"updated_at,omitempty"`
	ReleasedAt        *time.Time           `json:"released_at,omitempty"`
	PublishedAt       *time.Time           `json:"published_at,omitempty"`
	Extra             *domain.GameInfo     `json:"extra,omitempty"`
	Uploads           []domain.UploadEntry `json:"uploads"`
	Files             []string             `json:"files"`
	ExternalDownloads []string             `json:"external_downloads"`
	Errors            []string             `json:"errors"`
	SavedAt           time.Time            `json:"saved_at"`
}

func (s *Scheduler) writeSidecars(ctx context.Context, record *domain.GameRecord, ledger *domain.Ledger) {
	if s.options.SavePage && len(record.PageHTML) > 0 {
		key := s.paths.PageKey(record.ID)
		if err := s.putBytes(ctx, key, record.PageHTML, "text/html; charset=utf-8"); err != nil {
			ledger.RecordFailure(record.ID, domain.FileFailure{Filename: "index.html", Reason: err.Error()})
		}
	}

	if !s.options.WriteMetadata {
		return
	}

	outcome, _ := ledger.Get(record.ID)
	doc := gameMetadata{
		GameID:            record.GameID,
		Title:             record.Title,
		URL:               record.URL,
		Author:            record.Author,
		AuthorURL:         record.AuthorURL,
		Description:       record.Description,
		CoverURL:          record.CoverURL,
		Screenshots:       record.Screenshots,
		Rating:            record.Rating,
		Extra:             record.Info,
		Uploads:           record.Uploads,
		Files:             outcome.Paths,
		ExternalDownloads: outcome.ExternalURLs,
		Errors:            make([]string, 0, len(outcome.Failures)),
		SavedAt:           time.Now().UTC(),
	}
	if record.AuthorName != "" {
		doc.Author = record.AuthorName
	}
	if record.Info != nil {
		doc.UpdatedAt = record.Info.UpdatedAt
		doc.ReleasedAt = record.Info.ReleasedAt
		doc.PublishedAt = record.Info.PublishedAt
	}
	for _, failure := range outcome.Failures {
		doc.Errors = append(doc.Errors, failureText(failure))
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		s.logger.Error("Failed to encode metadata", "game", record.ID.String(), "error", err)
		return
	}

	key := s.paths.MetadataKey(record.ID)
	if err := s.putBytes(ctx, key, data, "application/json"); err != nil {
		ledger.RecordFailure(record.ID, domain.FileFailure{Filename: "metadata.json", Reason: err.Error()})
	}
}

func (s *Scheduler) putBytes(ctx context.Context, key string, data []byte, contentType string) error {
	err := s.storage.Put(ctx, key, bytes.NewReader(data), storage.ObjectMetadata{
		ContentType:   contentType,
		ContentLength: int64(len(data)),
	})
	if err != nil {
		s.logger.Error("Failed to write file", "key", key, "error", err)
		return &domain.WriteError{Key: key, Err: err}
	}
	return nil
}

func failureText(f domain.FileFailure) string {
	switch {
	case f.Filename != "" && f.UploadID != 0:
		return fmt.Sprintf("%s (upload %d): %s", f.Filename, f.UploadID, f.Reason)
	case f.Filename != "":
		return fmt.Sprintf("%s: %s", f.Filename, f.Reason)
	case f.UploadID != 0:
		return fmt.Sprintf("upload %d: %s", f.UploadID, f.Reason)
	default:
		return f.Reason
	}
}
