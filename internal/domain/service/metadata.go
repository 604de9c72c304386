package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"itchdl/internal/domain"
	"itchdl/shared/domain/observability"
)

// MetadataOptions controls what the fetcher keeps from each title
type MetadataOptions struct {
	// SavePage keeps the raw page HTML on the record
	SavePage bool
	// FilterGlob and FilterRegex drop uploads whose filename does not match
	FilterGlob  string
	FilterRegex string
	// Parallel bounds concurrent fetches in FetchAll
	Parallel int
	// Keys supplies download key IDs for titles whose reference has none
	Keys KeyLookup
}

// KeyLookup finds the user's download key for a game ID
type KeyLookup interface {
	Lookup(gameID int64) int64
}

// MetadataService builds GameRecords from the game page and the uploads
// API
type MetadataService struct {
	client  domain.CatalogClient
	options MetadataOptions
	regex   *regexp.Regexp
	logger  observability.Logger
	metrics observability.Metrics
}

// NewMetadataService validates the filters and creates the fetcher
func NewMetadataService(client domain.CatalogClient, opts MetadataOptions, logger observability.Logger, metrics observability.Metrics) (*MetadataService, error) {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}

	if opts.FilterGlob != "" {
		if _, err := path.Match(opts.FilterGlob, ""); err != nil {
			return nil, fmt.Errorf("invalid file glob %q: %w", opts.FilterGlob, err)
		}
	}

	var re *regexp.Regexp
	if opts.FilterRegex != "" {
		compiled, err := regexp.Compile(`^(?:` + opts.FilterRegex + `)$`)
		if err != nil {
			return nil, fmt.Errorf("invalid file regex %q: %w", opts.FilterRegex, err)
		}
		re = compiled
	}

	return &MetadataService{
		client:  client,
		options: opts,
		regex:   re,
		logger:  logger.WithFields(map[string]interface{}{"component": "metadata"}),
		metrics: metrics.WithTags(map[string]string{"component": "metadata"}),
	}, nil
}

// FetchAll fetches every reference with bounded concurrency. Results keep
// the order of refs; failures are carried in FetchResult.Err.
func (s *MetadataService) FetchAll(ctx context.Context, refs []domain.ContentRef) []domain.FetchResult {
	results := make([]domain.FetchResult, len(refs))

	var g errgroup.Group
	g.SetLimit(s.options.Parallel)

	for i, ref := range refs {
		results[i].Ref = ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Record, results[i].Err = s.Fetch(ctx, ref)
			return nil
		})
	}
	g.Wait()

	return results
}

// Fetch performs the metadata call and the file listing call for one title
func (s *MetadataService) Fetch(ctx context.Context, ref domain.ContentRef) (*domain.GameRecord, error) {
	logger := s.logger.WithFields(map[string]interface{}{"game": ref.ID.String()})
	logger.Debug("Fetching metadata", "url", ref.URL)

	record, err := s.fetch(ctx, ref, logger)
	if err != nil {
		s.metrics.IncrementCounter("metadata.fetch.failed", nil)
		return nil, err
	}

	s.metrics.IncrementCounter("metadata.fetch.success", nil)
	logger.Info("Fetched metadata", "title", record.Title, "uploads", len(record.Uploads),
		"invalid", len(record.Invalid))
	return record, nil
}

func (s *MetadataService) fetch(ctx context.Context, ref domain.ContentRef, logger observability.Logger) (*domain.GameRecord, error) {
	page, err := s.client.FetchPage(ctx, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch game page: %w", err)
	}

	doc, err := parseHTML(page)
	if err != nil {
		return nil, &domain.ParseError{Source: ref.URL, Reason: "invalid game page", Err: err}
	}

	gameID, err := s.gameID(ctx, ref, page, doc)
	if err != nil {
		return nil, err
	}

	record := &domain.GameRecord{
		ID:            ref.ID,
		GameID:        gameID,
		Title:         gameTitle(doc, ref),
		URL:           ref.URL,
		Author:        ref.ID.Author(),
		CoverURL:      metaContent(doc, "property", "og:image"),
		DownloadKeyID: ref.DownloadKeyID,
	}
	if record.DownloadKeyID == 0 && s.options.Keys != nil {
		record.DownloadKeyID = s.options.Keys.Lookup(gameID)
	}

	details := readPageDetails(doc, ref.URL)
	record.Info = details.info
	record.AuthorName = details.authorName
	record.AuthorURL = details.authorURL
	record.Rating = details.rating
	record.Screenshots = details.screenshots

	record.Description = metaContent(doc, "property", "og:description")
	if record.Description == "" {
		record.Description = metaContent(doc, "name", "description")
	}

	if s.options.SavePage {
		record.PageHTML = page
	}

	if err := s.loadUploads(ctx, record, logger); err != nil {
		return nil, err
	}

	return record, nil
}

// gameID reads the numeric ID from the itch:path meta tag, then from the
// I.ViewGame initializer, then from the source hint and finally from the
// game's data.json.
func (s *MetadataService) gameID(ctx context.Context, ref domain.ContentRef, page []byte, doc *goquery.Document) (int64, error) {
	if itchPath := metaContent(doc, "name", "itch:path"); itchPath != "" {
		if id, err := strconv.ParseInt(itchPath[strings.LastIndex(itchPath, "/")+1:], 10, 64); err == nil {
			return id, nil
		}
	}

	var found int64
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if !strings.Contains(text, "I.ViewGame") {
			return true
		}
		found, _ = initializerInt(text, "I.ViewGame", "id")
		return false
	})
	if found == 0 {
		found, _ = initializerInt(string(page), "I.ViewGame", "id")
	}
	if found != 0 {
		return found, nil
	}

	if ref.GameID != 0 {
		return ref.GameID, nil
	}

	// data.json lives on the public game host, so it is fetched like a
	// page and never sees the API key
	dataURL := strings.TrimRight(ref.URL, "/") + "/data.json"
	body, err := s.client.FetchPage(ctx, dataURL)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch game data: %w", err)
	}

	var data struct {
		ID     int64    `json:"id"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, &domain.ParseError{Source: dataURL, Reason: "invalid game data", Err: err}
	}
	if len(data.Errors) > 0 {
		return 0, &domain.AccessDeniedError{URL: dataURL, Reason: strings.Join(data.Errors, "; ")}
	}
	if data.ID == 0 {
		return 0, &domain.ParseError{Source: ref.URL, Reason: "could not find the game ID"}
	}
	return data.ID, nil
}

func gameTitle(doc *goquery.Document, ref domain.ContentRef) string {
	if name := productName(doc); name != "" {
		return name
	}
	if h1 := strings.TrimSpace(doc.Find("h1.game_title").First().Text()); h1 != "" {
		return h1
	}
	if ref.Title != "" {
		return ref.Title
	}
	return ref.ID.Game()
}

// upload is the API shape of one upload. Pointer fields are mandatory.
type upload struct {
	ID          *int64   `json:"id"`
	Filename    *string  `json:"filename"`
	Storage     *string  `json:"storage"`
	Size        int64    `json:"size"`
	DisplayName string   `json:"display_name"`
	Windows     flag     `json:"p_windows"`
	Linux       flag     `json:"p_linux"`
	OSX         flag     `json:"p_osx"`
	Android     flag     `json:"p_android"`
	Traits      []string `json:"traits"`
}

// flag accepts both booleans and the 0/1 integers older responses use
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

func (u upload) validate() error {
	switch {
	case u.ID == nil:
		return &domain.SchemaError{Record: "upload", Field: "id"}
	case u.Filename == nil:
		return &domain.SchemaError{Record: "upload", Field: "filename"}
	case u.Storage == nil:
		return &domain.SchemaError{Record: "upload", Field: "storage"}
	}
	return nil
}

func (u upload) platforms() []string {
	set := map[string]bool{
		"windows": bool(u.Windows),
		"linux":   bool(u.Linux),
		"osx":     bool(u.OSX),
		"android": bool(u.Android),
	}
	for _, trait := range u.Traits {
		if name, ok := strings.CutPrefix(trait, "p_"); ok {
			set[name] = true
		}
	}

	var out []string
	for _, name := range []string{"windows", "linux", "osx", "android"} {
		if set[name] {
			out = append(out, name)
		}
	}
	return out
}

func (s *MetadataService) loadUploads(ctx context.Context, record *domain.GameRecord, logger observability.Logger) error {
	var query url.Values
	if record.DownloadKeyID > 0 {
		query = url.Values{"download_key_id": []string{strconv.FormatInt(record.DownloadKeyID, 10)}}
	}

	var data struct {
		Uploads []json.RawMessage `json:"uploads"`
	}
	if err := s.client.GetJSON(ctx, fmt.Sprintf("/games/%d/uploads", record.GameID), query, &data); err != nil {
		return fmt.Errorf("failed to fetch game uploads: %w", err)
	}
	logger.Debug("Found uploads", "count", len(data.Uploads))

	for _, raw := range data.Uploads {
		var u upload
		if err := json.Unmarshal(raw, &u); err != nil {
			record.Invalid = append(record.Invalid, domain.InvalidUpload{
				Reason: fmt.Sprintf("malformed upload: %v", err),
			})
			continue
		}
		if err := u.validate(); err != nil {
			invalid := domain.InvalidUpload{Reason: err.Error()}
			if u.ID != nil {
				invalid.UploadID = *u.ID
			}
			logger.Warn("Rejected upload", "reason", invalid.Reason, "upload_id", invalid.UploadID)
			record.Invalid = append(record.Invalid, invalid)
			continue
		}

		if !s.matches(*u.Filename) {
			logger.Info("Upload does not match the file filters, skipping", "filename", *u.Filename)
			continue
		}

		entry := domain.UploadEntry{
			ID:          *u.ID,
			Filename:    *u.Filename,
			DisplayName: u.DisplayName,
			Size:        u.Size,
			Platforms:   u.platforms(),
			External:    *u.Storage == "external",
		}

		if entry.External {
			entry.ExternalURL = s.externalURL(ctx, record, entry.ID, logger)
		}

		record.Uploads = append(record.Uploads, entry)
	}

	return nil
}

// externalURL resolves where an external upload points to. When that
// fails the game page stands in, so the user still has a link to follow.
func (s *MetadataService) externalURL(ctx context.Context, record *domain.GameRecord, uploadID int64, logger observability.Logger) string {
	location, err := s.client.ExternalURL(ctx, uploadID, record.DownloadKeyID)
	if err != nil || location == "" {
		logger.Warn("Could not resolve external upload, using the game page", "upload_id", uploadID, "error", err)
		return record.URL
	}
	logger.Debug("Found external download URL", "upload_id", uploadID, "url", location)
	return location
}

func (s *MetadataService) matches(filename string) bool {
	if s.options.FilterGlob != "" {
		if ok, _ := path.Match(s.options.FilterGlob, filename); !ok {
			return false
		}
	}
	if s.regex != nil && !s.regex.MatchString(filename) {
		return false
	}
	return true
}
