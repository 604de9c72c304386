package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"itchdl/internal/domain"
	"itchdl/shared/domain/observability"
)

// Sections of itch.io that list games through an RSS feed
var browseSections = map[string]bool{
	"games":          true,
	"tools":          true,
	"game-assets":    true,
	"comics":         true,
	"books":          true,
	"physical-games": true,
	"soundtracks":    true,
	"game-mods":      true,
	"misc":           true,
}

// entry is one game discovered by a source, before canonicalization
type entry struct {
	URL           string
	GameID        int64
	Title         string
	DownloadKeyID int64
}

// gameEntry matches the game objects of jam entries, collections, owned
// keys and local entries files
type gameEntry struct {
	ID    int64      `json:"id"`
	URL   string     `json:"url"`
	Title string     `json:"title"`
	Game  *gameEntry `json:"game"`
}

func (g gameEntry) normalize() entry {
	if g.Game != nil {
		return g.Game.normalize()
	}
	return entry{URL: g.URL, GameID: g.ID, Title: g.Title}
}

// ResolverService turns one user input into the ordered, deduplicated
// list of titles to download
type ResolverService struct {
	client   domain.CatalogClient
	webBase  string
	baseHost string
	logger   observability.Logger
	metrics  observability.Metrics
}

// NewResolverService creates a resolver for the site at webBase
// (https://itch.io in production)
func NewResolverService(client domain.CatalogClient, webBase string, logger observability.Logger, metrics observability.Metrics) (*ResolverService, error) {
	u, err := url.Parse(strings.TrimRight(webBase, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid web base url %q", webBase)
	}

	return &ResolverService{
		client:   client,
		webBase:  u.Scheme + "://" + u.Host,
		baseHost: strings.ToLower(u.Host),
		logger:   logger.WithFields(map[string]interface{}{"component": "resolver"}),
		metrics:  metrics.WithTags(map[string]string{"component": "resolver"}),
	}, nil
}

// Resolve classifies input and expands it into content references
func (s *ResolverService) Resolve(ctx context.Context, input string) ([]domain.ContentRef, error) {
	spec, err := s.Classify(input)
	if err != nil {
		return nil, err
	}
	return s.Expand(ctx, spec)
}

// Classify decides what kind of source input names without any network
// access. Local files are told apart by their first non-blank byte.
func (s *ResolverService) Classify(input string) (domain.SourceSpec, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return domain.SourceSpec{}, &domain.UnsupportedSourceError{Input: input, Reason: "empty input"}
	}

	if rest, ok := strings.CutPrefix(raw, "http://"); ok {
		s.logger.Info("HTTP link provided, upgrading to HTTPS", "input", raw)
		raw = "https://" + rest
	}

	if strings.HasPrefix(raw, "https://") {
		return s.classifyURL(input, raw)
	}

	info, err := os.Stat(raw)
	if err != nil || info.IsDir() {
		return domain.SourceSpec{}, &domain.UnsupportedSourceError{Input: input, Reason: "not a URL or an existing file"}
	}

	kind := domain.SourceDirectGameList
	if looksLikeJSON(raw) {
		kind = domain.SourceLocalEntries
	}
	return domain.SourceSpec{Kind: kind, Raw: input, Target: raw}, nil
}

func (s *ResolverService) classifyURL(input, raw string) (domain.SourceSpec, error) {
	if rest, ok := strings.CutPrefix(raw, "https://www."+s.baseHost+"/"); ok {
		raw = s.webBase + "/" + rest
	}

	u, err := url.Parse(raw)
	if err != nil {
		return domain.SourceSpec{}, &domain.UnsupportedSourceError{Input: input, Reason: err.Error()}
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	spec := domain.SourceSpec{Raw: input, Cursor: 1}
	unsupported := func(reason string) (domain.SourceSpec, error) {
		return domain.SourceSpec{}, &domain.UnsupportedSourceError{Input: input, Reason: reason}
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == s.baseHost:
		if len(parts) == 0 {
			return unsupported("cannot download the entirety of " + s.baseHost)
		}

		switch section := parts[0]; {
		case section == "jam":
			if len(parts) < 2 {
				return unsupported("incomplete game jam URL")
			}
			spec.Kind, spec.Target = domain.SourceJam, s.webBase+"/jam/"+parts[1]
		case browseSections[section]:
			spec.Kind, spec.Target = domain.SourceBrowse, s.webBase+"/"+strings.Join(parts, "/")
		case section == "c":
			if len(parts) < 2 {
				return unsupported("incomplete collection URL")
			}
			spec.Kind, spec.Target = domain.SourceCollection, parts[1]
		case section == "my-purchases":
			spec.Kind = domain.SourceLibrary
		case section == "profile":
			if len(parts) < 2 {
				return unsupported("profile links need a username")
			}
			spec.Kind, spec.Target = domain.SourceCreatorProfile, strings.ToLower(parts[1])
		case section == "b" || section == "bundle":
			return unsupported("bundles cannot be downloaded")
		case section == "j" || section == "jobs":
			return unsupported("jobs cannot be downloaded")
		case section == "t" || section == "board" || section == "community":
			return unsupported("forums cannot be downloaded")
		default:
			return unsupported(fmt.Sprintf("%q URLs are not understood", section))
		}

	case strings.HasSuffix(host, "."+s.baseHost):
		author := strings.TrimSuffix(host, "."+s.baseHost)
		if len(parts) == 0 {
			spec.Kind, spec.Target = domain.SourceCreatorProfile, author
			break
		}
		spec.Kind, spec.Target = domain.SourceSingleGame, fmt.Sprintf("https://%s/%s", host, parts[0])

	default:
		return unsupported("unknown domain " + u.Host)
	}

	return spec, nil
}

// Expand produces the references named by spec, deduplicated in first-seen
// order. A source that yields nothing is an error.
func (s *ResolverService) Expand(ctx context.Context, spec domain.SourceSpec) ([]domain.ContentRef, error) {
	logger := s.logger.WithFields(map[string]interface{}{"source": spec.Kind.String()})
	logger.Info("Resolving source", "target", spec.Target)

	var (
		entries []entry
		err     error
	)

	switch spec.Kind {
	case domain.SourceJam:
		entries, err = s.jamEntries(ctx, spec.Target)
	case domain.SourceBrowse:
		entries, err = s.browseEntries(ctx, spec, logger)
	case domain.SourceCollection:
		entries, err = s.collectionEntries(ctx, spec, logger)
	case domain.SourceLibrary:
		entries, err = s.libraryEntries(ctx, spec, logger)
	case domain.SourceCreatorProfile:
		entries, err = s.creatorEntries(ctx, spec.Target)
	case domain.SourceSingleGame:
		entries = []entry{{URL: spec.Target}}
	case domain.SourceLocalEntries:
		entries, err = readEntriesFile(spec.Target)
	case domain.SourceDirectGameList:
		entries, err = readURLList(spec.Target)
	default:
		return nil, &domain.UnsupportedSourceError{Input: spec.Raw, Reason: "unknown source kind"}
	}
	if err != nil {
		return nil, err
	}

	refs := s.canonicalize(entries, logger)
	if len(refs) == 0 {
		if spec.Kind == domain.SourceLocalEntries || spec.Kind == domain.SourceDirectGameList {
			return nil, &domain.ParseError{Source: spec.Target, Reason: "no game URLs found"}
		}
		return nil, &domain.FetchError{URL: spec.Target, Err: errors.New("no game URLs found")}
	}

	s.metrics.RecordGauge("resolver.identifiers", float64(len(refs)), map[string]string{"source": spec.Kind.String()})
	logger.Info("Resolved source", "count", len(refs))
	return refs, nil
}

// canonicalize converts entries to references, dropping duplicates and
// URLs that do not name a game
func (s *ResolverService) canonicalize(entries []entry, logger observability.Logger) []domain.ContentRef {
	seen := make(map[domain.ContentID]bool, len(entries))
	refs := make([]domain.ContentRef, 0, len(entries))

	for _, e := range entries {
		ref, err := domain.ParseGameURL(e.URL)
		if err != nil {
			logger.Warn("Ignoring entry without a game URL", "url", e.URL, "error", err)
			continue
		}
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true

		ref.GameID = e.GameID
		ref.Title = e.Title
		ref.DownloadKeyID = e.DownloadKeyID
		refs = append(refs, ref)
	}

	return refs
}

func (s *ResolverService) jamEntries(ctx context.Context, jamURL string) ([]entry, error) {
	page, err := s.client.FetchPage(ctx, jamURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch game jam page: %w", err)
	}

	jamID, ok := initializerInt(string(page), "I.ViewJam", "id")
	if !ok {
		return nil, &domain.ParseError{
			Source: jamURL,
			Reason: "page has no game jam ID; provide the jam entries JSON file instead",
		}
	}
	s.logger.Info("Extracted game jam ID", "jam_id", jamID)

	var data struct {
		JamGames []gameEntry `json:"jam_games"`
	}
	entriesURL := fmt.Sprintf("%s/jam/%d/entries.json", s.webBase, jamID)
	if err := s.client.GetJSON(ctx, entriesURL, nil, &data); err != nil {
		return nil, fmt.Errorf("failed to fetch game jam entries: %w", err)
	}

	entries := make([]entry, 0, len(data.JamGames))
	for _, g := range data.JamGames {
		entries = append(entries, g.normalize())
	}
	return entries, nil
}

// page fetches one batch. last reports that no further pages exist.
type pageFunc func(ctx context.Context, page int) (batch []entry, last bool, err error)

// paginate walks pages from spec.Cursor until a source reports its last
// page, returns an empty batch or stops producing new entries. A failure
// after the first page keeps the entries found so far.
func (s *ResolverService) paginate(ctx context.Context, spec domain.SourceSpec, logger observability.Logger, fetch pageFunc) ([]entry, error) {
	var all []entry
	seen := make(map[string]bool)

	for page := max(spec.Cursor, 1); ; page++ {
		logger.Info("Downloading page", "page", page, "found", len(all))

		batch, last, err := fetch(ctx, page)
		if err != nil {
			if len(all) == 0 {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, domain.ErrNotFound) {
				logger.Warn("Pagination stopped early, continuing with partial results",
					"page", page, "found", len(all), "error", err)
			}
			break
		}
		s.metrics.IncrementCounter("resolver.pages", map[string]string{"source": spec.Kind.String()})

		added := 0
		for _, e := range batch {
			if e.URL == "" || seen[e.URL] {
				continue
			}
			seen[e.URL] = true
			all = append(all, e)
			added++
		}

		if last || len(batch) == 0 || added == 0 {
			break
		}
	}

	return all, nil
}

type rssFeed struct {
	Items []struct {
		Link string `xml:"link"`
	} `xml:"channel>item"`
}

func (s *ResolverService) browseEntries(ctx context.Context, spec domain.SourceSpec, logger observability.Logger) ([]entry, error) {
	return s.paginate(ctx, spec, logger, func(ctx context.Context, page int) ([]entry, bool, error) {
		body, err := s.client.FetchPage(ctx, fmt.Sprintf("%s.xml?page=%d", spec.Target, page))
		if err != nil {
			return nil, false, err
		}

		var feed rssFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			return nil, false, &domain.ParseError{Source: spec.Target, Reason: "invalid RSS feed", Err: err}
		}

		batch := make([]entry, 0, len(feed.Items))
		for _, item := range feed.Items {
			if link := strings.TrimSpace(item.Link); link != "" {
				batch = append(batch, entry{URL: link})
			}
		}
		return batch, false, nil
	})
}

func (s *ResolverService) collectionEntries(ctx context.Context, spec domain.SourceSpec, logger observability.Logger) ([]entry, error) {
	endpoint := fmt.Sprintf("/collections/%s/collection-games", url.PathEscape(spec.Target))

	return s.paginate(ctx, spec, logger, func(ctx context.Context, page int) ([]entry, bool, error) {
		var data struct {
			CollectionGames []gameEntry `json:"collection_games"`
			PerPage         int         `json:"per_page"`
		}
		if err := s.client.GetJSON(ctx, endpoint, pageQuery(page), &data); err != nil {
			return nil, false, err
		}

		batch := make([]entry, 0, len(data.CollectionGames))
		for _, g := range data.CollectionGames {
			batch = append(batch, g.normalize())
		}
		return batch, len(data.CollectionGames) != data.PerPage, nil
	})
}

func (s *ResolverService) libraryEntries(ctx context.Context, spec domain.SourceSpec, logger observability.Logger) ([]entry, error) {
	return s.paginate(ctx, spec, logger, func(ctx context.Context, page int) ([]entry, bool, error) {
		keys, last, err := ownedKeysPage(ctx, s.client, page)
		if err != nil {
			return nil, false, err
		}

		batch := make([]entry, 0, len(keys))
		for _, key := range keys {
			e := key.Game.normalize()
			if e.GameID == 0 {
				e.GameID = key.GameID
			}
			e.DownloadKeyID = key.ID
			batch = append(batch, e)
		}
		return batch, last, nil
	})
}

func (s *ResolverService) creatorEntries(ctx context.Context, creator string) ([]entry, error) {
	page, err := s.client.FetchPage(ctx, s.webBase+"/profile/"+creator)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch creator page: %w", err)
	}

	doc, err := parseHTML(page)
	if err != nil {
		return nil, &domain.ParseError{Source: creator, Reason: "invalid creator page", Err: err}
	}

	prefix := fmt.Sprintf("https://%s.%s/", creator, s.baseHost)
	links := make(map[string]bool)
	doc.Find("a.game_link").Each(func(_ int, sel *goquery.Selection) {
		if href := sel.AttrOr("href", ""); strings.HasPrefix(href, prefix) {
			links[href] = true
		}
	})

	sorted := make([]string, 0, len(links))
	for link := range links {
		sorted = append(sorted, link)
	}
	sort.Strings(sorted)

	entries := make([]entry, len(sorted))
	for i, link := range sorted {
		entries[i] = entry{URL: link}
	}
	return entries, nil
}

// readEntriesFile reads a local jam entries document. It accepts the
// "jam_games" layout of entries.json as well as flat "entries" or
// "jam_game_entries" arrays.
func readEntriesFile(path string) ([]entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ParseError{Source: path, Reason: "cannot read file", Err: err}
	}

	var doc struct {
		JamGames       []gameEntry `json:"jam_games"`
		Entries        []gameEntry `json:"entries"`
		JamGameEntries []gameEntry `json:"jam_game_entries"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.ParseError{Source: path, Reason: "malformed entries JSON", Err: err}
	}
	if doc.JamGames == nil && doc.Entries == nil && doc.JamGameEntries == nil {
		return nil, &domain.ParseError{Source: path, Reason: "JSON has no jam_games or entries array"}
	}

	var entries []entry
	for _, list := range [][]gameEntry{doc.JamGames, doc.Entries, doc.JamGameEntries} {
		for _, g := range list {
			entries = append(entries, g.normalize())
		}
	}
	return entries, nil
}

// readURLList reads one game URL per line. Blank lines and lines starting
// with # are ignored.
func readURLList(path string) ([]entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.ParseError{Source: path, Reason: "cannot read file", Err: err}
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(text, "http://"); ok {
			text = "https://" + rest
		}
		if _, err := domain.ParseGameURL(text); err != nil {
			return nil, &domain.ParseError{Source: path, Line: line, Reason: "not an itch.io game URL", Err: err}
		}
		entries = append(entries, entry{URL: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.ParseError{Source: path, Reason: "cannot read file", Err: err}
	}

	return entries, nil
}

func looksLikeJSON(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	trimmed := bytes.TrimLeft(head[:n], " \t\r\n\ufeff")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func pageQuery(page int) url.Values {
	return url.Values{"page": []string{strconv.Itoa(page)}}
}
