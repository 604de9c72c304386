package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ContentID is the canonical "author/game" key of one catalog title
type ContentID string

// NewContentID builds an identifier from the creator subdomain and game slug
func NewContentID(author, game string) ContentID {
	return ContentID(strings.ToLower(author) + "/" + game)
}

// Author returns the creator part of the identifier
func (id ContentID) Author() string {
	author, _, _ := strings.Cut(string(id), "/")
	return author
}

// Game returns the game slug part of the identifier
func (id ContentID) Game() string {
	_, game, _ := strings.Cut(string(id), "/")
	return game
}

func (id ContentID) String() string {
	return string(id)
}

// ContentRef is one resolved title plus whatever the source already told
// us about it. Zero values mean "unknown".
type ContentRef struct {
	ID            ContentID
	URL           string
	GameID        int64
	Title         string
	DownloadKeyID int64
}

// ParseGameURL turns https://<author>.itch.io/<game>[/...] into a ContentRef
// with a canonical URL.
func ParseGameURL(raw string) (ContentRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ContentRef{}, fmt.Errorf("invalid game url %q: %w", raw, err)
	}

	host := strings.ToLower(u.Hostname())
	author, ok := strings.CutSuffix(host, ".itch.io")
	if !ok || author == "" || strings.Contains(author, ".") || author == "www" {
		return ContentRef{}, fmt.Errorf("not an itch.io game url: %q", raw)
	}

	game, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if game == "" {
		return ContentRef{}, fmt.Errorf("game url has no game path: %q", raw)
	}

	return ContentRef{
		ID:  NewContentID(author, game),
		URL: fmt.Sprintf("https://%s.itch.io/%s", author, game),
	}, nil
}

// SourceKind classifies what the user asked us to download
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceJam
	SourceBrowse
	SourceCollection
	SourceLibrary
	SourceCreatorProfile
	SourceDirectGameList
	SourceLocalEntries
	SourceSingleGame
)

func (k SourceKind) String() string {
	switch k {
	case SourceJam:
		return "jam"
	case SourceBrowse:
		return "browse"
	case SourceCollection:
		return "collection"
	case SourceLibrary:
		return "library"
	case SourceCreatorProfile:
		return "creator_profile"
	case SourceDirectGameList:
		return "game_list"
	case SourceLocalEntries:
		return "local_entries"
	case SourceSingleGame:
		return "single_game"
	default:
		return "unknown"
	}
}

// SourceSpec is the classified input of one invocation
type SourceSpec struct {
	Kind SourceKind
	Raw  string
	// Target is the cleaned URL, local path, creator name or collection id
	Target string
	// Cursor is the next page to fetch for paginated sources
	Cursor int
}

// UploadEntry is one file (or external link) attached to a title
type UploadEntry struct {
	ID          int64    `json:"id"`
	Filename    string   `json:"filename"`
	DisplayName string   `json:"display_name,omitempty"`
	Size        int64    `json:"size,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
	External    bool     `json:"external,omitempty"`
	ExternalURL string   `json:"external_url,omitempty"`
}

// InvalidUpload records an upload rejected by schema validation
type InvalidUpload struct {
	UploadID int64  `json:"upload_id,omitempty"`
	Reason   string `json:"reason"`
}

// GameRecord is the normalized metadata of one title
type GameRecord struct {
	ID            ContentID `json:"id"`
	GameID        int64     `json:"game_id"`
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Author        string    `json:"author"`
	Description   string    `json:"description,omitempty"`
	CoverURL      string    `json:"cover_url,omitempty"`
	DownloadKeyID int64     `json:"download_key_id,omitempty"`
	// AuthorName and AuthorURL come from the information panel and may
	// differ from the subdomain in Author
	AuthorName  string          `json:"author_name,omitempty"`
	AuthorURL   string          `json:"author_url,omitempty"`
	Screenshots []string        `json:"screenshots,omitempty"`
	Rating      *Rating         `json:"rating,omitempty"`
	Info        *GameInfo       `json:"info,omitempty"`
	Uploads     []UploadEntry   `json:"uploads"`
	Invalid     []InvalidUpload `json:"invalid_uploads,omitempty"`
	PageHTML    []byte          `json:"-"`
}

// Rating is the aggregate score published on a game page
type Rating struct {
	Average float64 `json:"average"`
	Votes   int     `json:"votes"`
}

// GameInfo holds the rows of a game page's information panel. Link rows
// map the link text to its target.
type GameInfo struct {
	UpdatedAt   *time.Time `json:"-"`
	ReleasedAt  *time.Time `json:"-"`
	PublishedAt *time.Time `json:"-"`

	Status      string   `json:"status,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Length      string   `json:"length,omitempty"`
	PlayerCount string   `json:"player_count,omitempty"`

	Authors       map[string]string `json:"authors,omitempty"`
	Genre         map[string]string `json:"genre,omitempty"`
	Tools         map[string]string `json:"tools,omitempty"`
	License       map[string]string `json:"license,omitempty"`
	CodeLicense   map[string]string `json:"code_license,omitempty"`
	AssetLicense  map[string]string `json:"asset_license,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Languages     map[string]string `json:"languages,omitempty"`
	Multiplayer   map[string]string `json:"multiplayer,omitempty"`
	Accessibility map[string]string `json:"accessibility,omitempty"`
	Inputs        map[string]string `json:"inputs,omitempty"`
	Links         map[string]string `json:"links,omitempty"`
	Mentions      map[string]string `json:"mentions,omitempty"`
	Category      map[string]string `json:"category,omitempty"`

	// Other keeps the text of rows this parser does not know yet
	Other map[string]string `json:"other,omitempty"`
}

// Hosted returns the uploads stored on the platform
func (g *GameRecord) Hosted() []UploadEntry {
	var hosted []UploadEntry
	for _, u := range g.Uploads {
		if !u.External {
			hosted = append(hosted, u)
		}
	}
	return hosted
}

// ExternalURLs returns the off-platform links, in upload order
func (g *GameRecord) ExternalURLs() []string {
	var urls []string
	for _, u := range g.Uploads {
		if u.External && u.ExternalURL != "" {
			urls = append(urls, u.ExternalURL)
		}
	}
	return urls
}

// DownloadTask is one hosted upload of one title bound to its storage key
type DownloadTask struct {
	Game   *GameRecord
	Upload UploadEntry
	Key    string
}

// FetchResult pairs a resolved reference with its metadata or the error
// that prevented fetching it
type FetchResult struct {
	Ref    ContentRef
	Record *GameRecord
	Err    error
}
