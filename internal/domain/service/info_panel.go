package service

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"itchdl/internal/domain"
)

// panelDateLayout matches the abbr titles of date rows, e.g.
// "13 March 2021 @ 17:44 UTC"
const panelDateLayout = "2 January 2006 @ 15:04"

// multipleAuthors stands in for the author name of titles credited to
// several accounts
const multipleAuthors = "Multiple authors"

// linkRows maps information panel rows rendered as lists of links to the
// field that keeps them
var linkRows = map[string]func(info *domain.GameInfo) *map[string]string{
	"Authors":       func(i *domain.GameInfo) *map[string]string { return &i.Authors },
	"Genre":         func(i *domain.GameInfo) *map[string]string { return &i.Genre },
	"Made with":     func(i *domain.GameInfo) *map[string]string { return &i.Tools },
	"License":       func(i *domain.GameInfo) *map[string]string { return &i.License },
	"Code license":  func(i *domain.GameInfo) *map[string]string { return &i.CodeLicense },
	"Asset license": func(i *domain.GameInfo) *map[string]string { return &i.AssetLicense },
	"Tags":          func(i *domain.GameInfo) *map[string]string { return &i.Tags },
	"Languages":     func(i *domain.GameInfo) *map[string]string { return &i.Languages },
	"Multiplayer":   func(i *domain.GameInfo) *map[string]string { return &i.Multiplayer },
	"Accessibility": func(i *domain.GameInfo) *map[string]string { return &i.Accessibility },
	"Inputs":        func(i *domain.GameInfo) *map[string]string { return &i.Inputs },
	"Links":         func(i *domain.GameInfo) *map[string]string { return &i.Links },
	"Mentions":      func(i *domain.GameInfo) *map[string]string { return &i.Mentions },
	"Category":      func(i *domain.GameInfo) *map[string]string { return &i.Category },
}

// pageDetails is everything read from a game page besides the IDs
type pageDetails struct {
	info        *domain.GameInfo
	authorName  string
	authorURL   string
	rating      *domain.Rating
	screenshots []string
}

func readPageDetails(doc *goquery.Document, gameURL string) pageDetails {
	var details pageDetails

	doc.Find("div.screenshot_list a").Each(func(_ int, a *goquery.Selection) {
		if href := strings.TrimSpace(a.AttrOr("href", "")); href != "" {
			details.screenshots = append(details.screenshots, href)
		}
	})

	if product := productData(doc); product != nil {
		details.rating = product.rating()
	}

	panel := doc.Find("div.game_info_panel_widget").First()
	if panel.Length() == 0 {
		return details
	}

	info := &domain.GameInfo{}
	panel.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		name := strings.TrimSpace(cells.Eq(0).Text())
		content := cells.Eq(1)

		switch name {
		case "Updated":
			info.UpdatedAt = panelDate(content)
		case "Release date":
			info.ReleasedAt = panelDate(content)
		case "Published":
			info.PublishedAt = panelDate(content)
		case "Status":
			info.Status = firstLinkText(content)
		case "Average session":
			info.Length = firstLinkText(content)
		case "Platforms":
			info.Platforms = linkTexts(content)
		case "Publisher":
			info.Publisher = strings.TrimSpace(content.Text())
		case "Player count":
			info.PlayerCount = strings.TrimSpace(content.Text())
		case "Rating":
			// the ld+json block carries the same numbers
		case "Author":
			if a := content.Find("a").Last(); a.Length() > 0 {
				details.authorName = strings.TrimSpace(a.Text())
				details.authorURL = a.AttrOr("href", "")
			}
		default:
			if field, ok := linkRows[name]; ok {
				*field(info) = links(content)
				return
			}
			if info.Other == nil {
				info.Other = make(map[string]string)
			}
			info.Other[name] = strings.Join(strings.Fields(content.Text()), " ")
		}
	})

	if details.authorName == "" && len(info.Authors) > 0 {
		details.authorName = multipleAuthors
		if u, err := url.Parse(gameURL); err == nil {
			details.authorURL = "https://" + u.Host
		}
	}

	details.info = info
	return details
}

func panelDate(content *goquery.Selection) *time.Time {
	title, ok := content.Find("abbr").First().Attr("title")
	if !ok {
		return nil
	}
	t, err := time.Parse(panelDateLayout, strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), "UTC")))
	if err != nil {
		return nil
	}
	return &t
}

func links(content *goquery.Selection) map[string]string {
	out := make(map[string]string)
	content.Find("a").Each(func(_ int, a *goquery.Selection) {
		out[strings.TrimSpace(a.Text())] = a.AttrOr("href", "")
	})
	return out
}

func linkTexts(content *goquery.Selection) []string {
	var out []string
	content.Find("a").Each(func(_ int, a *goquery.Selection) {
		if text := strings.TrimSpace(a.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func firstLinkText(content *goquery.Selection) string {
	if texts := linkTexts(content); len(texts) > 0 {
		return texts[0]
	}
	return strings.TrimSpace(content.Text())
}

// productLD is the ld+json Product block of a game page
type productLD struct {
	Type            string `json:"@type"`
	Name            string `json:"name"`
	AggregateRating *struct {
		RatingValue json.RawMessage `json:"ratingValue"`
		RatingCount json.RawMessage `json:"ratingCount"`
	} `json:"aggregateRating"`
}

func (p *productLD) rating() *domain.Rating {
	if p.AggregateRating == nil {
		return nil
	}
	average, err := strconv.ParseFloat(unquote(p.AggregateRating.RatingValue), 64)
	if err != nil {
		return nil
	}
	votes, err := strconv.Atoi(unquote(p.AggregateRating.RatingCount))
	if err != nil {
		return nil
	}
	return &domain.Rating{Average: average, Votes: votes}
}

// unquote accepts numbers written both bare and as JSON strings
func unquote(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

// productData returns the ld+json Product block, if any
func productData(doc *goquery.Document) *productLD {
	var product *productLD
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var ld productLD
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &ld); err != nil {
			return true
		}
		if ld.Type == "Product" {
			product = &ld
			return false
		}
		return true
	})
	return product
}
