package service

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// itch.io pages render most content server side and initialize their
// widgets with calls like I.ViewGame({"id": 123, ...}) near the end of the
// page. These helpers read IDs out of those calls and out of meta tags.

func parseHTML(page []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(page))
}

// initializerInt returns the integer stored under key in the last line that
// mentions marker. It reports false unless exactly one value is found.
func initializerInt(text, marker, key string) (int64, bool) {
	lines := strings.Split(text, "\n")

	var markerLine string
	for i := len(lines) - 1; i >= 0; i-- {
		if idx := strings.Index(lines[i], marker); idx != -1 {
			markerLine = lines[i][idx:]
			break
		}
	}
	if markerLine == "" {
		return 0, false
	}

	pattern := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `":\s?(\d+)`)
	found := pattern.FindAllStringSubmatch(markerLine, -1)
	if len(found) != 1 {
		return 0, false
	}

	n, err := strconv.ParseInt(found[0][1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// metaContent returns the content of the first <meta> whose attr equals value
func metaContent(doc *goquery.Document, attr, value string) string {
	var content string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr(attr); v == value {
			content = strings.TrimSpace(s.AttrOr("content", ""))
			return false
		}
		return true
	})
	return content
}

// productName returns the name of the ld+json Product block, if any
func productName(doc *goquery.Document) string {
	if product := productData(doc); product != nil {
		return strings.TrimSpace(product.Name)
	}
	return ""
}
