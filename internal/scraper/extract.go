package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minParagraphLen filters boilerplate fragments out of the extracted text.
const minParagraphLen = 30

// blockSignals are case-insensitive substrings that mark an anti-bot wall
// rather than real page content.
var blockSignals = []string{
	"captcha",
	"cloudflare",
	"bot detection",
	"access denied",
	"blocked",
}

func blockedContent(html string) string {
	lower := strings.ToLower(html)
	for _, signal := range blockSignals {
		if strings.Contains(lower, signal) {
			return signal
		}
	}
	return ""
}

// extractText distills a page down to its topical essentials: title, meta
// description, the first h1, and the first few substantial paragraphs.
// Paragraphs mentioning cookies are dropped to skip consent notices.
func extractText(html string, maxParagraphs int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}

	var parts []string
	appendClean := func(s string) {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" {
			parts = append(parts, s)
		}
	}

	appendClean(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		appendClean(desc)
	}
	appendClean(doc.Find("h1").First().Text())

	kept := 0
	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if len(text) <= minParagraphLen {
			return true
		}
		if strings.Contains(strings.ToLower(text), "cookie") {
			return true
		}
		parts = append(parts, text)
		kept++
		return kept < maxParagraphs
	})

	return strings.Join(parts, " "), nil
}
