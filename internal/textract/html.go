package textract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockTags get a line break after their text so table rows and paragraphs stay apart.
var blockTags = "p, div, br, tr, li, h1, h2, h3, h4, h5, h6, table, section"

// HTMLToText flattens an HTML email body to plain text, dropping scripts, styles and
// hidden preheaders. Plain text input is returned normalized.
func HTMLToText(body string) (string, error) {
	if !looksLikeHTML(body) {
		return normalizeWhitespace(body), nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, head, noscript, [style*='display:none'], [style*='display: none']").Remove()
	doc.Find(blockTags).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	doc.Find("td, th").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return normalizeWhitespace(doc.Text()), nil
}

func looksLikeHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "<html") || strings.Contains(l, "<body") ||
		strings.Contains(l, "<div") || strings.Contains(l, "<p>") ||
		strings.Contains(l, "<table") || strings.Contains(l, "<br")
}
