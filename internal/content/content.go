// Package content prepares caller-supplied lesson text for script generation.
package content

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Format names the shape of supplied content.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// MaxChars bounds normalized content.
const MaxChars = 100000

var (
	whitespace  = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	headerLine  = regexp.MustCompile(`(?m)^#+\s+(.+)$`)
	boldText    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	htmlLeading = regexp.MustCompile(`(?is)^\s*(<!doctype|<html|<body|<article|<div|<p[\s>])`)
)

// Detect guesses the format when the caller did not say.
func Detect(raw string) Format {
	if htmlLeading.MatchString(raw) {
		return FormatHTML
	}
	if headerLine.MatchString(raw) || boldText.MatchString(raw) {
		return FormatMarkdown
	}
	return FormatText
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return "", nil
	case FormatText, FormatMarkdown, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown content format %q", s)
}

// Document is normalized content ready for a prompt.
type Document struct {
	Title  string
	Text   string
	Format Format
}

// Normalize extracts readable text. Markdown keeps its markup so that key
// concepts can still be found in headers and bold text.
func Normalize(raw string, format Format) (Document, error) {
	if format == "" {
		format = Detect(raw)
	}
	doc := Document{Format: format}
	switch format {
	case FormatHTML:
		title, text, err := fromHTML(raw)
		if err != nil {
			return Document{}, err
		}
		doc.Title = title
		doc.Text = text
	case FormatMarkdown, FormatText:
		doc.Text = raw
		if m := headerLine.FindStringSubmatch(raw); m != nil {
			doc.Title = strings.TrimSpace(m[1])
		}
	default:
		return Document{}, fmt.Errorf("unknown content format %q", format)
	}
	doc.Text = clean(doc.Text)
	if doc.Text == "" {
		return Document{}, fmt.Errorf("content is empty after normalization")
	}
	return doc, nil
}

func fromHTML(raw string) (string, string, error) {
	article, err := readability.FromReader(strings.NewReader(raw), nil)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return strings.TrimSpace(article.Title), article.TextContent, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	var b strings.Builder
	doc.Find("h1, h2, h3, p, li, pre").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	})
	return title, b.String(), nil
}

func clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(whitespace.ReplaceAllString(line, " "))
		// menu fragments and bare punctuation
		if len(line) < 20 && strings.Contains(line, "|") {
			continue
		}
		if line != "" && len(line) < 5 && !strings.ContainsFunc(line, isAlnum) {
			continue
		}
		out = append(out, line)
	}
	text = blankLines.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > MaxChars {
		text = string(r[:MaxChars])
	}
	return text
}

func isAlnum(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127
}

// KeyConcepts picks up to max concepts: markdown headers first, then bold
// text, then capitalized words from the opening of the text.
func KeyConcepts(text string, max int) []string {
	if max <= 0 {
		max = 5
	}
	seen := map[string]bool{}
	var concepts []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] || len(concepts) >= max {
			return
		}
		seen[key] = true
		concepts = append(concepts, c)
	}
	for _, m := range headerLine.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range boldText.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	if len(concepts) < 3 {
		words := strings.Fields(text)
		if len(words) > 100 {
			words = words[:100]
		}
		for _, w := range words {
			w = strings.Trim(w, ".,!?:;\"'()")
			if len(w) > 5 && w[0] >= 'A' && w[0] <= 'Z' {
				add(w)
			}
		}
	}
	return concepts
}
