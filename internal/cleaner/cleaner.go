// Package cleaner turns question and answer markup into plain text.
package cleaner

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// Cleaner extracts text with goquery and falls back to regex tag stripping.
type Cleaner struct {
	parse  func(markup string) (*goquery.Document, error)
	logger *zap.Logger
}

// New builds a Cleaner. A nil logger disables fallback logging.
func New(logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		parse:  parseDocument,
		logger: logger,
	}
}

var defaultCleaner = New(nil)

// Clean converts markup to plain text using the package default Cleaner.
func Clean(markup string) string {
	return defaultCleaner.Clean(markup)
}

// Clean converts markup to whitespace-collapsed plain text. It never fails:
// when parsing breaks, tags are stripped with a regular expression instead.
func (c *Cleaner) Clean(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	text, err := c.extract(markup)
	if err != nil {
		c.logger.Debug("html parse failed, using regex fallback", zap.Error(err))
		return fallback(markup)
	}
	return collapse(text)
}

func (c *Cleaner) extract(markup string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse panic: %v", r)
		}
	}()
	doc, err := c.parse(markup)
	if err != nil {
		return "", err
	}
	var parts []string
	collectText(doc.Selection, &parts)
	return strings.Join(parts, " "), nil
}

// collectText appends every text node below sel so that adjacent blocks stay
// separated by a space, the way a text extractor with a separator would.
func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			if t := strings.TrimSpace(child.Text()); t != "" {
				*parts = append(*parts, t)
			}
		case "#comment":
		default:
			collectText(child, parts)
		}
	})
}

func parseDocument(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func fallback(markup string) string {
	stripped := tagPattern.ReplaceAllString(markup, " ")
	return collapse(html.UnescapeString(stripped))
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
