package parser

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// DefaultBusyKeywords are phrases the portal shows when it is overloaded or
// under maintenance instead of answering for the identifier.
var DefaultBusyKeywords = []string{
	"server is busy",
	"too many requests",
	"service unavailable",
	"under maintenance",
	"please try again later",
}

// BusyDetector recognizes portal pages that say nothing about the identifier.
// Treating them as not found would hide a student who has a result.
type BusyDetector struct {
	minHTMLBytes int
	keywords     [][]byte
}

// NewBusyDetector constructs a detector. A page shorter than minBytes, or
// containing any keyword, is considered busy.
func NewBusyDetector(minBytes int, keywords []string) *BusyDetector {
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &BusyDetector{
		minHTMLBytes: minBytes,
		keywords:     lowerKeywords,
	}
}

// Busy inspects a successful page.
func (d *BusyDetector) Busy(page results.Page) bool {
	if d == nil {
		return false
	}
	if d.minHTMLBytes > 0 && len(bytes.TrimSpace(page.Body)) < d.minHTMLBytes {
		return true
	}
	if len(page.Body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(page.Body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}
