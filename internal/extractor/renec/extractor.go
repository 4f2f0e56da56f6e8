// Package renec extracts raw records from RENEC listing pages.
package renec

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// sectionKinds maps URL path segments to the entity kind listed there.
var sectionKinds = map[string]registry.EntityKind{
	"estandares":     registry.KindStandard,
	"certificadores": registry.KindCertifier,
	"centros":        registry.KindCenter,
	"sectores":       registry.KindSector,
	"comites":        registry.KindCommittee,
}

// Extractor parses listing tables out of registry pages. Each table row
// carries the entity code in its first cell and the display name in the
// second; remaining cells become extra fields by header name.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses a fetched page into raw records. The entity kind comes
// from the URL path, so a page outside the known sections is an error.
func (e *Extractor) Extract(page registry.FetchResponse) ([]registry.RawRecord, error) {
	kind, err := kindOf(page.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", page.URL, err)
	}

	headers := collectHeaders(doc)
	var records []registry.RawRecord
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		rec, ok := rowRecord(kind, headers, row, page.URL)
		if ok {
			records = append(records, rec)
		}
	})
	return records, nil
}

func kindOf(raw string) (registry.EntityKind, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if kind, ok := sectionKinds[strings.ToLower(segment)]; ok {
			return kind, nil
		}
	}
	return "", fmt.Errorf("url %q does not match a known registry section", raw)
}

func collectHeaders(doc *goquery.Document) []string {
	var headers []string
	doc.Find("table thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.ToLower(strings.TrimSpace(th.Text())))
	})
	return headers
}

func rowRecord(kind registry.EntityKind, headers []string, row *goquery.Selection, sourceURL string) (registry.RawRecord, bool) {
	cells := row.Find("td")
	if cells.Length() < 2 {
		return registry.RawRecord{}, false
	}

	code := strings.TrimSpace(cells.Eq(0).Text())
	if code == "" {
		return registry.RawRecord{}, false
	}

	fields := map[string]any{}
	nameField := "name"
	if kind == registry.KindStandard {
		nameField = "title"
	}
	fields[nameField] = strings.TrimSpace(cells.Eq(1).Text())

	// Extra columns keyed by their header when the table has one.
	cells.Each(func(i int, cell *goquery.Selection) {
		if i < 2 || i >= len(headers) {
			return
		}
		header := headers[i]
		if header == "" {
			return
		}
		value := strings.TrimSpace(cell.Text())
		if value != "" {
			fields[header] = value
		}
	})

	return registry.RawRecord{
		Kind:       kind,
		NaturalKey: code,
		Fields:     fields,
		SourceURL:  sourceURL,
	}, true
}
