package pipeline

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Field names carrying registry dates, normalized to ISO form.
var dateFields = map[string]struct{}{
	"published":        {},
	"publication_date": {},
	"expiration_date":  {},
	"accredited_since": {},
	"renewal_date":     {},
	"installed_date":   {},
}

// Field names whose list order carries no business meaning; sorted so
// the content hash is order-independent.
var sortedListFields = map[string]struct{}{
	"elements":   {},
	"standards":  {},
	"centers":    {},
	"committees": {},
	"contacts":   {},
}

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "2006/01/02"}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	spanishDate   = regexp.MustCompile(`^(\d{1,2}) de ([a-zá-úñ]+) de (\d{4})$`)
)

// Normalizer canonicalizes accepted records so that byte-identical
// canonical output always comes from logically identical input. It is
// deterministic and idempotent; the fingerprinter hashes its output.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Name identifies the stage in run error logs.
func (*Normalizer) Name() string { return "normalize" }

// Process returns the canonical form of the record.
func (n *Normalizer) Process(rec registry.RawRecord) (registry.RawRecord, error) {
	out := rec
	out.NaturalKey = strings.ToUpper(cleanText(rec.NaturalKey))
	out.SourceURL = canonicalURL(rec.SourceURL)

	fields := make(map[string]any, len(rec.Fields))
	for name, value := range rec.Fields {
		normalized, err := n.normalizeField(name, value)
		if err != nil {
			return rec, &registry.NormalizationError{Field: name, Err: err}
		}
		fields[name] = normalized
	}
	out.Fields = fields
	return out, nil
}

func (n *Normalizer) normalizeField(name string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		text := cleanText(v)
		if isDateField(name) {
			return normalizeDate(text)
		}
		if isCodedField(name) {
			return strings.ToUpper(text), nil
		}
		return text, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			normalized, err := n.normalizeField(k, nested)
			if err != nil {
				return nil, err
			}
			out[k] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			normalized, err := n.normalizeField(name, item)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		if _, sortable := sortedListFields[name]; sortable {
			sortEntries(out)
		}
		return out, nil
	default:
		// Numbers, booleans, and nulls are already canonical.
		return value, nil
	}
}

// cleanText applies NFC normalization, trims, and collapses whitespace runs.
func cleanText(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

func isDateField(name string) bool {
	if _, ok := dateFields[name]; ok {
		return true
	}
	return strings.HasSuffix(name, "_date")
}

// isCodedField matches enumerated-code fields: entity type codes and
// two-letter state codes.
func isCodedField(name string) bool {
	return name == "type" || name == "state" || name == "state_code"
}

// normalizeDate parses the registry's date spellings into ISO form.
// Already-ISO input passes through, keeping the stage idempotent.
func normalizeDate(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	if m := spanishDate.FindStringSubmatch(strings.ToLower(text)); m != nil {
		month, ok := spanishMonths[m[2]]
		if ok {
			t, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%d-%s", m[3], month, m[1]))
			if err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
	}
	return "", fmt.Errorf("unrecognized date %q", text)
}

// canonicalURL lowercases the scheme and host so that provenance
// comparisons ignore casing the upstream site varies freely.
func canonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// sortEntries orders structured list entries by code, then name, then
// canonical JSON, so hashing is insensitive to scrape order.
func sortEntries(items []any) {
	sort.SliceStable(items, func(i, j int) bool {
		return entrySortKey(items[i]) < entrySortKey(items[j])
	})
}

func entrySortKey(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		if s, isString := item.(string); isString {
			return s
		}
		data, _ := json.Marshal(item)
		return string(data)
	}
	if code, ok := m["code"].(string); ok && code != "" {
		return code
	}
	if name, ok := m["name"].(string); ok && name != "" {
		return name
	}
	data, _ := json.Marshal(m)
	return string(data)
}
