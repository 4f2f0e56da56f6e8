package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Natural key shapes per entity kind, as published by the registry.
var keyPatterns = map[registry.EntityKind]*regexp.Regexp{
	registry.KindStandard:  regexp.MustCompile(`^EC\d{4}$`),
	registry.KindCertifier: regexp.MustCompile(`^(ECE|OC)\d{2,4}-\d{2}$`),
	registry.KindCenter:    regexp.MustCompile(`^CE\d{3,5}-\d{2}$`),
	registry.KindSector:    regexp.MustCompile(`^\d{1,4}$`),
	registry.KindCommittee: regexp.MustCompile(`^\d{1,5}$`),
}

// Required string fields per entity kind.
var requiredFields = map[registry.EntityKind][]string{
	registry.KindStandard:  {"title"},
	registry.KindCertifier: {"name"},
	registry.KindCenter:    {"name"},
	registry.KindSector:    {"name"},
	registry.KindCommittee: {"name"},
}

// Fields that must be lists of structured entries when present.
var listFields = map[string]struct{}{
	"elements":   {},
	"standards":  {},
	"centers":    {},
	"committees": {},
	"contacts":   {},
}

// Validator rejects structurally invalid records. Pure, no I/O.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Name identifies the stage in run error logs.
func (*Validator) Name() string { return "validate" }

// Process accepts the record unchanged or rejects it with a typed
// ValidationError.
func (v *Validator) Process(rec registry.RawRecord) (registry.RawRecord, error) {
	if !rec.Kind.Valid() {
		return rec, &registry.ValidationError{
			Reason: registry.RejectUnknownKind,
			Detail: string(rec.Kind),
		}
	}
	key := strings.ToUpper(strings.TrimSpace(rec.NaturalKey))
	if key == "" {
		return rec, &registry.ValidationError{
			Reason: registry.RejectMissingKey,
			Detail: fmt.Sprintf("%s record from %s", rec.Kind, rec.SourceURL),
		}
	}
	// Validation runs ahead of normalization, so match against the
	// canonical casing the normalizer will apply.
	if pattern := keyPatterns[rec.Kind]; !pattern.MatchString(key) {
		return rec, &registry.ValidationError{
			Reason: registry.RejectMalformedKey,
			Detail: fmt.Sprintf("%q does not match the %s key format", rec.NaturalKey, rec.Kind),
		}
	}
	for _, field := range requiredFields[rec.Kind] {
		value, ok := rec.Fields[field]
		if !ok || value == nil {
			return rec, &registry.ValidationError{
				Reason: registry.RejectMissingField,
				Field:  field,
				Detail: fmt.Sprintf("required for %s records", rec.Kind),
			}
		}
		if s, isString := value.(string); !isString || s == "" {
			return rec, &registry.ValidationError{
				Reason: registry.RejectTypeMismatch,
				Field:  field,
				Detail: "expected non-empty string",
			}
		}
	}
	for name, value := range rec.Fields {
		if _, isList := listFields[name]; !isList || value == nil {
			continue
		}
		if _, ok := value.([]any); !ok {
			return rec, &registry.ValidationError{
				Reason: registry.RejectTypeMismatch,
				Field:  name,
				Detail: "expected a list",
			}
		}
	}
	return rec, nil
}
