package worker

import (
	"time"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// linkSources maps an entity kind to the normalized list fields that
// reference other entities and the relationship each reference creates.
var linkSources = map[registry.EntityKind][]struct {
	field string
	rel   registry.RelationshipKind
}{
	registry.KindCertifier: {{field: "standards", rel: registry.RelCertifierStandard}},
	registry.KindCenter:    {{field: "standards", rel: registry.RelCenterStandard}},
	registry.KindSector:    {{field: "committees", rel: registry.RelSectorCommittee}},
	registry.KindCommittee: {{field: "standards", rel: registry.RelCommitteeStandard}},
}

// deriveRelationships reads entity references out of a processed
// record's list fields. The normalizer has already sorted the lists and
// canonicalized codes, so plain strings and {code: ...} entries are the
// only shapes left.
func deriveRelationships(rec registry.Record, runID string, at time.Time) []registry.Relationship {
	sources, ok := linkSources[rec.Kind]
	if !ok {
		return nil
	}
	var out []registry.Relationship
	for _, src := range sources {
		raw, ok := rec.Fields[src.field]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			code := referenceCode(entry)
			if code == "" {
				continue
			}
			out = append(out, registry.Relationship{
				Kind:      src.rel,
				FromKey:   rec.NaturalKey,
				ToKey:     code,
				RunID:     runID,
				CreatedAt: at,
			})
		}
	}
	return out
}

func referenceCode(entry any) string {
	switch v := entry.(type) {
	case string:
		return v
	case map[string]any:
		if code, ok := v["code"].(string); ok {
			return code
		}
	}
	return ""
}
