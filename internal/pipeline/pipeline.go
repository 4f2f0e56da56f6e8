// Package pipeline turns raw scraped records into fingerprinted records
// ready for the versioned store.
package pipeline

import (
	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Stage is one ordered step of the ingestion pipeline. Stages are pure:
// they either transform the record or reject it with a typed error.
type Stage interface {
	Name() string
	Process(rec registry.RawRecord) (registry.RawRecord, error)
}

// Pipeline runs records through an explicit, statically ordered stage
// list and then fingerprints the result. Composition is fixed at
// startup; there is no runtime stage registry.
type Pipeline struct {
	stages []Stage
	fp     *Fingerprinter
}

// New builds a Pipeline from the given stages, executed in order.
func New(fp *Fingerprinter, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, fp: fp}
}

// Default returns the standard chain: validate, normalize, fingerprint.
func Default() *Pipeline {
	return New(NewFingerprinter(), NewValidator(), NewNormalizer())
}

// Process runs the record through every stage and computes its content
// hash. The returned error is a ValidationError or NormalizationError;
// callers record it against the run and continue.
func (p *Pipeline) Process(raw registry.RawRecord) (registry.Record, error) {
	rec := raw
	var err error
	for _, stage := range p.stages {
		rec, err = stage.Process(rec)
		if err != nil {
			return registry.Record{}, err
		}
	}
	hash, err := p.fp.Fingerprint(rec)
	if err != nil {
		return registry.Record{}, err
	}
	return registry.Record{
		Kind:        rec.Kind,
		NaturalKey:  rec.NaturalKey,
		Fields:      rec.Fields,
		SourceURL:   rec.SourceURL,
		ContentHash: hash,
	}, nil
}
