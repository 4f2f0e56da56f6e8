package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/registrolabs/renec-harvester/internal/hash/sha256"
	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Fingerprinter computes the content hash of a record's semantic fields.
// Volatile metadata (source URL, timestamps, run id) never enters the
// digest: two records with the same fields hash identically regardless
// of where or when they were scraped.
type Fingerprinter struct {
	hasher *sha256.Hasher
}

// NewFingerprinter creates a Fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{hasher: sha256.New()}
}

// Fingerprint hashes the canonical serialization of the record's fields
// and nothing else: kind and natural key identify the entity, they do
// not participate in the digest. encoding/json marshals map keys in
// sorted order, so the serialization is deterministic once the
// normalizer has canonicalized values.
func (f *Fingerprinter) Fingerprint(rec registry.RawRecord) (string, error) {
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", fmt.Errorf("serialize fields: %w", err)
	}
	digest, err := f.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash fields: %w", err)
	}
	return digest, nil
}
