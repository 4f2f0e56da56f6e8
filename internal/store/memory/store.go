// Package memory provides in-memory store implementations for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

type entityKey struct {
	kind registry.EntityKind
	key  string
}

type relKey struct {
	kind registry.RelationshipKind
	from string
	to   string
}

// Store keeps versioned entity rows and relationships in process memory.
// Upserts for the same natural key serialize on a per-key mutex;
// different keys proceed independently.
type Store struct {
	mu       sync.RWMutex
	versions map[entityKey][]registry.EntityVersion
	rels     map[relKey]registry.Relationship

	keyLocks sync.Map // entityKey -> *sync.Mutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		versions: make(map[entityKey][]registry.EntityVersion),
		rels:     make(map[relKey]registry.Relationship),
	}
}

func (s *Store) lockKey(k entityKey) *sync.Mutex {
	actual, _ := s.keyLocks.LoadOrStore(k, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Upsert applies one observation. See registry.EntityStore.
func (s *Store) Upsert(_ context.Context, rec registry.Record, observedAt time.Time, snapshotURI string) (registry.UpsertOutcome, error) {
	if !rec.Kind.Valid() {
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("unknown kind %q", rec.Kind)}
	}
	k := entityKey{kind: rec.Kind, key: rec.NaturalKey}
	lock := s.lockKey(k)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.versions[k]
	if len(rows) == 0 {
		s.versions[k] = append(rows, newVersion(rec, observedAt, snapshotURI))
		return registry.OutcomeCreated, nil
	}

	current := &rows[len(rows)-1]
	if current.ContentHash == rec.ContentHash {
		// Only the observation window moves; the row itself is history.
		if observedAt.After(current.LastSeen) {
			current.LastSeen = observedAt
		}
		return registry.OutcomeUnchanged, nil
	}

	if observedAt.After(current.LastSeen) {
		current.LastSeen = observedAt
	}
	s.versions[k] = append(rows, newVersion(rec, observedAt, snapshotURI))
	return registry.OutcomeVersioned, nil
}

func newVersion(rec registry.Record, observedAt time.Time, snapshotURI string) registry.EntityVersion {
	return registry.EntityVersion{
		Kind:        rec.Kind,
		NaturalKey:  rec.NaturalKey,
		Fields:      rec.Fields,
		ContentHash: rec.ContentHash,
		SourceURL:   rec.SourceURL,
		SnapshotURI: snapshotURI,
		FirstSeen:   observedAt,
		LastSeen:    observedAt,
	}
}

// Current returns the row with the greatest first_seen for the key.
func (s *Store) Current(_ context.Context, kind registry.EntityKind, key string) (registry.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.versions[entityKey{kind: kind, key: key}]
	if len(rows) == 0 {
		return registry.EntityVersion{}, registry.ErrNotFound
	}
	return rows[len(rows)-1], nil
}

// History returns every version ordered by first_seen ascending.
func (s *Store) History(_ context.Context, kind registry.EntityKind, key string) ([]registry.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.versions[entityKey{kind: kind, key: key}]
	if len(rows) == 0 {
		return nil, registry.ErrNotFound
	}
	return append([]registry.EntityVersion(nil), rows...), nil
}

// ListCurrent pages through current rows for a kind, ordered by key.
func (s *Store) ListCurrent(_ context.Context, kind registry.EntityKind, limit, offset int) ([]registry.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current []registry.EntityVersion
	for k, rows := range s.versions {
		if k.kind != kind || len(rows) == 0 {
			continue
		}
		current = append(current, rows[len(rows)-1])
	}
	sort.Slice(current, func(i, j int) bool {
		return current[i].NaturalKey < current[j].NaturalKey
	})

	if offset >= len(current) {
		return nil, nil
	}
	current = current[offset:]
	if limit > 0 && limit < len(current) {
		current = current[:limit]
	}
	return current, nil
}

// AddRelationship records a link once per key pair.
func (s *Store) AddRelationship(_ context.Context, rel registry.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := relKey{kind: rel.Kind, from: rel.FromKey, to: rel.ToKey}
	if _, exists := s.rels[k]; exists {
		return nil
	}
	s.rels[k] = rel
	return nil
}

// Relationships lists stored links for a kind, ordered by key pair.
func (s *Store) Relationships(kind registry.RelationshipKind) []registry.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registry.Relationship
	for k, rel := range s.rels {
		if k.kind == kind {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromKey != out[j].FromKey {
			return out[i].FromKey < out[j].FromKey
		}
		return out[i].ToKey < out[j].ToKey
	})
	return out
}
