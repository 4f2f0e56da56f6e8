// Package registry defines core types shared across harvester subsystems.
package registry

import (
	"time"
)

// EntityKind identifies which registry section a record belongs to.
type EntityKind string

// Entity kinds harvested from the registry.
const (
	KindStandard  EntityKind = "standard"
	KindCertifier EntityKind = "certifier"
	KindCenter    EntityKind = "center"
	KindSector    EntityKind = "sector"
	KindCommittee EntityKind = "committee"
)

// Kinds lists every entity kind in harvest order.
func Kinds() []EntityKind {
	return []EntityKind{KindStandard, KindCertifier, KindCenter, KindSector, KindCommittee}
}

// Valid reports whether the kind is one the harvester knows about.
func (k EntityKind) Valid() bool {
	switch k {
	case KindStandard, KindCertifier, KindCenter, KindSector, KindCommittee:
		return true
	}
	return false
}

// RawRecord is what the extractor hands the pipeline: one scraped entity,
// untrusted and unnormalized.
type RawRecord struct {
	Kind       EntityKind     `json:"kind"`
	NaturalKey string         `json:"natural_key"`
	Fields     map[string]any `json:"fields"`
	SourceURL  string         `json:"source_url"`
}

// Record is a validated, normalized, fingerprinted record ready for storage.
// Fields hold the canonical form the content hash was computed over;
// SourceURL is provenance only and never participates in the hash.
type Record struct {
	Kind        EntityKind     `json:"kind"`
	NaturalKey  string         `json:"natural_key"`
	Fields      map[string]any `json:"fields"`
	SourceURL   string         `json:"source_url"`
	ContentHash string         `json:"content_hash"`
}

// UpsertOutcome is the result of writing one record to the versioned store.
type UpsertOutcome string

// Upsert outcomes.
const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUnchanged UpsertOutcome = "unchanged"
	OutcomeVersioned UpsertOutcome = "versioned"
)

// EntityVersion is one stored observation window of an entity. Rows are
// append-only: FirstSeen is set at creation and never changes, LastSeen
// advances on each re-observation of the same content.
type EntityVersion struct {
	Kind        EntityKind     `json:"kind"`
	NaturalKey  string         `json:"natural_key"`
	Fields      map[string]any `json:"fields"`
	ContentHash string         `json:"content_hash"`
	SourceURL   string         `json:"source_url"`
	SnapshotURI string         `json:"snapshot_uri,omitempty"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
}

// RelationshipKind labels an entity-to-entity link table.
type RelationshipKind string

// Relationship kinds observed in the registry.
const (
	RelCertifierStandard RelationshipKind = "certifier_standard"
	RelCenterStandard    RelationshipKind = "center_standard"
	RelSectorCommittee   RelationshipKind = "sector_committee"
	RelCommitteeStandard RelationshipKind = "committee_standard"
)

// Relationship links two entities by natural key. Unique per key pair;
// created on first observation and never updated.
type Relationship struct {
	Kind      RelationshipKind `json:"kind"`
	FromKey   string           `json:"from_key"`
	ToKey     string           `json:"to_key"`
	RunID     string           `json:"run_id"`
	CreatedAt time.Time        `json:"created_at"`
}

// RunStatus represents the lifecycle state of a harvest run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunStats counts what one harvest run did. The invariant
// Created+Unchanged+Versioned+Errored == Seen holds at run close.
type RunStats struct {
	Seen      int64 `json:"seen"`
	Created   int64 `json:"created"`
	Unchanged int64 `json:"unchanged"`
	Versioned int64 `json:"versioned"`
	Errored   int64 `json:"errored"`
}

// RunError is one structured pipeline failure recorded against a run.
type RunError struct {
	Stage      string     `json:"stage"`
	Kind       EntityKind `json:"kind,omitempty"`
	NaturalKey string     `json:"natural_key,omitempty"`
	Message    string     `json:"message"`
	At         time.Time  `json:"at"`
}

// Run is the audit row for one harvest execution.
type Run struct {
	ID        string     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Status    RunStatus  `json:"status"`
	Stats     RunStats   `json:"stats"`
	Errors    []RunError `json:"errors,omitempty"`
}

// FetchRequest asks the fetcher for one registry page.
type FetchRequest struct {
	URL       string
	UserAgent string
}

// FetchResponse is the raw fetched page handed to the extractor.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// InvalidationEvent is published when an entity's current version changes,
// so downstream caches can drop the affected key.
type InvalidationEvent struct {
	Kind       EntityKind    `json:"entity_kind"`
	NaturalKey string        `json:"natural_key"`
	Outcome    UpsertOutcome `json:"outcome"`
	RunID      string        `json:"run_id"`
	TS         time.Time     `json:"ts"`
}
