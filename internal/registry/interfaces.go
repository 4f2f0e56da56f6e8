package registry

import (
	"context"
	"time"
)

// EntityStore persists versioned entity rows and relationship links.
type EntityStore interface {
	// Upsert writes one observation atomically per natural key and
	// reports whether it created, refreshed, or versioned the entity.
	Upsert(ctx context.Context, rec Record, observedAt time.Time, snapshotURI string) (UpsertOutcome, error)
	// Current resolves the row with the greatest first_seen for the key.
	Current(ctx context.Context, kind EntityKind, key string) (EntityVersion, error)
	// History returns every stored version ordered by first_seen ascending.
	History(ctx context.Context, kind EntityKind, key string) ([]EntityVersion, error)
	// ListCurrent pages through the current projection for a kind.
	ListCurrent(ctx context.Context, kind EntityKind, limit, offset int) ([]EntityVersion, error)
	// AddRelationship records a link once per key pair; replays are no-ops.
	AddRelationship(ctx context.Context, rel Relationship) error
}

// RunStore persists harvest run audit rows.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	CloseRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
}

// Archiver stores raw page snapshots and returns a URI for provenance.
type Archiver interface {
	Archive(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes cache-invalidation events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves a registry page. Implementations must consult the
// resilience governor before touching the network.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Extractor turns a fetched page into raw records. DOM parsing lives
// behind this interface and outside the core.
type Extractor interface {
	Extract(page FetchResponse) ([]RawRecord, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
