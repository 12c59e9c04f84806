package report

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared across subsystems.
var (
	// ErrQuotaExceeded is returned by UsageStore.Reserve when the user has
	// no remaining quota units for the current period.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNotFound is returned when the registry has no parcel for a
	// reference, or a store has no row for an ID.
	ErrNotFound = errors.New("not found")
)

// QueryStore persists query records and their transition audit trail.
type QueryStore interface {
	CreateQuery(ctx context.Context, q Query) error
	UpdateQuery(ctx context.Context, q Query) error
	GetQuery(ctx context.Context, id string) (Query, error)
}

// UsageStore owns the per-user usage counter. Reserve is the single point
// of quota mutation and must be atomic with respect to concurrent
// reservations for the same user.
type UsageStore interface {
	// Reserve conditionally increments the counter and returns its new
	// value, or ErrQuotaExceeded without mutating anything.
	Reserve(ctx context.Context, userID string, quota int) (UsageCounter, error)
	// Release returns one previously reserved unit.
	Release(ctx context.Context, userID string) error
	// Usage reads the current counter without mutating it.
	Usage(ctx context.Context, userID string) (UsageCounter, error)
}

// ArchiveStore writes the final archive to durable storage and returns a URI.
type ArchiveStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// GetObject streams a stored archive back. Returns ErrNotFound when
	// no object exists at path.
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RegistryClient is the normalized contract of the cadastral registry.
type RegistryClient interface {
	// FetchParcel resolves a cadastral reference into coordinates,
	// boundary geometry and raw GML.
	FetchParcel(ctx context.Context, reference string) (RegistryPayload, error)
	// FetchDocument streams one registry document for the parcel.
	FetchDocument(ctx context.Context, reference string, kind DocumentKind, center Coordinate) ([]byte, error)
}

// WeatherClient is the normalized contract of the meteorological source.
type WeatherClient interface {
	FetchConditions(ctx context.Context, location Coordinate) (WeatherPayload, error)
}

// RetryPolicy decides retry behavior for external calls.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces query IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
