package domain

import (
	"context"
	"time"
)

// ListOpts are standard pagination/time-filter options for store queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PlanStore persists emitted execution plans for audit and review.
type PlanStore interface {
	Insert(ctx context.Context, plan ExecutionPlan) error
	Get(ctx context.Context, id string) (ExecutionPlan, error)
	List(ctx context.Context, opts ListOpts) ([]ExecutionPlan, error)
	// ListBefore returns plans created before the cutoff, oldest first.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ExecutionPlan, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// VenueStatSample is one periodic observation of a venue's metrics.
type VenueStatSample struct {
	ID         int64
	Venue      string
	LatencyMs  float64
	SpreadBps  float64
	DepthUsd   float64
	Reliability float64
	SampledAt  time.Time
}

// VenueStatStore persists periodic venue metric samples.
type VenueStatStore interface {
	Insert(ctx context.Context, sample VenueStatSample) error
	List(ctx context.Context, venue string, opts ListOpts) ([]VenueStatSample, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]VenueStatSample, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore records engine events (gaps, resyncs, degradations) as an
// append-only log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is one persisted audit event.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// BlobWriter writes an object to blob storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
