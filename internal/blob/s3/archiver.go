package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// archiveBatchSize bounds how many rows a single archive file holds.
const archiveBatchSize = 10000

// Archiver moves aged execution plans and venue stat samples out of the
// primary store: rows older than the retention cutoff are serialized to
// JSONL, uploaded to object storage, and only then deleted. Every archive
// run is recorded in the audit log.
type Archiver struct {
	writer domain.BlobWriter
	plans  domain.PlanStore
	stats  domain.VenueStatStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver over the given sinks. audit may be nil.
func NewArchiver(writer domain.BlobWriter, plans domain.PlanStore, stats domain.VenueStatStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		plans:  plans,
		stats:  stats,
		audit:  audit,
	}
}

// ArchivePlans uploads all plans created before the cutoff and deletes them
// from the store once the upload succeeded. It returns the number archived.
func (a *Archiver) ArchivePlans(ctx context.Context, before time.Time) (int64, error) {
	plans, err := a.plans.ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive plans query: %w", err)
	}
	if len(plans) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(plans)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive plans marshal: %w", err)
	}

	path := archivePath("plans", before)
	if err := a.writer.Write(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive plans upload: %w", err)
	}

	deleted, err := a.plans.DeleteBefore(ctx, plans[len(plans)-1].CreatedAt.Add(time.Nanosecond))
	if err != nil {
		return int64(len(plans)), fmt.Errorf("s3blob: archive plans prune: %w", err)
	}

	a.logArchive(ctx, "archive.plans", path, deleted, before)
	return deleted, nil
}

// ArchiveVenueStats uploads all venue stat samples taken before the cutoff
// and deletes them once the upload succeeded. It returns the number
// archived.
func (a *Archiver) ArchiveVenueStats(ctx context.Context, before time.Time) (int64, error) {
	samples, err := a.stats.ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive venue stats query: %w", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(samples)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive venue stats marshal: %w", err)
	}

	path := archivePath("venue_stats", before)
	if err := a.writer.Write(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive venue stats upload: %w", err)
	}

	deleted, err := a.stats.DeleteBefore(ctx, samples[len(samples)-1].SampledAt.Add(time.Nanosecond))
	if err != nil {
		return int64(len(samples)), fmt.Errorf("s3blob: archive venue stats prune: %w", err)
	}

	a.logArchive(ctx, "archive.venue_stats", path, deleted, before)
	return deleted, nil
}

// Run performs archive passes at the given interval until the context is
// cancelled. retention is how long rows stay in the primary store.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if _, err := a.ArchivePlans(ctx, cutoff); err != nil {
				return err
			}
			if _, err := a.ArchiveVenueStats(ctx, cutoff); err != nil {
				return err
			}
		}
	}
}

func (a *Archiver) logArchive(ctx context.Context, event, path string, count int64, before time.Time) {
	if a.audit == nil {
		return
	}
	_ = a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff and stamped with the upload time so repeated runs
// within a month never overwrite each other.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%d.jsonl", kind, before.Format("2006-01"), time.Now().UnixMilli())
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
