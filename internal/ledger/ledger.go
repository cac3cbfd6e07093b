// Package ledger owns the only durable state of the service: per-tenant
// monthly usage counters and the per-request audit log.
package ledger

import (
	"context"
	"time"
)

// Snapshot is the post-update view of one tenant's counters for one
// calendar month. Invariants: BillableCount <= ImageCount and
// TotalCost == BillableCount * price per image.
type Snapshot struct {
	TenantID      string  `json:"tenant_id"`
	YearMonth     string  `json:"year_month"`
	ImageCount    int     `json:"image_count"`
	FreeRemaining int     `json:"free_remaining"`
	BillableCount int     `json:"billable_count"`
	TotalCost     float64 `json:"total_cost"`
}

// RequestLogEntry is the immutable audit record, one per inbound
// request whether or not it succeeded.
type RequestLogEntry struct {
	TenantID         string
	Success          bool
	ErrorCode        string
	ProcessingTimeMs int
	FileSizeBytes    int
	OutputLevel      string
}

type Store interface {
	// EnsureSchema creates the usage and request tables if absent.
	EnsureSchema(ctx context.Context) error

	// RecordSuccess atomically bumps the (tenant, month) counters.
	// Billability is decided from the pre-increment image count: the
	// first image past the free quota is the first billable one.
	RecordSuccess(ctx context.Context, tenantID, yearMonth string, pricePerImage float64, freeQuota int) (*Snapshot, error)

	// Get returns the row or an all-zero synthetic snapshot; it never
	// creates rows.
	Get(ctx context.Context, tenantID, yearMonth string, freeQuota int) (*Snapshot, error)

	// ListMonth returns every tenant's snapshot for the month, ordered
	// by image count descending.
	ListMonth(ctx context.Context, yearMonth string, freeQuota int) ([]*Snapshot, error)

	LogRequest(ctx context.Context, entry *RequestLogEntry) error
}

// MonthOf formats the ledger month key. The service month boundary is
// wall-clock UTC.
func MonthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func freeRemaining(freeQuota, imageCount int) int {
	if r := freeQuota - imageCount; r > 0 {
		return r
	}
	return 0
}
