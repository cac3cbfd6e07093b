package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ocr_usage (
			id SERIAL PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			year_month VARCHAR(7) NOT NULL,
			image_count INTEGER DEFAULT 0,
			billable_count INTEGER DEFAULT 0,
			total_cost DECIMAL(10,2) DEFAULT 0,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW(),
			UNIQUE(tenant_id, year_month)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ocr_usage: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ocr_requests (
			id SERIAL PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			request_time TIMESTAMP DEFAULT NOW(),
			success BOOLEAN,
			error_code VARCHAR(50),
			processing_time_ms INTEGER,
			file_size_bytes INTEGER,
			output_level VARCHAR(20)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ocr_requests: %w", err)
	}

	return nil
}

// RecordSuccess is a single upsert so concurrent requests for the same
// tenant and month never lose updates. The CASE arms compare the
// pre-increment image_count against the quota, which is what makes the
// (quota+1)-th image the first billable one.
func (s *PostgresStore) RecordSuccess(ctx context.Context, tenantID, yearMonth string, pricePerImage float64, freeQuota int) (*Snapshot, error) {
	query := `
		INSERT INTO ocr_usage (tenant_id, year_month, image_count, billable_count, total_cost)
		VALUES ($1, $2, 1,
			CASE WHEN 1 > $3 THEN 1 ELSE 0 END,
			CASE WHEN 1 > $3 THEN $4::numeric ELSE 0 END)
		ON CONFLICT (tenant_id, year_month) DO UPDATE SET
			image_count = ocr_usage.image_count + 1,
			billable_count = CASE
				WHEN ocr_usage.image_count >= $3 THEN ocr_usage.billable_count + 1
				ELSE ocr_usage.billable_count
			END,
			total_cost = CASE
				WHEN ocr_usage.image_count >= $3 THEN ocr_usage.total_cost + $4::numeric
				ELSE ocr_usage.total_cost
			END,
			updated_at = NOW()
		RETURNING image_count, billable_count, total_cost
	`

	snap := &Snapshot{TenantID: tenantID, YearMonth: yearMonth}
	err := s.db.QueryRow(ctx, query, tenantID, yearMonth, freeQuota, pricePerImage).
		Scan(&snap.ImageCount, &snap.BillableCount, &snap.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	snap.FreeRemaining = freeRemaining(freeQuota, snap.ImageCount)

	return snap, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, yearMonth string, freeQuota int) (*Snapshot, error) {
	query := `
		SELECT image_count, billable_count, total_cost
		FROM ocr_usage WHERE tenant_id = $1 AND year_month = $2
	`

	snap := &Snapshot{TenantID: tenantID, YearMonth: yearMonth}
	err := s.db.QueryRow(ctx, query, tenantID, yearMonth).
		Scan(&snap.ImageCount, &snap.BillableCount, &snap.TotalCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			snap.FreeRemaining = freeQuota
			return snap, nil
		}
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	snap.FreeRemaining = freeRemaining(freeQuota, snap.ImageCount)

	return snap, nil
}

func (s *PostgresStore) ListMonth(ctx context.Context, yearMonth string, freeQuota int) ([]*Snapshot, error) {
	query := `
		SELECT tenant_id, image_count, billable_count, total_cost
		FROM ocr_usage WHERE year_month = $1
		ORDER BY image_count DESC
	`
	rows, err := s.db.Query(ctx, query, yearMonth)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap := &Snapshot{YearMonth: yearMonth}
		if err := rows.Scan(&snap.TenantID, &snap.ImageCount, &snap.BillableCount, &snap.TotalCost); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		snap.FreeRemaining = freeRemaining(freeQuota, snap.ImageCount)
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage rows: %w", err)
	}

	return snaps, nil
}

func (s *PostgresStore) LogRequest(ctx context.Context, entry *RequestLogEntry) error {
	query := `
		INSERT INTO ocr_requests (tenant_id, success, error_code, processing_time_ms, file_size_bytes, output_level)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query,
		entry.TenantID, entry.Success, entry.ErrorCode,
		entry.ProcessingTimeMs, entry.FileSizeBytes, entry.OutputLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to log request: %w", err)
	}

	return nil
}
