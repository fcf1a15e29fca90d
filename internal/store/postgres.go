package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cloudvigil/cloudvigil/internal/report"
)

// PostgresStore persists scans and findings in Postgres, the store used by
// the multi-tenant SaaS deployment. Schema management is external
// (migrations); this layer only reads and writes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveScan(ctx context.Context, scan *ScanRecord) error {
	const q = `
INSERT INTO scans
(id, organization_id, account_id, cloud_provider, scan_type, status,
 started_at, completed_at, findings_total, failed_checks, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 completed_at = EXCLUDED.completed_at,
 findings_total = EXCLUDED.findings_total,
 failed_checks = EXCLUDED.failed_checks,
 error = EXCLUDED.error;`

	_, err := s.db.ExecContext(ctx, q,
		scan.ID, scan.OrganizationID, scan.AccountID, scan.CloudProvider,
		scan.ScanType, scan.Status, scan.StartedAt, scan.CompletedAt,
		scan.FindingsTotal, scan.FailedChecks, nullString(scan.Error))
	return err
}

func (s *PostgresStore) GetScan(ctx context.Context, id string) (*ScanRecord, error) {
	const q = `
SELECT id, organization_id, account_id, cloud_provider, scan_type, status,
       started_at, completed_at, findings_total, failed_checks, error
FROM scans WHERE id = $1 LIMIT 1;`
	return scanRecordFromRow(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) LatestCompletedScan(ctx context.Context, accountID string) (*ScanRecord, error) {
	const q = `
SELECT id, organization_id, account_id, cloud_provider, scan_type, status,
       started_at, completed_at, findings_total, failed_checks, error
FROM scans
WHERE account_id = $1 AND status = $2
ORDER BY started_at DESC
LIMIT 1;`
	return scanRecordFromRow(s.db.QueryRowContext(ctx, q, accountID, StatusCompleted))
}

func (s *PostgresStore) CreateFindings(ctx context.Context, scanID string, findings []report.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
INSERT INTO findings
(scan_id, fingerprint, severity, title, description, service, region,
 resource_id, resource_type, category, check_id, resolved_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (scan_id, fingerprint) DO NOTHING;`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range findings {
		f := &findings[i]
		if _, err := stmt.ExecContext(ctx, scanID, f.Fingerprint, string(f.Severity),
			f.Title, f.Description, f.Service, f.Region, f.ResourceID,
			f.ResourceType, f.Category, f.CheckID, f.ResolvedAt); err != nil {
			return fmt.Errorf("inserting finding %s: %w", f.Fingerprint, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) FindingsByScan(ctx context.Context, scanID string) ([]report.Finding, error) {
	const q = `
SELECT fingerprint, severity, title, description, service, region,
       resource_id, resource_type, category, check_id, resolved_at
FROM findings WHERE scan_id = $1;`

	rows, err := s.db.QueryContext(ctx, q, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []report.Finding
	for rows.Next() {
		var f report.Finding
		var severity string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&f.Fingerprint, &severity, &f.Title, &f.Description,
			&f.Service, &f.Region, &f.ResourceID, &f.ResourceType,
			&f.Category, &f.CheckID, &resolvedAt); err != nil {
			return nil, err
		}
		f.Severity = report.Severity(severity)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			f.ResolvedAt = &t
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (s *PostgresStore) ResolveFindings(ctx context.Context, scanID string, fingerprints []string, at time.Time) error {
	if len(fingerprints) == 0 {
		return nil
	}

	const q = `
UPDATE findings SET resolved_at = $1
WHERE scan_id = $2 AND fingerprint = ANY($3);`

	_, err := s.db.ExecContext(ctx, q, at, scanID, pq.Array(fingerprints))
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
