package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/cloudvigil/cloudvigil/internal/report"
)

// DuckDBStore persists scans and findings in an embedded DuckDB file, the
// default for single-node and CLI deployments.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore opens (or creates) the database at dbPath and initializes
// the schema.
func NewDuckDBStore(dbPath string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, err
	}
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DuckDBStore{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			id VARCHAR PRIMARY KEY,
			organization_id VARCHAR NOT NULL,
			account_id VARCHAR NOT NULL,
			cloud_provider VARCHAR NOT NULL,
			scan_type VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			findings_total INTEGER DEFAULT 0,
			failed_checks INTEGER DEFAULT 0,
			error VARCHAR
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS findings (
			scan_id VARCHAR NOT NULL,
			fingerprint VARCHAR NOT NULL,
			severity VARCHAR NOT NULL,
			title VARCHAR NOT NULL,
			description VARCHAR,
			service VARCHAR NOT NULL,
			region VARCHAR NOT NULL,
			resource_id VARCHAR,
			resource_type VARCHAR,
			category VARCHAR,
			check_id VARCHAR NOT NULL,
			resolved_at TIMESTAMP,
			PRIMARY KEY (scan_id, fingerprint)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_scans_account ON scans(account_id);
		CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings(scan_id);
	`)
	return err
}

func (s *DuckDBStore) SaveScan(ctx context.Context, scan *ScanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scans
		(id, organization_id, account_id, cloud_provider, scan_type, status,
		 started_at, completed_at, findings_total, failed_checks, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, scan.ID, scan.OrganizationID, scan.AccountID, scan.CloudProvider,
		scan.ScanType, scan.Status, scan.StartedAt, scan.CompletedAt,
		scan.FindingsTotal, scan.FailedChecks, scan.Error)
	return err
}

func (s *DuckDBStore) GetScan(ctx context.Context, id string) (*ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, account_id, cloud_provider, scan_type,
		       status, started_at, completed_at, findings_total, failed_checks, error
		FROM scans WHERE id = ?
	`, id)
	return scanRecordFromRow(row)
}

func (s *DuckDBStore) LatestCompletedScan(ctx context.Context, accountID string) (*ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, account_id, cloud_provider, scan_type,
		       status, started_at, completed_at, findings_total, failed_checks, error
		FROM scans
		WHERE account_id = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, accountID, StatusCompleted)
	return scanRecordFromRow(row)
}

func (s *DuckDBStore) CreateFindings(ctx context.Context, scanID string, findings []report.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO findings
		(scan_id, fingerprint, severity, title, description, service, region,
		 resource_id, resource_type, category, check_id, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
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

func (s *DuckDBStore) FindingsByScan(ctx context.Context, scanID string) ([]report.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, severity, title, description, service, region,
		       resource_id, resource_type, category, check_id, resolved_at
		FROM findings WHERE scan_id = ?
	`, scanID)
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

func (s *DuckDBStore) ResolveFindings(ctx context.Context, scanID string, fingerprints []string, at time.Time) error {
	if len(fingerprints) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fingerprints)), ",")
	args := make([]interface{}, 0, len(fingerprints)+2)
	args = append(args, at, scanID)
	for _, fp := range fingerprints {
		args = append(args, fp)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE findings SET resolved_at = ?
		WHERE scan_id = ? AND fingerprint IN (%s)
	`, placeholders), args...)
	return err
}

func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

func scanRecordFromRow(row *sql.Row) (*ScanRecord, error) {
	var rec ScanRecord
	var completedAt sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&rec.ID, &rec.OrganizationID, &rec.AccountID, &rec.CloudProvider,
		&rec.ScanType, &rec.Status, &rec.StartedAt, &completedAt,
		&rec.FindingsTotal, &rec.FailedChecks, &errMsg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	rec.Error = errMsg.String
	return &rec, nil
}
