// Package store is the persistence boundary for scans and findings. The
// engine only depends on the Store interface; the concrete database lives
// behind it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cloudvigil/cloudvigil/internal/report"
)

// ErrNotFound is returned when a scan does not exist.
var ErrNotFound = errors.New("not found")

// Scan statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScanRecord is one scan's metadata row.
type ScanRecord struct {
	ID             string
	OrganizationID string
	AccountID      string
	CloudProvider  string
	ScanType       string
	Status         string
	StartedAt      time.Time
	CompletedAt    *time.Time
	FindingsTotal  int
	FailedChecks   int
	Error          string
}

// Store is the narrow read/write contract the engine needs.
type Store interface {
	// SaveScan inserts or updates the scan row.
	SaveScan(ctx context.Context, scan *ScanRecord) error
	// GetScan loads one scan by ID; ErrNotFound when absent.
	GetScan(ctx context.Context, id string) (*ScanRecord, error)
	// LatestCompletedScan returns the most recent completed scan for an
	// account, or ErrNotFound on a first scan.
	LatestCompletedScan(ctx context.Context, accountID string) (*ScanRecord, error)
	// CreateFindings persists a batch of findings under a scan.
	CreateFindings(ctx context.Context, scanID string, findings []report.Finding) error
	// FindingsByScan loads every finding recorded for a scan.
	FindingsByScan(ctx context.Context, scanID string) ([]report.Finding, error)
	// ResolveFindings stamps resolved_at on the given fingerprints of a
	// prior scan that disappeared from the current one.
	ResolveFindings(ctx context.Context, scanID string, fingerprints []string, at time.Time) error
	// Close releases the underlying connection.
	Close() error
}
