// Package state provides SQLite-based persistence for herd's audit trail.
package state

import (
	"io"

	"github.com/ShayCichocki/herd/pkg/models"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// ResultStore handles orchestration result persistence.
type ResultStore interface {
	SaveResult(r *models.OrchestrationResult) error
	GetResult(id string) (*models.OrchestrationResult, error)
	ListResults(limit int) ([]models.OrchestrationResult, error)
	ArchiveProcesses(orchestrationID string, records []models.ProcessRecord) error
}

// Store defines the interface for audit persistence. The coordinator
// works with any backend without depending on the SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	ResultStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store       = (*DB)(nil)
	_ Migrator    = (*DB)(nil)
	_ ResultStore = (*DB)(nil)
)
