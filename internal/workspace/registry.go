package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// registryVersion is bumped on incompatible registry schema changes.
const registryVersion = 1

// registryFile is the on-disk shape of the workspace registry.
type registryFile struct {
	Version    int                      `json:"version"`
	SavedAt    time.Time                `json:"saved_at"`
	Workspaces []models.WorkspaceRecord `json:"workspaces"`
}

// loadRegistry reads the registry file. A missing file yields an empty
// registry, not an error.
func loadRegistry(path string) (map[string]*models.WorkspaceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*models.WorkspaceRecord), nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	records := make(map[string]*models.WorkspaceRecord, len(file.Workspaces))
	for i := range file.Workspaces {
		rec := file.Workspaces[i]
		records[rec.TaskID] = &rec
	}
	return records, nil
}

// persistLocked writes the registry file atomically. Persistence
// failures are retried once; on repeated failure the in-memory state
// remains authoritative and a warning is surfaced. Callers must hold
// the manager lock.
func (m *Manager) persistLocked() {
	if err := m.writeRegistry(); err != nil {
		if err := m.writeRegistry(); err != nil {
			m.warnf("workspace registry persist failed, in-memory state is authoritative: %v", err)
		}
	}
}

func (m *Manager) writeRegistry() error {
	file := registryFile{
		Version: registryVersion,
		SavedAt: time.Now(),
	}
	for _, rec := range m.records {
		file.Workspaces = append(file.Workspaces, *rec)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp := m.registryPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, m.registryPath); err != nil {
		return fmt.Errorf("rename registry: %w", err)
	}
	return nil
}
