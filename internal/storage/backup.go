package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maltedev/br-price-tracker/internal/models"
)

// BackupVersion is the only file format LoadBackup accepts.
const BackupVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported backup version")

// Backup is the on-disk export of the price history.
type Backup struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Snapshots  []models.Snapshot `json:"snapshots"`
}

func NewBackup(snaps []models.Snapshot) *Backup {
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	return &Backup{
		Version:    BackupVersion,
		ExportedAt: time.Now().UTC().Truncate(time.Second),
		Snapshots:  snaps,
	}
}

// SaveBackup writes b to path. The file is replaced atomically so a crash
// never leaves a truncated backup behind.
func SaveBackup(path string, b *Backup) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close backup: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// LoadBackup reads a backup written by SaveBackup.
func LoadBackup(path string) (*Backup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeBackup(data)
}

// DecodeBackup parses and validates a backup document.
func DecodeBackup(data []byte) (*Backup, error) {
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	if b.Version != BackupVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b.Version)
	}
	if b.Snapshots == nil {
		b.Snapshots = []models.Snapshot{}
	}
	return &b, nil
}
