// Package fstab reconciles and persists the swap entries of a mount table.
package fstab

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/renameio/v2"
	"github.com/runningman84/swap-operator/pkg/models"
	"github.com/runningman84/swap-operator/pkg/parser"
)

const defaultFileMode fs.FileMode = 0644

// Reconcile returns a new table without any entry whose source is one of
// devices, followed by a fresh swap entry for each device in the given order.
// The existing table is not modified. Duplicate devices yield duplicate entries.
func Reconcile(existing *models.FstabTable, devices []string) *models.FstabTable {
	targets := make(map[string]struct{}, len(devices))
	for _, device := range devices {
		targets[device] = struct{}{}
	}

	result := &models.FstabTable{}
	if existing != nil {
		for _, entry := range existing.Entries {
			if !entry.IsComment() {
				if _, ok := targets[entry.Source]; ok {
					continue
				}
			}
			result.Entries = append(result.Entries, entry)
		}
	}

	for _, device := range devices {
		result.Entries = append(result.Entries, models.NewSwapEntry(device))
	}

	return result
}

// Load reads and parses the mount table at path
func Load(path string) (*models.FstabTable, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read fstab %s: %w", path, err)
	}
	return parser.ParseFstab(data)
}

// Save replaces the mount table at path with table. The content is written to
// a temporary file in the same directory and renamed into place, keeping the
// permissions of the existing file.
func Save(path string, table *models.FstabTable) error {
	mode := defaultFileMode
	info, err := os.Stat(path)
	switch {
	case err == nil:
		mode = info.Mode().Perm()
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to stat fstab %s: %w", path, err)
	}

	if err := renameio.WriteFile(path, []byte(parser.SerializeFstab(table)), mode); err != nil {
		return fmt.Errorf("failed to write fstab %s: %w", path, err)
	}
	return nil
}
