package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

const backupSuffix = ".bak"

// BackupManager owns every backup file around the catalog: it snapshots
// the live file before each commit and applies retention afterwards.
// Nothing else creates or deletes backups.
type BackupManager struct {
	logger *zap.Logger
	// livePath is the catalog file the snapshots are taken of.
	livePath string
}

func NewBackupManager(logger *zap.Logger, livePath string) *BackupManager {
	return &BackupManager{logger: logger, livePath: livePath}
}

// Snapshot copies the live file to a timestamped backup beside it and
// prunes older backups, keeping only the one just written. A missing
// live file (first commit) is not an error.
func (b *BackupManager) Snapshot() error {
	if _, err := os.Stat(b.livePath); os.IsNotExist(err) {
		return nil
	}

	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	dst := fmt.Sprintf("%s.%s%s", b.livePath, stamp, backupSuffix)

	if err := copyFile(b.livePath, dst); err != nil {
		return fmt.Errorf("failed to snapshot catalog: %w", err)
	}

	b.prune(dst)
	return nil
}

// prune removes every backup except keep. Retention failures are logged
// and swallowed: a stale backup is preferable to a failed commit.
func (b *BackupManager) prune(keep string) {
	backups, err := b.Backups()
	if err != nil {
		b.logger.Warn("Failed to list backups for pruning", zap.Error(err))
		return
	}
	for _, path := range backups {
		if path == keep {
			continue
		}
		if err := os.Remove(path); err != nil {
			b.logger.Warn("Failed to prune old backup",
				zap.String("backup", path),
				zap.Error(err))
		}
	}
}

// Backups lists all timestamped backups of the live file, oldest first.
func (b *BackupManager) Backups() ([]string, error) {
	matches, err := filepath.Glob(b.livePath + ".*" + backupSuffix)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// PurgeAll bulk-deletes every backup. It is destructive and refuses to
// run without explicit confirmation from the operator.
func (b *BackupManager) PurgeAll(confirm bool) (int, error) {
	if !confirm {
		return 0, fmt.Errorf("refusing to purge backups without confirmation")
	}

	backups, err := b.Backups()
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}

	removed := 0
	for _, path := range backups {
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
	}

	b.logger.Info("Purged catalog backups", zap.Int("removed", removed))
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
