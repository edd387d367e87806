package service

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corvid-labs/rook/internal/observability"
)

// janitorSchedule runs the artifact sweep daily, off-peak.
const janitorSchedule = "0 4 * * *"

// Janitor deletes delegated-CLI artifacts past their retention age. The
// untruncated captures exist so a conversation can point back at full output;
// after a week nothing points at them anymore.
type Janitor struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger
	cron   *cron.Cron
}

// NewJanitor creates a Janitor for dir with retention in days.
func NewJanitor(dir string, maxAgeDays int, logger *slog.Logger) *Janitor {
	return &Janitor{
		dir:    dir,
		maxAge: time.Duration(maxAgeDays) * 24 * time.Hour,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start sweeps once immediately, then on the daily schedule.
func (j *Janitor) Start() {
	j.cron.AddFunc(janitorSchedule, func() {
		if _, err := j.Sweep(); err != nil {
			j.logger.Warn("artifact sweep failed", "error", err)
		}
	})
	j.cron.Start()
	if _, err := j.Sweep(); err != nil {
		j.logger.Warn("artifact sweep failed", "error", err)
	}
}

// Stop halts the schedule. In-flight sweeps finish.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

// Sweep removes artifacts older than the retention age and returns how many
// were purged.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-j.maxAge)
	purged := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("failed to remove stale artifact", "path", path, "error", err)
			continue
		}
		purged++
		observability.ArtifactsPurged.Inc()
	}
	if purged > 0 {
		j.logger.Info("purged stale artifacts", "count", purged, "dir", j.dir)
	}
	return purged, nil
}
