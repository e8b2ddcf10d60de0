package notifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pilot-net/urlcheck/pkg/types"
)

// AlertLog appends one newline-delimited JSON object per alert event to a
// day-rotated file, logs/alert_<YYYY-MM-DD>.log. Old files are purged at
// most once per minute, matching the spec's explicit purge-rate cap so a
// busy alert stream doesn't turn retention cleanup into its own bottleneck.
type AlertLog struct {
	dir            string
	retentionDays  int
	logger         *slog.Logger

	mu         sync.Mutex
	lastPurge  time.Time
}

type alertLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Type      string    `json:"type"`
	TaskName  string    `json:"task_name"`
	AlertType string    `json:"alert_type"`
	Message   string    `json:"message"`
}

// NewAlertLog creates the log directory if needed.
func NewAlertLog(dir string, retentionDays int, logger *slog.Logger) (*AlertLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating alert log directory: %w", err)
	}
	if retentionDays < 0 {
		retentionDays = 30
	}
	return &AlertLog{dir: dir, retentionDays: retentionDays, logger: logger.With("component", "alertlog")}, nil
}

// Append writes one line for event to today's log file.
func (a *AlertLog) Append(event types.AlertEvent) error {
	entryType := "故障"
	if event.Type == types.AlertEventRecovery {
		entryType = "恢复"
	}
	entry := alertLogEntry{
		Timestamp: event.At,
		Level:     "warn",
		Type:      entryType,
		TaskName:  event.TaskName,
		AlertType: string(event.Kind),
		Message:   event.Message,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling alert log entry: %w", err)
	}

	path := filepath.Join(a.dir, fmt.Sprintf("alert_%s.log", event.At.Format("2006-01-02")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening alert log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing alert log entry: %w", err)
	}

	a.maybePurge()
	return nil
}

// maybePurge removes alert log files older than the retention horizon, at
// most once per minute. retentionDays = 0 disables purging.
func (a *AlertLog) maybePurge() {
	if a.retentionDays <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Sub(a.lastPurge) < time.Minute {
		return
	}
	a.lastPurge = now

	matches, err := filepath.Glob(filepath.Join(a.dir, "alert_*.log"))
	if err != nil {
		a.logger.Warn("alert log purge glob failed", "error", err)
		return
	}
	horizon := now.AddDate(0, 0, -a.retentionDays)
	for _, m := range matches {
		date, ok := parseAlertLogDate(m)
		if !ok {
			continue
		}
		if date.Before(horizon) {
			if err := os.Remove(m); err != nil {
				a.logger.Warn("failed to purge old alert log", "file", m, "error", err)
			}
		}
	}
}

func parseAlertLogDate(path string) (time.Time, bool) {
	base := filepath.Base(path)
	base = strings.TrimPrefix(base, "alert_")
	base = strings.TrimSuffix(base, ".log")
	t, err := time.Parse("2006-01-02", base)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Close is a no-op: files are opened per write, not held open.
func (a *AlertLog) Close() error { return nil }
