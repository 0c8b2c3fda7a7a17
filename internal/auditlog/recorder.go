// Package auditlog writes the per-request audit trail. Recording is
// best-effort: a failed write is logged and swallowed so it never alters
// the response already computed for the caller.
package auditlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/risecrm/apigate/internal/models"
	"github.com/risecrm/apigate/internal/repository"
	"github.com/risecrm/apigate/internal/settings"
)

const (
	// RedactionMarker replaces sensitive top-level values in logged bodies.
	RedactionMarker = "[REDACTED]"
	// disabledPlaceholder is stored instead of bodies when body logging is off.
	disabledPlaceholder = "[body logging disabled]"

	defaultMaxBodySize   = 10240
	defaultRetentionDays = 90
)

var redactedKeys = []string{"password", "api_secret"}

type Recorder struct {
	logs     *repository.APILogRepository
	settings *repository.SettingsRepository
	logger   *slog.Logger
}

func NewRecorder(logs *repository.APILogRepository, sets *repository.SettingsRepository, logger *slog.Logger) *Recorder {
	return &Recorder{logs: logs, settings: sets, logger: logger}
}

// Record persists one audit row for a completed request. entry carries the
// metadata; the bodies are prepared here according to the logging settings.
func (r *Recorder) Record(entry models.APILogEntry, requestBody, responseBody []byte) {
	enabled, err := r.settings.Get(settings.LogBodiesEnabled)
	if err != nil {
		r.logger.Warn("read log_bodies_enabled", "error", err)
		enabled = "1"
	}

	if enabled == "0" {
		entry.RequestBody = disabledPlaceholder
		entry.ResponseBody = disabledPlaceholder
	} else {
		maxSize := r.maxBodySize()
		entry.RequestBody = PrepareRequestBody(requestBody, maxSize)
		entry.ResponseBody = Truncate(string(responseBody), maxSize)
	}

	if err := r.logs.Insert(&entry); err != nil {
		r.logger.Warn("write audit log", "endpoint", entry.Endpoint, "error", err)
	}
}

func (r *Recorder) maxBodySize() int {
	raw, err := r.settings.Get(settings.LogMaxBodySize)
	if err != nil {
		r.logger.Warn("read log_max_body_size", "error", err)
		return defaultMaxBodySize
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return defaultMaxBodySize
	}
	return size
}

// MaybeCleanup deletes log rows older than the retention window, at most
// once per calendar day across all server processes. Errors never
// propagate to the request that triggered it.
func (r *Recorder) MaybeCleanup(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	claimed, err := r.settings.ClaimDailyCleanup(today)
	if err != nil {
		r.logger.Warn("claim log cleanup", "error", err)
		return
	}
	if !claimed {
		return
	}

	days := r.retentionDays()
	cutoff := now.UTC().AddDate(0, 0, -days)
	deleted, err := r.logs.DeleteOlderThan(cutoff)
	if err != nil {
		r.logger.Warn("log retention cleanup", "error", err)
		return
	}
	r.logger.Info("log retention cleanup", "deleted", deleted, "retention_days", days)
}

func (r *Recorder) retentionDays() int {
	raw, err := r.settings.Get(settings.LogRetentionDays)
	if err != nil {
		r.logger.Warn("read log_retention_days", "error", err)
		return defaultRetentionDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return defaultRetentionDays
	}
	return days
}

// PrepareRequestBody redacts sensitive top-level JSON keys, then truncates.
// Non-JSON bodies are stored as-is apart from truncation.
func PrepareRequestBody(body []byte, maxSize int) string {
	if len(body) == 0 {
		return ""
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		changed := false
		for _, key := range redactedKeys {
			if _, ok := fields[key]; ok {
				fields[key] = RedactionMarker
				changed = true
			}
		}
		if changed {
			if redacted, err := json.Marshal(fields); err == nil {
				return Truncate(string(redacted), maxSize)
			}
		}
	}
	return Truncate(string(body), maxSize)
}

// Truncate caps s at maxSize bytes, appending a marker noting the original
// size when anything was cut.
func Truncate(s string, maxSize int) string {
	if maxSize <= 0 || len(s) <= maxSize {
		return s
	}
	return s[:maxSize] + fmt.Sprintf("... [truncated, original size: %d bytes]", len(s))
}
