package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyTask       = "task"
	KeyTaskStatus = "task_status"
	KeyTag        = "tag"
	KeyVersion    = "version"
	KeyArtifact   = "artifact"
	KeyRepo       = "repository"
	KeyTarget     = "target"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Task(name string) slog.Attr      { return slog.String(KeyTask, name) }
func TaskStatus(s string) slog.Attr   { return slog.String(KeyTaskStatus, s) }
func Tag(t string) slog.Attr          { return slog.String(KeyTag, t) }
func Version(v string) slog.Attr      { return slog.String(KeyVersion, v) }
func Artifact(a string) slog.Attr     { return slog.String(KeyArtifact, a) }
func Repository(r string) slog.Attr   { return slog.String(KeyRepo, r) }
func Target(t string) slog.Attr       { return slog.String(KeyTarget, t) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
