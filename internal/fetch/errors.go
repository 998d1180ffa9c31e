package fetch

import "errors"

// Downloader failures are returned as wrapped sentinel errors so the task
// orchestrator can present actionable messages without parsing strings.
var (
	ErrSizeLimitExceeded = errors.New("file size exceeds the configured limit")
	ErrTimeout           = errors.New("download timeout: server too slow")
	ErrNetwork           = errors.New("network error")
	ErrBadStatus         = errors.New("unexpected HTTP status")
)

const maxErrorDetail = 200

// truncateDetail bounds error detail carried into user-facing messages.
func truncateDetail(s string) string {
	if len(s) <= maxErrorDetail {
		return s
	}
	return s[:maxErrorDetail-3] + "..."
}
