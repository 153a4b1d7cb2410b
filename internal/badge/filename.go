package badge

import (
	"regexp"
	"strings"
	"time"
)

var filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeHandle strips leading '@' characters and surrounding space; an empty
// handle becomes "agent".
func SafeHandle(h string) string {
	s := strings.TrimSpace(strings.TrimLeft(h, "@"))
	if s == "" {
		return "agent"
	}
	return s
}

// DisplayTimestamp formats t like "3/7/2026, 4:05:09 PM".
func DisplayTimestamp(t time.Time) string {
	return t.Format("1/2/2006, 3:04:05 PM")
}

// Filename is "arachnid_mission-complete_<handle>_<YYYY-MM-DD_HHMMSS>.png"
// with the handle reduced to [A-Za-z0-9._-].
func Filename(handle string, t time.Time) string {
	h := filenameUnsafe.ReplaceAllString(SafeHandle(handle), "-")
	h = strings.Trim(h, "-")
	if h == "" {
		h = "agent"
	}
	return "arachnid_mission-complete_" + h + "_" + t.Format("2006-01-02_150405") + ".png"
}
