// Package capture provides CaptureSource implementations. Device capture
// goes through pion/mediadevices where platform drivers exist; the static
// source serves headless hosts and tests.
package capture

import "strings"

// classifyCause maps a driver error string onto the capture taxonomy cause
// buckets. Driver errors are free-form, so this is best-effort.
func classifyCause(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission"), strings.Contains(lower, "denied"):
		return "permission"
	case strings.Contains(lower, "busy"), strings.Contains(lower, "in use"):
		return "busy"
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no such"),
		strings.Contains(lower, "failed to find"):
		return "notfound"
	default:
		return "unknown"
	}
}
