package handler

import "fmt"

// formatUploadLimit renders a byte limit in the largest whole binary unit.
func formatUploadLimit(n int64) string {
	const (
		kb = int64(1) << 10
		mb = kb << 10
	)
	switch {
	case n >= mb && n%mb == 0:
		return fmt.Sprintf("%dMB", n/mb)
	case n >= kb && n%kb == 0:
		return fmt.Sprintf("%dKB", n/kb)
	}
	return fmt.Sprintf("%dB", n)
}
