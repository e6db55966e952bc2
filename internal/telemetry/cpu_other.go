//go:build !unix

package telemetry

import "time"

func processCPUTime() (time.Duration, bool) {
	return 0, false
}
