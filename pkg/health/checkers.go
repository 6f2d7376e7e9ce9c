package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck flags the process unhealthy when the goroutine count
// exceeds threshold, which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck flags the process unhealthy when any recorded GC pause
// exceeds threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}
