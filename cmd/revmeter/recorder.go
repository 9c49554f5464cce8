package main

import (
	"log/slog"
	"os"
	"time"
)

// recorder is the hot-path handler for sensor edges. Per edge it reads the
// relative clock, appends the timestamp to the active bank, and toggles the
// visual indicator. Nothing else happens here: no statistics, no translation,
// no I/O beyond the indicator callback.
//
// A single producer goroutine calls RecordEdge, so the indicator state needs
// no synchronization.
type recorder struct {
	set       *bankSet
	clock     func() uint64
	indicator func(on bool)
	ledOn     bool
}

func newRecorder(set *bankSet, clock func() uint64, indicator func(bool)) *recorder {
	return &recorder{
		set:       set,
		clock:     clock,
		indicator: indicator,
	}
}

// RecordEdge handles one detected falling edge.
// Returns false when the event was dropped due to bank overflow.
func (r *recorder) RecordEdge() bool {
	ok := r.set.record(r.clock())

	r.ledOn = !r.ledOn
	if r.indicator != nil {
		r.indicator(r.ledOn)
	}

	return ok
}

// newRelativeClock returns a monotonically increasing millisecond counter
// starting at zero. uint64 milliseconds cannot wrap within any realistic
// process lifetime, so no rollover handling is needed anywhere downstream.
func newRelativeClock() func() uint64 {
	start := time.Now()
	return func() uint64 {
		return uint64(time.Since(start) / time.Millisecond)
	}
}

// makeIndicator builds the visual-indicator callback. With an LED sysfs path
// configured it writes brightness values; otherwise it logs at debug level.
// Indicator failures are deliberately ignored on the hot path.
func makeIndicator(ledPath string, logger *slog.Logger) func(bool) {
	if ledPath == "" {
		return func(on bool) {
			logger.Debug("indicator", "on", on)
		}
	}
	return func(on bool) {
		v := []byte("0")
		if on {
			v = []byte("1")
		}
		_ = os.WriteFile(ledPath, v, 0644)
	}
}
