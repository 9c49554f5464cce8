package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beevik/ntp"
)

// ============================================================================
// Time translation
// ============================================================================
//
// Recorded timestamps are relative-clock milliseconds. For external reporting
// they are translated to wall-clock time through a one-shot calibration pair
// (wall time and relative clock captured at the same instant) supplied at
// startup. Statistics never depend on the translation; a failed translation
// only skips the affected report record.
// ============================================================================

var (
	// ErrClockNotCalibrated is returned by Translate before calibration.
	ErrClockNotCalibrated = errors.New("clock not calibrated")

	// ErrTimestampBeforeEpoch is returned for timestamps that predate the
	// calibration point and therefore cannot be represented.
	ErrTimestampBeforeEpoch = errors.New("timestamp predates clock calibration")
)

// timeCalibration maps the relative millisecond clock to wall-clock time.
// Set exactly once, immutable thereafter. Touched only by the consumer
// goroutine after startup.
type timeCalibration struct {
	baseWall time.Time
	baseRel  uint64
	set      bool
}

// Calibrate records the one-time mapping. A second call is an error.
func (c *timeCalibration) Calibrate(wall time.Time, rel uint64) error {
	if c.set {
		return errors.New("clock already calibrated")
	}
	c.baseWall = wall
	c.baseRel = rel
	c.set = true
	return nil
}

// Translate maps a relative timestamp to absolute wall-clock time.
func (c *timeCalibration) Translate(rel uint64) (time.Time, error) {
	if !c.set {
		return time.Time{}, ErrClockNotCalibrated
	}
	if rel < c.baseRel {
		return time.Time{}, ErrTimestampBeforeEpoch
	}
	elapsed := time.Duration(rel-c.baseRel) * time.Millisecond
	return c.baseWall.Add(elapsed), nil
}

// formatTimestamp renders a wall-clock time in the reporting wire format,
// millisecond precision, UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// calibrate performs the startup calibration against the configured
// time source. Mode "ntp" queries the configured server; anything else
// trusts the local wall clock (a synced host or one with an RTC).
func calibrate(cal *timeCalibration, cfg TimesyncConfig, clock func() uint64, logger *slog.Logger) error {
	var wall time.Time

	switch cfg.Mode {
	case "ntp":
		t, err := ntp.Time(cfg.NTPServer)
		if err != nil {
			return fmt.Errorf("ntp query %s: %w", cfg.NTPServer, err)
		}
		wall = t
		logger.Info("calibrated clock from ntp", "server", cfg.NTPServer, "wall", formatTimestamp(wall))
	default:
		wall = time.Now()
		logger.Info("calibrated clock from local time", "wall", formatTimestamp(wall))
	}

	return cal.Calibrate(wall, clock())
}
