package main

import (
	"errors"
	"testing"
	"time"
)

func TestTranslate_BasePointIsExact(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var cal timeCalibration
	if err := cal.Calibrate(base, 1000); err != nil {
		t.Fatalf("calibrate: %v", err)
	}

	got, err := cal.Translate(1000)
	if err != nil {
		t.Fatalf("translate base point: %v", err)
	}
	if !got.Equal(base) {
		t.Errorf("translate(base) = %v, want %v", got, base)
	}
}

func TestTranslate_OffsetAndFormat(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var cal timeCalibration
	if err := cal.Calibrate(base, 1000); err != nil {
		t.Fatalf("calibrate: %v", err)
	}

	got, err := cal.Translate(1500)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if want := base.Add(500 * time.Millisecond); !got.Equal(want) {
		t.Errorf("translate(1500) = %v, want %v", got, want)
	}
	if s := formatTimestamp(got); s != "2025-06-01T12:00:00.500Z" {
		t.Errorf("formatTimestamp = %q", s)
	}
}

func TestTranslate_BeforeCalibration(t *testing.T) {
	var cal timeCalibration
	if _, err := cal.Translate(500); !errors.Is(err, ErrClockNotCalibrated) {
		t.Errorf("translate before calibration: err = %v, want ErrClockNotCalibrated", err)
	}
}

func TestTranslate_BeforeEpoch(t *testing.T) {
	var cal timeCalibration
	if err := cal.Calibrate(time.Now(), 1000); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if _, err := cal.Translate(999); !errors.Is(err, ErrTimestampBeforeEpoch) {
		t.Errorf("translate(999) err = %v, want ErrTimestampBeforeEpoch", err)
	}
}

func TestCalibrate_SecondCallFails(t *testing.T) {
	var cal timeCalibration
	if err := cal.Calibrate(time.Now(), 0); err != nil {
		t.Fatalf("first calibrate: %v", err)
	}
	if err := cal.Calibrate(time.Now(), 100); err == nil {
		t.Error("second calibrate succeeded, want error")
	}
}

func TestFormatTimestamp_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	ts := time.Date(2025, 6, 1, 14, 30, 0, 250_000_000, loc)
	if s := formatTimestamp(ts); s != "2025-06-01T12:30:00.250Z" {
		t.Errorf("formatTimestamp = %q", s)
	}
}
