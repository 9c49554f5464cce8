package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const (
	evKey = 0x01 // EV_KEY

	keyPress = 1
)

// isSensorEdge reports whether an input event is a detected falling edge of
// the hall sensor: a key-press event on the configured code. The kernel
// gpio-keys driver (or the input device's own debouncing) is assumed to
// deliver clean edges.
func isSensorEdge(ev inputEvent, keyCode uint16) bool {
	return ev.Type == evKey && ev.Code == keyCode && ev.Value == keyPress
}

// parseInputEvent decodes one raw input event from buf.
func parseInputEvent(buf []byte) (inputEvent, error) {
	var ev inputEvent
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev)
	return ev, err
}

// readInputEvents reads input events from the sensor device and signals one
// edge per detected sensor press. This runs in a dedicated goroutine and
// blocks on read operations.
func readInputEvents(f *os.File, keyCode uint16, edges chan<- struct{}, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		ev, err := parseInputEvent(buf)
		if err != nil {
			// Skip malformed events
			continue
		}

		if isSensorEdge(ev, keyCode) {
			edges <- struct{}{}
		}
	}
}
