//go:build !linux

package main

import "os"

// startSensorReader falls back to a plain blocking read loop on platforms
// without epoll.
func startSensorReader(f *os.File, keyCode uint16, edges chan<- struct{}, readErr chan<- error) {
	go readInputEvents(f, keyCode, edges, readErr)
}
