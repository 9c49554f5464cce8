//go:build linux

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// startSensorReader reads sensor edges from the input device using epoll.
// The kernel wakes us only when events are available, so an idle wheel costs
// nothing.
func startSensorReader(f *os.File, keyCode uint16, edges chan<- struct{}, readErr chan<- error) {
	go readSensorEventsEpoll(f, keyCode, edges, readErr)
}

func readSensorEventsEpoll(f *os.File, keyCode uint16, edges chan<- struct{}, readErr chan<- error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	fd := int(f.Fd())
	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
		return
	}

	epollEvents := make([]unix.EpollEvent, 1)
	buf := make([]byte, binary.Size(inputEvent{}))

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			// Interrupted system call (e.g. SIGINT): retry.
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}
		if n == 0 {
			continue
		}

		if epollEvents[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
			return
		}

		if _, err := f.Read(buf); err != nil {
			readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
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
