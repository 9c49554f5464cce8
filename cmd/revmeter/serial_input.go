package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// ============================================================================
// Serial edge source
// ============================================================================
//
// For installations where the hall sensor hangs off a microcontroller rather
// than a GPIO, the MCU streams one fixed-size packet per detected edge:
//
//	{ seq uint32 LE, millis uint32 LE } '\r' '\n'
//
// The stop sequence validates framing; on a mismatch the reader resyncs by
// scanning for the next terminator. Edge timestamps are assigned from the
// daemon's relative clock at receipt; the MCU millis counter is only used
// for debug logging, and the sequence number exposes dropped packets.
// ============================================================================

// pulsePacket is the wire layout of one serial edge report.
type pulsePacket struct {
	Seq    uint32
	Millis uint32
}

var pulseStopSequence = []byte{'\r', '\n'}

const (
	pulsePayloadSize = 8
	pulsePacketSize  = pulsePayloadSize + 2
)

type outOfSyncError struct {
	byteSequence []byte
}

func (e *outOfSyncError) Error() string {
	return fmt.Sprintf("incorrect stop sequence detected: %v", e.byteSequence)
}

// decodePulsePacket validates framing and decodes one packet.
func decodePulsePacket(buf []byte) (pulsePacket, error) {
	var p pulsePacket
	if len(buf) != pulsePacketSize || !bytes.Equal(buf[pulsePayloadSize:], pulseStopSequence) {
		seq := make([]byte, len(buf))
		copy(seq, buf)
		return p, &outOfSyncError{byteSequence: seq}
	}
	if err := binary.Read(bytes.NewReader(buf[:pulsePayloadSize]), binary.LittleEndian, &p); err != nil {
		return p, err
	}
	return p, nil
}

type serialSource struct {
	port     serial.Port
	portName string
	edges    chan<- struct{}
	logger   *slog.Logger

	buf     []byte
	lastSeq uint32
	haveSeq bool
}

func openSerialSource(portName string, baudRate int, edges chan<- struct{}, logger *slog.Logger) (*serialSource, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}

	return &serialSource{
		port:     port,
		portName: portName,
		edges:    edges,
		logger:   logger,
		buf:      make([]byte, pulsePacketSize),
	}, nil
}

func (s *serialSource) Close() error {
	return s.port.Close()
}

// Run reads edge packets until ctx is canceled. Framing errors are logged
// and recovered by resyncing; they never stop the source.
func (s *serialSource) Run(ctx context.Context) {
	s.port.SetReadTimeout(5 * time.Millisecond)
	s.port.ResetInputBuffer()
	s.resync()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("serial source exiting", "port", s.portName)
			return
		default:
			if err := s.readPacket(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				var oos *outOfSyncError
				if errors.As(err, &oos) {
					s.logger.Warn("serial packet out of sync, resyncing", "port", s.portName, "payload", oos.byteSequence)
					s.resync()
				} else {
					s.logger.Warn("serial read error", "port", s.portName, "error", err)
				}
			}
		}
	}
}

func (s *serialSource) readPacket(ctx context.Context) error {
	count := 0
	for count < pulsePacketSize {
		n, err := s.port.Read(s.buf[count:])
		if err != nil {
			return err
		}
		// A zero-byte read is the read timeout expiring; use it to notice
		// cancellation while the line is idle.
		if n == 0 && ctx.Err() != nil {
			return context.Canceled
		}
		count += n
	}

	p, err := decodePulsePacket(s.buf)
	if err != nil {
		return err
	}

	if s.haveSeq && p.Seq != s.lastSeq+1 {
		s.logger.Warn("serial pulse sequence gap", "port", s.portName, "last_seq", s.lastSeq, "seq", p.Seq)
	}
	s.lastSeq = p.Seq
	s.haveSeq = true

	s.logger.Debug("serial pulse", "seq", p.Seq, "board_millis", p.Millis)
	s.edges <- struct{}{}
	return nil
}

// resync scans byte-by-byte for the end of the stop sequence so the next
// read starts on a packet boundary.
func (s *serialSource) resync() {
	onebyte := make([]byte, 1)

	for onebyte[0] != pulseStopSequence[len(pulseStopSequence)-1] {
		if _, err := s.port.Read(onebyte); err != nil {
			s.logger.Warn("error while resyncing serial port", "port", s.portName, "error", err)
			return
		}
	}
}
