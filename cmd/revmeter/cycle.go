package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Processing cycle loop
// ============================================================================
//
// One iteration per fixed interval: switch banks, analyze the settled bank,
// log the display summary, broadcast the ws frame, publish telemetry.
// The loop goroutine is the sole owner of the statistics engine and the time
// calibration; IPC commands are serviced here between cycles so that
// ownership never leaves this goroutine.
// ============================================================================

// cycleCommand is a request serviced by the cycle goroutine between cycles.
type cycleCommand struct {
	// Kind is "stats" or "reset".
	Kind string

	// Reply receives the (post-command) summary. Must be buffered.
	Reply chan<- cycleSummary
}

type cycleLoop struct {
	set      *bankSet
	engine   *statsEngine
	cal      *timeCalibration
	reporter cycleReporter // nil disables telemetry
	ws       *Server       // nil disables broadcasts
	commands <-chan cycleCommand
	interval time.Duration
	logger   *slog.Logger

	// last summary, re-served to stats commands between cycles
	lastSummary cycleSummary
}

// Run drives the loop until ctx is canceled.
func (l *cycleLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("cycle loop starting", "interval", l.interval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("cycle loop stopping (context canceled)")
			return

		case cmd := <-l.commands:
			l.handleCommand(cmd)

		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

// runCycle performs one switch → analyze → report iteration.
func (l *cycleLoop) runCycle(ctx context.Context) {
	view := l.set.switchBanks()
	res := l.engine.Analyze(view)
	sum := l.engine.Summarize(res)
	l.lastSummary = sum

	l.logger.Info("cycle",
		"revolutions", sum.Revolutions,
		"total_revolutions", sum.TotalRevolutions,
		"total_miles", sum.TotalMiles,
		"total_meters", sum.TotalMeters,
		"cycle_mph", sum.CycleMPH,
		"max_mph", sum.MaxMPH,
		"dropped_events", sum.DroppedEvents,
	)

	if l.ws != nil {
		l.ws.PublishCycle(sum)
	}

	if l.reporter != nil {
		rec, points := l.buildTelemetry(sum, view)
		l.reporter.Report(ctx, rec, points)
	}
}

// buildTelemetry translates the settled bank's events to wall-clock
// datapoints. Events that cannot be translated are skipped from reporting
// only; the statistics above were already computed from relative timestamps.
func (l *cycleLoop) buildTelemetry(sum cycleSummary, view settledView) (cycleRecord, []eventDatapoint) {
	rec := cycleRecord{
		At:               formatTimestamp(time.Now()),
		Revolutions:      sum.Revolutions,
		TotalRevolutions: sum.TotalRevolutions,
		TotalMiles:       sum.TotalMiles,
		TotalMeters:      sum.TotalMeters,
		CycleMPH:         sum.CycleMPH,
		AverageMPH:       sum.AverageMPH,
		MaxMPH:           sum.MaxMPH,
		DroppedEvents:    sum.DroppedEvents,
	}

	if len(view.Samples) == 0 {
		return rec, nil
	}

	points := make([]eventDatapoint, 0, len(view.Samples))
	skipped := 0
	for _, ts := range view.Samples {
		wall, err := l.cal.Translate(ts)
		if err != nil {
			skipped++
			continue
		}
		points = append(points, eventDatapoint{At: formatTimestamp(wall), Value: 1})
	}
	if skipped > 0 {
		l.logger.Warn("events skipped from telemetry (untranslatable timestamps)", "skipped", skipped)
	}

	return rec, points
}

func (l *cycleLoop) handleCommand(cmd cycleCommand) {
	switch cmd.Kind {
	case "reset":
		l.engine.Reset()
		l.lastSummary = cycleSummary{}
		l.logger.Info("statistics reset")
	case "stats":
		// summary only
	default:
		l.logger.Warn("unknown cycle command", "kind", cmd.Kind)
	}

	if cmd.Reply != nil {
		select {
		case cmd.Reply <- l.lastSummary:
		default:
		}
	}
}
