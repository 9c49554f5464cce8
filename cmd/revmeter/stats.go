package main

// ============================================================================
// Statistics engine
// ============================================================================
//
// Consumes the settled bank after each switch and folds it into the
// process-lifetime accumulators. Owned exclusively by the cycle goroutine;
// no locking needed.
//
// Rate policy (the source design left this open, chosen here deliberately):
//   - Per-cycle average speed is cycle distance over *moving time*: the span
//     from the carried previous-cycle reference (or the cycle's first event
//     when there is none) to the cycle's last event. Idle time between
//     cycles with no events is excluded entirely.
//   - Lifetime average speed is total distance over accumulated moving time.
//   - Max speed is the fastest instantaneous speed: circumference over a
//     single inter-event interval, including the carried boundary interval.
//   - Zero-length intervals are skipped; an empty bank contributes nothing.
// ============================================================================

const (
	inchesPerMile  = 63360.0
	inchesPerMeter = 39.3701
	msPerHour      = 3600000.0
)

// cycleStats holds the accumulated, process-lifetime statistics.
// Monotonically non-decreasing until an explicit reset.
type cycleStats struct {
	TotalRevolutions uint64
	TotalMiles       float64
	TotalMeters      float64

	// MovingMillis is the accumulated moving time used for lifetime
	// average speed.
	MovingMillis uint64

	MaxMPH float64

	// FastestLapMS is the minimum inter-event interval seen.
	// Zero until the first interval is observed (the "infinite" sentinel).
	FastestLapMS  uint64
	hasFastestLap bool

	DroppedEvents uint64
}

// cycleResult is the per-cycle outcome of Analyze.
type cycleResult struct {
	Revolutions int
	Miles       float64
	Meters      float64

	// CycleMPH is this cycle's average speed over its moving span.
	// Zero for an empty cycle or a single-event cycle with no carried
	// reference.
	CycleMPH   float64
	SpanMillis uint64
}

// cycleSummary is the externally visible statistics snapshot, shared by the
// websocket broadcast, the IPC stats reply, and the display log line.
type cycleSummary struct {
	Revolutions      int     `json:"revolutions"`
	TotalRevolutions uint64  `json:"total_revolutions"`
	TotalMiles       float64 `json:"total_miles"`
	TotalMeters      float64 `json:"total_meters"`
	CycleMPH         float64 `json:"cycle_mph"`
	AverageMPH       float64 `json:"average_mph"`
	MaxMPH           float64 `json:"max_mph"`
	FastestLapMS     uint64  `json:"fastest_lap_ms"`
	DroppedEvents    uint64  `json:"dropped_events"`
}

type statsEngine struct {
	circumferenceIn float64
	stats           cycleStats
}

func newStatsEngine(circumferenceIn float64) *statsEngine {
	return &statsEngine{circumferenceIn: circumferenceIn}
}

// Analyze folds one settled bank into the accumulators.
// An empty bank is a normal idle period: all deltas are zero and the
// accumulated totals are untouched.
func (e *statsEngine) Analyze(v settledView) cycleResult {
	e.stats.DroppedEvents = v.Dropped

	n := len(v.Samples)
	if n == 0 {
		return cycleResult{}
	}

	res := cycleResult{
		Revolutions: n,
		Miles:       float64(n) * e.circumferenceIn / inchesPerMile,
		Meters:      float64(n) * e.circumferenceIn / inchesPerMeter,
	}

	e.stats.TotalRevolutions += uint64(n)
	e.stats.TotalMiles += res.Miles
	e.stats.TotalMeters += res.Meters

	// Walk inter-event intervals, starting from the carried boundary
	// reference when one exists.
	prev := v.Samples[0]
	if v.HasPrev && v.PrevLast <= v.Samples[0] {
		prev = v.PrevLast
	}
	start := prev

	revMiles := e.circumferenceIn / inchesPerMile
	for _, ts := range v.Samples {
		if ts > prev {
			dt := ts - prev
			if !e.stats.hasFastestLap || dt < e.stats.FastestLapMS {
				e.stats.FastestLapMS = dt
				e.stats.hasFastestLap = true
			}
			mph := revMiles / (float64(dt) / msPerHour)
			if mph > e.stats.MaxMPH {
				e.stats.MaxMPH = mph
			}
		}
		prev = ts
	}

	last := v.Samples[n-1]
	if last > start {
		res.SpanMillis = last - start
		e.stats.MovingMillis += res.SpanMillis
		res.CycleMPH = res.Miles / (float64(res.SpanMillis) / msPerHour)
	}

	return res
}

// AverageMPH is the lifetime average speed over accumulated moving time.
func (e *statsEngine) AverageMPH() float64 {
	if e.stats.MovingMillis == 0 {
		return 0
	}
	return e.stats.TotalMiles / (float64(e.stats.MovingMillis) / msPerHour)
}

// Summarize builds the externally visible snapshot for one cycle result.
func (e *statsEngine) Summarize(res cycleResult) cycleSummary {
	return cycleSummary{
		Revolutions:      res.Revolutions,
		TotalRevolutions: e.stats.TotalRevolutions,
		TotalMiles:       e.stats.TotalMiles,
		TotalMeters:      e.stats.TotalMeters,
		CycleMPH:         res.CycleMPH,
		AverageMPH:       e.AverageMPH(),
		MaxMPH:           e.stats.MaxMPH,
		FastestLapMS:     e.stats.FastestLapMS,
		DroppedEvents:    e.stats.DroppedEvents,
	}
}

// Snapshot returns a copy of the accumulated statistics.
func (e *statsEngine) Snapshot() cycleStats {
	return e.stats
}

// Reset zeroes all accumulators. Dropped events are cumulative at the bank
// set and are re-reported on the next cycle.
func (e *statsEngine) Reset() {
	e.stats = cycleStats{}
}
