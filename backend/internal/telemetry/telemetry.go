package telemetry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/logging"
	"physsync/backend/internal/world"
)

const (
	// DefaultMaxEntries bounds the sample buffer.
	DefaultMaxEntries = 4096
	// syncWindow is how many sync durations the rolling statistics cover.
	syncWindow = 120
)

// Sample is the pose of one body at the end of one frame.
type Sample struct {
	Frame     uint64        `json:"frame"`
	Timestamp int64         `json:"timestamp"` // unix milliseconds
	Timestep  time.Duration `json:"timestep"`
	Body      string        `json:"body"`
	Kind      string        `json:"kind"`
	Position  mgl64.Vec3    `json:"position"`
}

// SyncStats summarizes the rolling sync-duration window.
type SyncStats struct {
	Count int
	Mean  time.Duration
	Max   time.Duration
	Slow  int // syncs over budget within the window
}

// TelemetryManager records per-frame samples in a bounded ring and watches
// sync durations. It implements world.Metrics so it can sit next to the
// Prometheus collector.
type TelemetryManager struct {
	mutex   sync.RWMutex
	log     logging.Logger
	enabled bool

	data       []Sample
	next       int
	full       bool
	maxEntries int

	counters map[string]int

	syncs      [syncWindow]time.Duration
	syncNext   int
	syncCount  int
	syncBudget time.Duration

	lastWarn      time.Time
	lastPrint     time.Time
	printInterval time.Duration
}

var _ world.Metrics = (*TelemetryManager)(nil)

// NewTelemetryManager keeps up to maxEntries samples; non-positive values
// use DefaultMaxEntries.
func NewTelemetryManager(maxEntries int, log logging.Logger) *TelemetryManager {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if log == nil {
		log = logging.Noop()
	}
	return &TelemetryManager{
		log:           log.With(logging.Component("telemetry")),
		enabled:       true,
		data:          make([]Sample, maxEntries),
		maxEntries:    maxEntries,
		counters:      make(map[string]int),
		printInterval: 2 * time.Second,
	}
}

// SetSyncBudget warns about syncs longer than half of minTimestep. A zero
// minimum timestep disables the check.
func (tm *TelemetryManager) SetSyncBudget(minTimestep time.Duration) {
	tm.mutex.Lock()
	tm.syncBudget = minTimestep / 2
	tm.mutex.Unlock()
}

// Record stores one sample per body of f. It is meant to be registered with
// World.OnFrameDone.
func (tm *TelemetryManager) Record(f world.Frame) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()
	if !tm.enabled {
		return
	}
	now := time.Now().UnixMilli()
	for _, b := range f.Bodies {
		tm.data[tm.next] = Sample{
			Frame:     f.Index,
			Timestamp: now,
			Timestep:  f.Timestep,
			Body:      b.Name,
			Kind:      b.Kind.String(),
			Position:  b.Position,
		}
		tm.next++
		if tm.next == tm.maxEntries {
			tm.next = 0
			tm.full = true
		}
	}
}

// Samples returns the buffered samples, oldest first.
func (tm *TelemetryManager) Samples() []Sample {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	return tm.samplesLocked()
}

func (tm *TelemetryManager) samplesLocked() []Sample {
	if !tm.full {
		return append([]Sample(nil), tm.data[:tm.next]...)
	}
	out := make([]Sample, 0, tm.maxEntries)
	out = append(out, tm.data[tm.next:]...)
	return append(out, tm.data[:tm.next]...)
}

// Series returns the buffered heights of the named body, oldest first.
func (tm *TelemetryManager) Series(name string) []float64 {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	var out []float64
	for _, s := range tm.samplesLocked() {
		if s.Body == name {
			out = append(out, s.Position.Y())
		}
	}
	return out
}

func (tm *TelemetryManager) ObserveSync(d time.Duration) {
	tm.mutex.Lock()
	tm.syncs[tm.syncNext] = d
	tm.syncNext = (tm.syncNext + 1) % syncWindow
	if tm.syncCount < syncWindow {
		tm.syncCount++
	}
	budget := tm.syncBudget
	warn := budget > 0 && d > budget && time.Since(tm.lastWarn) >= tm.printInterval
	if warn {
		tm.lastWarn = time.Now()
	}
	tm.mutex.Unlock()

	if warn {
		tm.log.Warn(context.Background(), "sync took longer than half the minimum timestep",
			logging.Any("sync", d),
			logging.Any("budget", budget),
		)
	}
}

// SyncStats summarizes the rolling sync window.
func (tm *TelemetryManager) SyncStats() SyncStats {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	st := SyncStats{Count: tm.syncCount}
	if st.Count == 0 {
		return st
	}
	var total time.Duration
	for _, d := range tm.syncs[:st.Count] {
		total += d
		if d > st.Max {
			st.Max = d
		}
		if tm.syncBudget > 0 && d > tm.syncBudget {
			st.Slow++
		}
	}
	st.Mean = total / time.Duration(st.Count)
	return st
}

func (tm *TelemetryManager) ObserveStep(time.Duration) {}
func (tm *TelemetryManager) SetBodies(int)             {}

func (tm *TelemetryManager) AddCommandsApplied(n int) { tm.count("commands", n) }
func (tm *TelemetryManager) Diagnostic(kind string)   { tm.count("diagnostic_"+kind, 1) }
func (tm *TelemetryManager) Event(typ string)         { tm.count("event_"+typ, 1) }
func (tm *TelemetryManager) FrameDone()               { tm.count("frames", 1) }

func (tm *TelemetryManager) count(key string, n int) {
	tm.mutex.Lock()
	tm.counters[key] += n
	tm.mutex.Unlock()
}

// Counters returns a copy of the counters accumulated since the last
// summary.
func (tm *TelemetryManager) Counters() map[string]int {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	out := make(map[string]int, len(tm.counters))
	for k, v := range tm.counters {
		out[k] = v
	}
	return out
}

// PrintSummary logs the counters and sync statistics, at most once per
// print interval, then resets the counters.
func (tm *TelemetryManager) PrintSummary(ctx context.Context) {
	tm.mutex.Lock()
	if !tm.enabled || time.Since(tm.lastPrint) < tm.printInterval {
		tm.mutex.Unlock()
		return
	}
	tm.lastPrint = time.Now()
	counters := tm.counters
	tm.counters = make(map[string]int)
	tm.mutex.Unlock()

	stats := tm.SyncStats()
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := []logging.Field{
		logging.Any("sync_mean", stats.Mean),
		logging.Any("sync_max", stats.Max),
		logging.Int("slow_syncs", stats.Slow),
	}
	for _, k := range keys {
		fields = append(fields, logging.Int(k, counters[k]))
	}
	tm.log.Info(ctx, "telemetry summary", fields...)
}

// JSON returns the buffered samples as indented JSON.
func (tm *TelemetryManager) JSON() (string, error) {
	data, err := json.MarshalIndent(tm.Samples(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (tm *TelemetryManager) SetEnabled(enabled bool) {
	tm.mutex.Lock()
	tm.enabled = enabled
	tm.mutex.Unlock()
}

// Clear drops every sample, counter and sync observation.
func (tm *TelemetryManager) Clear() {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()
	tm.next, tm.full = 0, false
	tm.counters = make(map[string]int)
	tm.syncNext, tm.syncCount = 0, 0
}
