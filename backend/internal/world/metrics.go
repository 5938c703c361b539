package world

import "time"

// Metrics receives the world's counters. observability.WorldCollector
// implements it.
type Metrics interface {
	ObserveStep(d time.Duration)
	ObserveSync(d time.Duration)
	SetBodies(n int)
	AddCommandsApplied(n int)
	Diagnostic(kind string)
	Event(typ string)
	FrameDone()
}

type noopMetrics struct{}

func (noopMetrics) ObserveStep(time.Duration) {}
func (noopMetrics) ObserveSync(time.Duration) {}
func (noopMetrics) SetBodies(int)             {}
func (noopMetrics) AddCommandsApplied(int)    {}
func (noopMetrics) Diagnostic(string)         {}
func (noopMetrics) Event(string)              {}
func (noopMetrics) FrameDone()                {}

// Diagnostic kinds reported through Metrics.Diagnostic.
const (
	diagTimestep      = "timestep_clamped"
	diagInitOnly      = "init_only_property"
	diagInvalidValue  = "invalid_value"
	diagShapeSkipped  = "shape_skipped"
	diagForcedKinem   = "forced_kinematic"
	diagCommand       = "command_rejected"
	diagKinematicPar  = "non_kinematic_parent"
	diagCharacterInit = "character_init"
	diagActorInit     = "actor_init"
	diagSceneInUse    = "scene_in_use"
)

// MultiMetrics fans every observation out to ms. Nil entries are skipped.
func MultiMetrics(ms ...Metrics) Metrics {
	out := make(multiMetrics, 0, len(ms))
	for _, m := range ms {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

type multiMetrics []Metrics

func (mm multiMetrics) ObserveStep(d time.Duration) {
	for _, m := range mm {
		m.ObserveStep(d)
	}
}

func (mm multiMetrics) ObserveSync(d time.Duration) {
	for _, m := range mm {
		m.ObserveSync(d)
	}
}

func (mm multiMetrics) SetBodies(n int) {
	for _, m := range mm {
		m.SetBodies(n)
	}
}

func (mm multiMetrics) AddCommandsApplied(n int) {
	for _, m := range mm {
		m.AddCommandsApplied(n)
	}
}

func (mm multiMetrics) Diagnostic(kind string) {
	for _, m := range mm {
		m.Diagnostic(kind)
	}
}

func (mm multiMetrics) Event(typ string) {
	for _, m := range mm {
		m.Event(typ)
	}
}

func (mm multiMetrics) FrameDone() {
	for _, m := range mm {
		m.FrameDone()
	}
}
