package world

import (
	"context"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
)

// maxContactPoints caps the points copied out of one contact pair.
const maxContactPoints = 64

type eventType int

const (
	eventOverlapBegin eventType = iota
	eventOverlapEnd
	eventEnteredTrigger
	eventExitedTrigger
	eventContact
)

func (t eventType) String() string {
	switch t {
	case eventOverlapBegin:
		return "overlap_begin"
	case eventOverlapEnd:
		return "overlap_end"
	case eventEnteredTrigger:
		return "entered_trigger"
	case eventExitedTrigger:
		return "exited_trigger"
	case eventContact:
		return "contact"
	}
	return "unknown"
}

// event is one notification waiting for the scene side. target receives it;
// other is the second participant.
type event struct {
	typ     eventType
	target  scene.PhysicsNode
	other   scene.PhysicsNode
	contact scene.ContactEvent
}

// eventRouter receives backend callbacks on the stepping goroutine and
// queues them until the world dispatches them during the next sync.
type eventRouter struct {
	w *World

	mu    sync.Mutex
	queue []event
}

func newEventRouter(w *World) *eventRouter {
	return &eventRouter{w: w}
}

func (r *eventRouter) push(ev event) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	r.mu.Unlock()
}

// OnTrigger queues overlap updates for triggers whose other participant
// sends trigger reports, and entered/exited notifications for participants
// that receive them.
func (r *eventRouter) OnTrigger(pairs []physics.TriggerPair) {
	for _, p := range pairs {
		if p.RemovedShape {
			continue
		}
		trig, ok := r.w.lookup(p.TriggerActor)
		if !ok {
			continue
		}
		other, ok := r.w.lookup(p.OtherActor)
		if !ok {
			continue
		}
		trigger, ok := trig.node().(*scene.TriggerBody)
		if !ok {
			continue
		}
		c := other.node().Collision()

		found := p.Status == physics.TouchFound
		if c.SendTriggerReports() {
			typ := eventOverlapEnd
			if found {
				typ = eventOverlapBegin
			}
			r.push(event{typ: typ, target: trigger, other: other.node()})
		}
		if c.ReceiveTriggerReports() {
			typ := eventExitedTrigger
			if found {
				typ = eventEnteredTrigger
			}
			r.push(event{typ: typ, target: other.node(), other: trigger})
		}
	}
}

// OnContact queues contact notifications for newly touching pairs. Each
// side receives when it asks for reports and the other side sends them; the
// second actor gets the normals flipped so they always point towards the
// receiver.
func (r *eventRouter) OnContact(pairs []physics.ContactPair) {
	for _, p := range pairs {
		if !p.TouchFound {
			continue
		}
		first, ok := r.w.lookup(p.Actors[0])
		if !ok {
			continue
		}
		second, ok := r.w.lookup(p.Actors[1])
		if !ok {
			continue
		}
		a, b := first.node(), second.node()
		ca, cb := a.Collision(), b.Collision()
		firstReceives := ca.ReceiveContactReports() && cb.SendContactReports()
		secondReceives := cb.ReceiveContactReports() && ca.SendContactReports()
		if !firstReceives && !secondReceives {
			continue
		}

		points := p.Points
		if len(points) > maxContactPoints {
			points = points[:maxContactPoints]
		}
		if firstReceives {
			r.push(event{typ: eventContact, target: a, other: b, contact: contactEvent(b, points, false)})
		}
		if secondReceives {
			r.push(event{typ: eventContact, target: b, other: a, contact: contactEvent(a, points, true)})
		}
	}
}

func contactEvent(other scene.PhysicsNode, points []physics.ContactPoint, invert bool) scene.ContactEvent {
	ev := scene.ContactEvent{
		Other:     other,
		Positions: make([]mgl64.Vec3, len(points)),
		Impulses:  make([]mgl64.Vec3, len(points)),
		Normals:   make([]mgl64.Vec3, len(points)),
	}
	for i, pt := range points {
		ev.Positions[i] = pt.Position
		ev.Impulses[i] = pt.Impulse
		ev.Normals[i] = pt.Normal
		if invert {
			ev.Normals[i] = pt.Normal.Mul(-1)
		}
	}
	return ev
}

// dispatch delivers the queued events whose participants are still live and
// returns how many were delivered.
func (r *eventRouter) dispatch(ctx context.Context) int {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	delivered := 0
	for _, ev := range queue {
		if !r.w.live(ev.target) || !r.w.live(ev.other) {
			continue
		}
		switch ev.typ {
		case eventOverlapBegin:
			ev.target.(*scene.TriggerBody).RegisterOverlap(ev.other)
		case eventOverlapEnd:
			ev.target.(*scene.TriggerBody).DeregisterOverlap(ev.other)
		case eventEnteredTrigger:
			ev.target.Collision().NotifyEnteredTrigger(ev.other.(*scene.TriggerBody))
		case eventExitedTrigger:
			ev.target.Collision().NotifyExitedTrigger(ev.other.(*scene.TriggerBody))
		case eventContact:
			ev.target.Collision().NotifyContact(ev.contact)
		}
		r.w.metrics.Event(ev.typ.String())
		delivered++
	}
	if dropped := len(queue) - delivered; dropped > 0 {
		r.w.log.Debug(ctx, "events dropped for removed bodies", logging.Int("dropped", dropped))
	}
	return delivered
}
