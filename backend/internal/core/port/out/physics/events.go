package physics

import "github.com/go-gl/mathgl/mgl64"

// TriggerStatus tells whether a trigger overlap began or ended.
type TriggerStatus int

const (
	TouchFound TriggerStatus = iota
	TouchLost
)

// TriggerPair is one overlap transition between a trigger shape and another
// shape.
type TriggerPair struct {
	TriggerActor ActorHandle
	TriggerShape ShapeHandle
	OtherActor   ActorHandle
	OtherShape   ShapeHandle
	Status       TriggerStatus
	// RemovedShape is set when either shape was released during the step.
	RemovedShape bool
}

// ContactPoint is one point of a contact manifold. Normal points from the
// second actor towards the first.
type ContactPoint struct {
	Position mgl64.Vec3
	Impulse  mgl64.Vec3
	Normal   mgl64.Vec3
}

// ContactPair reports a contact between two actors.
type ContactPair struct {
	Actors     [2]ActorHandle
	TouchFound bool
	Points     []ContactPoint
}

// EventHandler receives simulation callbacks. Calls happen on the goroutine
// running Scene.Step, before the step's results are fetched.
type EventHandler interface {
	OnTrigger(pairs []TriggerPair)
	OnContact(pairs []ContactPair)
}
