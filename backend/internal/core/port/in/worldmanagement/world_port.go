package worldmanagement

import (
	"context"
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrUnknownBody is returned when no synced body carries the name.
	ErrUnknownBody = errors.New("unknown body")
	// ErrNotDynamic is returned when a body cannot take impulses.
	ErrNotDynamic = errors.New("body is not dynamic")
)

// BodySnapshot is the pose of one synced body.
type BodySnapshot struct {
	Name     string
	Kind     string
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// FrameSnapshot describes one completed sync.
type FrameSnapshot struct {
	Index    uint64
	Timestep float64 // milliseconds
	Bodies   []BodySnapshot
}

// WorldManagementPort is what inbound adapters may do with a running world.
type WorldManagementPort interface {
	// ApplyImpulse queues a central impulse on the named dynamic body.
	ApplyImpulse(ctx context.Context, name string, impulse mgl64.Vec3) error

	// SetRunning pauses or resumes stepping.
	SetRunning(running bool)

	// Running reports whether the world steps.
	Running() bool

	// Subscribe registers fn to run after every sync.
	Subscribe(fn func(FrameSnapshot))
}
