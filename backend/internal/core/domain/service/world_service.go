package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/in/worldmanagement"
	"physsync/backend/internal/logging"
	"physsync/backend/internal/world"
)

// WorldService serves inbound adapters on top of a world.
type WorldService struct {
	world *world.World
	log   logging.Logger
}

var _ worldmanagement.WorldManagementPort = (*WorldService)(nil)

// NewWorldService wraps w.
func NewWorldService(w *world.World, log logging.Logger) *WorldService {
	if log == nil {
		log = logging.Noop()
	}
	return &WorldService{world: w, log: log.With(logging.Component("world_service"))}
}

// ApplyImpulse queues a central impulse on the named body. The impulse
// reaches the backend on the next sync.
func (s *WorldService) ApplyImpulse(ctx context.Context, name string, impulse mgl64.Vec3) error {
	node, ok := s.world.Body(name)
	if !ok {
		return fmt.Errorf("apply impulse to %q: %w", name, worldmanagement.ErrUnknownBody)
	}
	body, ok := node.(*scene.DynamicRigidBody)
	if !ok {
		return fmt.Errorf("apply impulse to %q (%s): %w", name, node.Kind(), worldmanagement.ErrNotDynamic)
	}
	body.ApplyCentralImpulse(impulse)
	s.log.Debug(ctx, "impulse queued",
		logging.String("body", name),
		logging.Any("impulse", impulse),
	)
	return nil
}

func (s *WorldService) SetRunning(running bool) { s.world.SetRunning(running) }

func (s *WorldService) Running() bool { return s.world.Running() }

// Subscribe registers fn as a frame listener. fn runs on the syncing
// goroutine and must not block.
func (s *WorldService) Subscribe(fn func(worldmanagement.FrameSnapshot)) {
	s.world.OnFrameDone(func(f world.Frame) {
		fn(Snapshot(f))
	})
}

// Snapshot converts a world frame into its port representation.
func Snapshot(f world.Frame) worldmanagement.FrameSnapshot {
	out := worldmanagement.FrameSnapshot{
		Index:    f.Index,
		Timestep: float64(f.Timestep) / float64(time.Millisecond),
		Bodies:   make([]worldmanagement.BodySnapshot, len(f.Bodies)),
	}
	for i, b := range f.Bodies {
		out.Bodies[i] = worldmanagement.BodySnapshot{
			Name:     b.Name,
			Kind:     b.Kind.String(),
			Position: b.Position,
			Rotation: b.Rotation,
		}
	}
	return out
}
