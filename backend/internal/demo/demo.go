// Package demo builds the scene served by the physsync binary: a floor, a
// dropped box, a heavy ball, a trigger zone, a moving kinematic platform with
// a rider, a walking character and a patch of hills.
package demo

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/config"
	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/meshcache"
)

const (
	hillsRows    = 64
	hillsColumns = 64

	ballDensity    = 0.01
	platformSwing  = 150.0
	platformPeriod = 4 * time.Second
	walkSpeed      = 100.0
	walkLeg        = 2 * time.Second
)

// Scene holds the demo nodes. Root is what a world is pointed at.
type Scene struct {
	Root *scene.Node

	Floor     *scene.StaticRigidBody
	Hills     *scene.StaticRigidBody
	Box       *scene.DynamicRigidBody
	Ball      *scene.DynamicRigidBody
	Zone      *scene.TriggerBody
	Platform  *scene.DynamicRigidBody
	Rider     *scene.DynamicRigidBody
	Character *scene.CharacterController

	platformHome mgl64.Vec3
	elapsed      time.Duration
	zoneEntries  atomic.Int32
}

// Build creates the demo scene with the box at cfg.DropHeight.
func Build(cfg config.DemoConfig) *Scene {
	s := &Scene{Root: scene.NewNode("demo")}

	s.Floor = scene.NewStaticRigidBody("floor")
	s.Floor.SetEulerRotation(mgl64.Vec3{-90, 0, 0})
	s.Floor.AddShape(scene.NewPlaneShape())

	s.Hills = scene.NewStaticRigidBody("hills")
	s.Hills.SetPosition(mgl64.Vec3{1500, 0, 0})
	s.Hills.AddShape(scene.NewHeightFieldShape(HillsSource, mgl64.Vec3{1000, 120, 1000}))

	s.Box = scene.NewDynamicRigidBody("box")
	s.Box.SetPosition(mgl64.Vec3{0, cfg.DropHeight, 0})
	s.Box.AddShape(scene.NewBoxShape(mgl64.Vec3{20, 20, 20}))
	s.Box.SetSendTriggerReports(true)
	s.Box.SetSendContactReports(true)

	s.Ball = scene.NewDynamicRigidBody("ball")
	s.Ball.SetPosition(mgl64.Vec3{-200, cfg.DropHeight, 0})
	s.Ball.AddShape(scene.NewSphereShape(40))
	s.Ball.SetDensity(ballDensity)
	bouncy := scene.NewMaterial()
	bouncy.SetRestitution(0.6)
	s.Ball.SetMaterial(bouncy)

	s.Zone = scene.NewTriggerBody("zone")
	s.Zone.SetPosition(mgl64.Vec3{0, cfg.DropHeight / 2, 0})
	s.Zone.AddShape(scene.NewBoxShape(mgl64.Vec3{200, 60, 200}))
	s.Zone.OnBodyEntered(func(scene.PhysicsNode) { s.zoneEntries.Add(1) })

	s.platformHome = mgl64.Vec3{-500, 100, 0}
	s.Platform = scene.NewDynamicRigidBody("platform")
	s.Platform.AddShape(scene.NewBoxShape(mgl64.Vec3{200, 20, 200}))
	s.Platform.SetKinematic(true)
	s.Platform.SetKinematicPosition(s.platformHome)

	s.Rider = scene.NewDynamicRigidBody("rider")
	s.Rider.AddShape(scene.NewBoxShape(mgl64.Vec3{20, 20, 20}))
	s.Rider.SetKinematic(true)
	s.Rider.SetKinematicPosition(mgl64.Vec3{0, 20, 0})
	s.Platform.AddChild(s.Rider.Node)

	s.Character = scene.NewCharacterController("walker")
	s.Character.SetPosition(mgl64.Vec3{300, 100, 0})
	s.Character.AddShape(scene.NewCapsuleShape(40, 60))
	s.Character.SetGravity(mgl64.Vec3{0, -981, 0})
	s.Character.SetMovement(mgl64.Vec3{walkSpeed, 0, 0})

	for _, n := range []scene.PhysicsNode{s.Floor, s.Hills, s.Box, s.Ball, s.Zone, s.Platform, s.Character} {
		s.Root.AddChild(n.Collision().Node)
	}
	return s
}

// Loader serves the geometry the demo shapes refer to.
func Loader() *meshcache.StaticLoader {
	l := meshcache.NewStaticLoader()
	l.AddHeightField(HillsSource, GenerateHills(hillsRows, hillsColumns))
	return l
}

// Animate advances the scripted motion by dt: the platform swings along X
// and the character walks back and forth. Call it from one goroutine, for
// example from a frame listener.
func (s *Scene) Animate(dt time.Duration) {
	s.elapsed += dt
	phase := 2 * math.Pi * s.elapsed.Seconds() / platformPeriod.Seconds()
	s.Platform.SetKinematicPosition(s.platformHome.Add(mgl64.Vec3{platformSwing * math.Sin(phase), 0, 0}))

	dir := 1.0
	if int(s.elapsed/walkLeg)%2 == 1 {
		dir = -1
	}
	s.Character.SetMovement(mgl64.Vec3{dir * walkSpeed, 0, 0})
}

// ZoneEntries returns how many bodies entered the trigger zone.
func (s *Scene) ZoneEntries() int { return int(s.zoneEntries.Load()) }

// BuildDrop creates the box-on-plane scene: only the floor and the box at
// cfg.DropHeight.
func BuildDrop(cfg config.DemoConfig) *Scene {
	full := Build(cfg)
	s := &Scene{Root: scene.NewNode("drop"), Floor: full.Floor, Box: full.Box}
	s.Root.AddChild(s.Floor.Node)
	s.Root.AddChild(s.Box.Node)
	return s
}
