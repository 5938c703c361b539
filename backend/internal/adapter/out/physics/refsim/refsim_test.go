package refsim

import (
	"math"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

type recordingHandler struct {
	mu       sync.Mutex
	triggers []physics.TriggerPair
	contacts []physics.ContactPair
}

func (h *recordingHandler) OnTrigger(pairs []physics.TriggerPair) {
	h.mu.Lock()
	h.triggers = append(h.triggers, pairs...)
	h.mu.Unlock()
}

func (h *recordingHandler) OnContact(pairs []physics.ContactPair) {
	h.mu.Lock()
	h.contacts = append(h.contacts, pairs...)
	h.mu.Unlock()
}

// floorPose turns the +X facing plane into a floor facing +Y.
var floorPose = physics.Pose{Q: mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})}

type fixture struct {
	t      *testing.T
	engine *Engine
	scene  *Scene
	mat    physics.MaterialHandle
	events *recordingHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	events := &recordingHandler{}
	engine := NewEngine(nil)
	sc, err := engine.CreateScene(physics.SceneDesc{
		Gravity:       mgl64.Vec3{0, -981, 0},
		TypicalLength: 100,
		TypicalSpeed:  1000,
		Events:        events,
	})
	if err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	mat, err := engine.CreateMaterial(0.5, 0.5, 0.5)
	if err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return &fixture{t: t, engine: engine, scene: sc.(*Scene), mat: mat, events: events}
}

func (f *fixture) body(pose physics.Pose, static bool, geoms ...physics.Geometry) (physics.ActorHandle, []physics.ShapeHandle) {
	f.t.Helper()
	a, err := f.scene.CreateActor(pose, static)
	if err != nil {
		f.t.Fatalf("CreateActor: %v", err)
	}
	var shapes []physics.ShapeHandle
	for _, g := range geoms {
		sh, err := f.engine.CreateShape(g, f.mat)
		if err != nil {
			f.t.Fatalf("CreateShape(%s): %v", g.Type, err)
		}
		f.scene.AttachShape(a, sh)
		shapes = append(shapes, sh)
	}
	return a, shapes
}

func (f *fixture) run(steps int) {
	for i := 0; i < steps; i++ {
		f.scene.Step(1.0 / 60)
		f.scene.FetchResults(true)
	}
}

func at(x, y, z float64) physics.Pose {
	return physics.Pose{P: mgl64.Vec3{x, y, z}, Q: mgl64.QuatIdent()}
}

func box(half float64) physics.Geometry {
	return physics.Geometry{Type: physics.GeometryBox, HalfExtents: mgl64.Vec3{half, half, half}}
}

func TestBoxComesToRestOnPlane(t *testing.T) {
	f := newFixture(t)
	plane, _ := f.body(floorPose, true, physics.Geometry{Type: physics.GeometryPlane})
	boxActor, _ := f.body(at(0, 200, 0), false, box(50))
	f.scene.UpdateMassAndInertia(boxActor, 0.001)

	f.run(300)

	pose := f.scene.GlobalPose(boxActor)
	if y := pose.P.Y(); y < 40 || y > 60 {
		t.Fatalf("box rests at y=%v, want about 50", y)
	}
	if v := f.scene.LinearVelocity(boxActor).Len(); v > 20 {
		t.Fatalf("box still moving at %v", v)
	}

	var found *physics.ContactPair
	for i := range f.events.contacts {
		if f.events.contacts[i].TouchFound {
			found = &f.events.contacts[i]
			break
		}
	}
	if found == nil {
		t.Fatal("no contact reported")
	}
	if found.Actors != [2]physics.ActorHandle{plane, boxActor} {
		t.Fatalf("contact actors = %v, want plane then box", found.Actors)
	}
	if len(found.Points) == 0 || found.Points[0].Normal.Y() > -0.9 {
		t.Fatalf("normal should point from the box towards the plane: %+v", found.Points)
	}
}

func TestMassFromDensity(t *testing.T) {
	f := newFixture(t)
	a, _ := f.body(at(0, 0, 0), false, box(1))

	f.scene.UpdateMassAndInertia(a, 2)
	if m := f.scene.Mass(a); math.Abs(m-16) > 1e-9 {
		t.Fatalf("mass = %v, want 16", m)
	}

	f.scene.SetMassAndUpdateInertia(a, 4)
	if m := f.scene.Mass(a); m != 4 {
		t.Fatalf("mass = %v, want 4", m)
	}
}

func TestTriggerBeginAndEnd(t *testing.T) {
	f := newFixture(t)
	trigger, tshapes := f.body(at(0, 0, 0), true, box(50))
	f.engine.SetShapeFlags(tshapes[0], physics.ShapeTrigger)

	ball, _ := f.body(at(-200, 0, 0), false, physics.Geometry{Type: physics.GeometrySphere, Radius: 10})
	f.scene.SetGravityEnabled(ball, false)
	f.scene.SetLinearVelocity(ball, mgl64.Vec3{1000, 0, 0})

	f.run(30)

	if len(f.events.triggers) != 2 {
		t.Fatalf("trigger pairs = %+v, want found then lost", f.events.triggers)
	}
	first, second := f.events.triggers[0], f.events.triggers[1]
	if first.Status != physics.TouchFound || second.Status != physics.TouchLost {
		t.Fatalf("statuses = %v, %v", first.Status, second.Status)
	}
	if first.TriggerActor != trigger || first.OtherActor != ball {
		t.Fatalf("pair actors = %v/%v", first.TriggerActor, first.OtherActor)
	}
	if x := f.scene.GlobalPose(ball).P.X(); x < 200 {
		t.Fatalf("ball was blocked by the trigger at x=%v", x)
	}
}

func TestDetachReportsRemovedShape(t *testing.T) {
	f := newFixture(t)
	trigger, tshapes := f.body(at(0, 0, 0), true, box(50))
	f.engine.SetShapeFlags(tshapes[0], physics.ShapeTrigger)
	ball, bshapes := f.body(at(0, 0, 0), false, physics.Geometry{Type: physics.GeometrySphere, Radius: 10})
	f.scene.SetGravityEnabled(ball, false)

	f.run(1)
	f.scene.DetachShape(ball, bshapes[0])
	f.run(1)

	last := f.events.triggers[len(f.events.triggers)-1]
	if last.Status != physics.TouchLost || !last.RemovedShape || last.TriggerActor != trigger {
		t.Fatalf("last pair = %+v, want removed-shape loss", last)
	}
}

func TestControllerLandsAndHitsWall(t *testing.T) {
	f := newFixture(t)
	f.body(floorPose, true, physics.Geometry{Type: physics.GeometryPlane})
	f.body(at(100, 50, 0), true, box(20))

	c, err := f.scene.CreateController(physics.CapsuleControllerDesc{
		Position:   mgl64.Vec3{0, 100, 0},
		Radius:     20,
		Height:     60,
		StepOffset: 15,
		Material:   f.mat,
	})
	if err != nil {
		t.Fatalf("CreateController: %v", err)
	}

	flags := f.scene.MoveController(c, mgl64.Vec3{0, -80, 0}, 0.8, 1.0/60)
	if flags&physics.CollisionDown == 0 {
		t.Fatalf("flags = %b, want down", flags)
	}
	if y := f.scene.ControllerPosition(c).Y(); math.Abs(y-50) > 1 {
		t.Fatalf("controller centre at y=%v, want 50", y)
	}

	flags = f.scene.MoveController(c, mgl64.Vec3{70, -1, 0}, 0.7, 1.0/60)
	if flags&physics.CollisionSides == 0 {
		t.Fatalf("flags = %b, want sides", flags)
	}
	if x := f.scene.ControllerPosition(c).X(); x > 61 {
		t.Fatalf("controller passed into the wall: x=%v", x)
	}

	if got := f.scene.MoveController(c, mgl64.Vec3{0.001, 0, 0}, 0.01, 1.0/60); got != physics.CollisionNone {
		t.Fatalf("move below minDist reported %b", got)
	}

	actor := f.scene.ControllerActor(c)
	f.scene.ReleaseController(c)
	if f.scene.ControllerActor(c) != 0 || f.scene.GlobalPose(actor) != physics.IdentityPose() {
		t.Fatal("controller actor survived release")
	}
}

func TestKinematicTargetReached(t *testing.T) {
	f := newFixture(t)
	a, _ := f.body(at(0, 0, 0), false, box(10))
	f.scene.SetKinematic(a, true)

	target := at(30, 0, 0)
	f.scene.SetKinematicTarget(a, target)
	f.run(1)

	if got := f.scene.GlobalPose(a).P; got.Sub(target.P).Len() > 1e-9 {
		t.Fatalf("pose = %v, want %v", got, target.P)
	}
}

func TestImpulseChangesVelocity(t *testing.T) {
	f := newFixture(t)
	a, _ := f.body(at(0, 0, 0), false, box(1))
	f.scene.SetMass(a, 2)

	f.scene.AddForce(a, mgl64.Vec3{10, 0, 0}, physics.ModeImpulse)
	if v := f.scene.LinearVelocity(a); math.Abs(v.X()-5) > 1e-9 {
		t.Fatalf("velocity = %v, want 5 along x", v)
	}

	f.scene.SetLockFlags(a, physics.LockLinearX)
	if v := f.scene.LinearVelocity(a); v.X() != 0 {
		t.Fatalf("locked axis kept velocity %v", v)
	}
}

func TestReleaseShapeDetaches(t *testing.T) {
	f := newFixture(t)
	a, shapes := f.body(at(0, 0, 0), false, box(1))
	f.engine.ReleaseShape(shapes[0])

	if n := len(f.scene.actors[a].shapes); n != 0 {
		t.Fatalf("actor keeps %d shapes", n)
	}
	if _, s := f.engine.Counts(); s != 0 {
		t.Fatalf("engine keeps %d shapes", s)
	}
}

func TestClosestSegmentSegment(t *testing.T) {
	p, q := closestSegmentSegment(
		mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{1, 0, 0},
		mgl64.Vec3{0, 1, -1}, mgl64.Vec3{0, 1, 1},
	)
	if !p.ApproxEqual(mgl64.Vec3{0, 0, 0}) || !q.ApproxEqual(mgl64.Vec3{0, 1, 0}) {
		t.Fatalf("closest points %v %v", p, q)
	}
}

func TestHeightFieldSample(t *testing.T) {
	hf := &physics.HeightField{Rows: 2, Columns: 2, Heights: []float64{0, 0, 2, 2}}
	h, dx, dz, ok := sampleField(hf, mgl64.Vec3{10, 1, 10}, 5, 5)
	if !ok || math.Abs(h-1) > 1e-9 || math.Abs(dx-0.2) > 1e-9 || dz != 0 {
		t.Fatalf("sample = %v %v %v %v", h, dx, dz, ok)
	}
	if _, _, _, ok := sampleField(hf, mgl64.Vec3{10, 1, 10}, 11, 5); ok {
		t.Fatal("sample outside the field reported ok")
	}
}
