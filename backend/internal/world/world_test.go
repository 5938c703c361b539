package world

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/adapter/out/physics/refsim"
	"physsync/backend/internal/config"
	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
)

const frame = time.Second / 60

type recordingMetrics struct {
	mu          sync.Mutex
	diagnostics map[string]int
	events      map[string]int
	frames      int
	bodies      int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{diagnostics: make(map[string]int), events: make(map[string]int)}
}

func (m *recordingMetrics) ObserveStep(time.Duration) {}
func (m *recordingMetrics) ObserveSync(time.Duration) {}
func (m *recordingMetrics) AddCommandsApplied(int)    {}

func (m *recordingMetrics) SetBodies(n int) {
	m.mu.Lock()
	m.bodies = n
	m.mu.Unlock()
}

func (m *recordingMetrics) Diagnostic(kind string) {
	m.mu.Lock()
	m.diagnostics[kind]++
	m.mu.Unlock()
}

func (m *recordingMetrics) Event(typ string) {
	m.mu.Lock()
	m.events[typ]++
	m.mu.Unlock()
}

func (m *recordingMetrics) FrameDone() {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
}

func (m *recordingMetrics) diag(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.diagnostics[kind]
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	manager    *Manager
	foundation *physics.Foundation
	world      *World
	log        *logging.Recorder
	metrics    *recordingMetrics
	root       *scene.Node
}

func newHarness(t *testing.T, factory physics.EngineFactory, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		ctx:        context.Background(),
		manager:    NewManager(),
		foundation: physics.NewFoundation(factory),
		log:        logging.NewRecorder(),
		metrics:    newRecordingMetrics(),
		root:       scene.NewNode("root"),
	}
	opts = append([]Option{WithLogger(h.log), WithMetrics(h.metrics)}, opts...)
	h.world = New(h.manager, h.foundation, config.DefaultConfig().World, opts...)
	h.world.SetScene(h.root)
	t.Cleanup(func() { _ = h.world.Close() })
	return h
}

func newRefsimHarness(t *testing.T, opts ...Option) *harness {
	return newHarness(t, refsim.Factory(logging.Noop()), opts...)
}

func newFakeHarness(t *testing.T) (*harness, *fakeEngine) {
	engine := newFakeEngine()
	return newHarness(t, engine.factory()), engine
}

func (h *harness) advance(frames int) {
	h.t.Helper()
	for i := 0; i < frames; i++ {
		if err := h.world.Advance(h.ctx, frame); err != nil {
			h.t.Fatalf("Advance: %v", err)
		}
	}
}

func (h *harness) add(n scene.PhysicsNode) {
	h.root.AddChild(n.Collision().Node)
	h.manager.RegisterNode(n)
}

func (h *harness) backend(n scene.PhysicsNode) backendNode {
	h.t.Helper()
	h.world.nodesMu.RLock()
	defer h.world.nodesMu.RUnlock()
	bn, ok := h.world.byNode[n]
	if !ok {
		h.t.Fatalf("%s has no backend node", n.Collision().Name())
	}
	return bn
}

func (h *harness) actor(n scene.PhysicsNode) physics.ActorHandle {
	h.t.Helper()
	actors := h.backend(n).actors()
	if len(actors) == 0 {
		h.t.Fatalf("%s has no backend actor", n.Collision().Name())
	}
	return actors[0]
}

func (h *harness) warned(substr string) bool {
	return h.log.Contains(slog.LevelWarn, substr)
}

func floorBody(name string) *scene.StaticRigidBody {
	b := scene.NewStaticRigidBody(name)
	b.SetEulerRotation(mgl64.Vec3{-90, 0, 0})
	b.AddShape(scene.NewPlaneShape())
	return b
}

func boxBody(name string, size float64, at mgl64.Vec3) *scene.DynamicRigidBody {
	b := scene.NewDynamicRigidBody(name)
	b.SetPosition(at)
	b.AddShape(scene.NewBoxShape(mgl64.Vec3{size, size, size}))
	return b
}

func TestBoxDropsOntoFloor(t *testing.T) {
	h := newRefsimHarness(t)
	h.add(floorBody("floor"))
	box := boxBody("box", 20, mgl64.Vec3{0, 100, 0})
	h.add(box)

	h.advance(300)

	y := box.Position().Y()
	if y < 5 || y > 15 {
		t.Fatalf("box rests at y=%v, want about 10", y)
	}
	if h.world.BodyCount() != 2 {
		t.Fatalf("BodyCount = %d, want 2", h.world.BodyCount())
	}
	if h.world.Frames() != 300 {
		t.Fatalf("Frames = %d, want 300", h.world.Frames())
	}
}

func TestFramesReportSyncedBodies(t *testing.T) {
	h := newRefsimHarness(t)
	h.add(boxBody("box", 10, mgl64.Vec3{0, 50, 0}))

	var frames []Frame
	h.world.OnFrameDone(func(f Frame) { frames = append(frames, f) })
	h.advance(2)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	last := frames[1]
	if last.Index != 2 || last.Timestep != frame {
		t.Fatalf("frame = %d/%v, want 2/%v", last.Index, last.Timestep, frame)
	}
	if len(last.Bodies) != 1 || last.Bodies[0].Name != "box" || last.Bodies[0].Kind != scene.KindDynamic {
		t.Fatalf("bodies = %+v", last.Bodies)
	}
	if y := last.Bodies[0].Position.Y(); y >= 50 {
		t.Fatalf("box did not fall: y=%v", y)
	}
}

func TestStartFailsWithoutEngine(t *testing.T) {
	h := newHarness(t, func() (physics.Engine, error) { return nil, errors.New("no device") })
	err := h.world.Start(h.ctx)
	if err == nil {
		t.Fatal("Start succeeded without an engine")
	}
	if h.foundation.Refs() != 0 {
		t.Fatalf("Refs = %d after failed start", h.foundation.Refs())
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h, engine := newFakeHarness(t)
	h.add(floorBody("floor"))
	h.add(boxBody("box", 10, mgl64.Vec3{0, 50, 0}))
	h.advance(1)

	if err := h.world.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.world.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.foundation.Refs() != 0 {
		t.Fatalf("Refs = %d after close", h.foundation.Refs())
	}
	if !engine.closed {
		t.Fatal("engine not closed")
	}
	if len(engine.shapes) != 0 || len(engine.materials) != 0 {
		t.Fatalf("leaked %d shapes and %d materials", len(engine.shapes), len(engine.materials))
	}
	if len(engine.scene.actors) != 0 {
		t.Fatalf("leaked %d actors", len(engine.scene.actors))
	}
}

func TestWorldsShareFoundation(t *testing.T) {
	manager := NewManager()
	foundation := physics.NewFoundation(refsim.Factory(logging.Noop()))
	a := New(manager, foundation, config.DefaultConfig().World)
	b := New(manager, foundation, config.DefaultConfig().World)
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if foundation.Refs() != 2 {
		t.Fatalf("Refs = %d, want 2", foundation.Refs())
	}
	_ = a.Close()
	if foundation.Refs() != 1 {
		t.Fatalf("Refs = %d after first close, want 1", foundation.Refs())
	}
	_ = b.Close()
	if foundation.Refs() != 0 {
		t.Fatalf("Refs = %d after last close, want 0", foundation.Refs())
	}
}

func TestRunAlternatesStepAndSync(t *testing.T) {
	cfg := config.DefaultConfig().World
	cfg.MinTimestepMs = 0
	manager := NewManager()
	w := New(manager, physics.NewFoundation(refsim.Factory(logging.Noop())), cfg)
	defer w.Close()

	root := scene.NewNode("root")
	box := boxBody("box", 10, mgl64.Vec3{0, 50, 0})
	root.AddChild(box.Node)
	w.SetScene(root)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.OnFrameDone(func(f Frame) {
		if f.Index == 5 {
			close(done)
		}
	})
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no frames produced")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	_ = w.Close()
	if steps, _ := w.StepStats(); steps < 5 {
		t.Fatalf("steps = %d, want at least 5", steps)
	}
	if y := box.Position().Y(); y >= 50 {
		t.Fatalf("box did not fall: y=%v", y)
	}
}

func TestPausedWorldDoesNotStep(t *testing.T) {
	cfg := config.DefaultConfig().World
	cfg.MinTimestepMs = 0
	cfg.Running = false
	w := New(NewManager(), physics.NewFoundation(refsim.Factory(logging.Noop())), cfg)
	defer w.Close()

	var mu sync.Mutex
	frames := 0
	resumed := make(chan struct{})
	w.OnFrameDone(func(Frame) {
		mu.Lock()
		frames++
		if frames == 1 {
			close(resumed)
		}
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	paused := frames
	mu.Unlock()
	if paused != 0 {
		t.Fatalf("paused world produced %d frames", paused)
	}

	w.SetRunning(true)
	select {
	case <-resumed:
	case <-time.After(5 * time.Second):
		t.Fatal("world did not resume")
	}
}

func TestTimestepClamping(t *testing.T) {
	h := newRefsimHarness(t)
	w := h.world

	w.SetMinTimestep(50 * time.Millisecond)
	if w.MinTimestep() != w.MaxTimestep() {
		t.Fatalf("min = %v, want clamped to max %v", w.MinTimestep(), w.MaxTimestep())
	}
	if !h.warned("minimum timestep greater than maximum timestep") {
		t.Fatal("missing min > max warning")
	}

	w.SetMinTimestep(-time.Millisecond)
	if w.MinTimestep() != 0 {
		t.Fatalf("min = %v, want 0", w.MinTimestep())
	}
	if !h.warned("minimum timestep less than zero") {
		t.Fatal("missing negative min warning")
	}

	w.SetMinTimestep(16 * time.Millisecond)
	w.SetMaxTimestep(10 * time.Millisecond)
	if w.MinTimestep() != 10*time.Millisecond || w.MaxTimestep() != 10*time.Millisecond {
		t.Fatalf("min/max = %v/%v, want 10ms/10ms", w.MinTimestep(), w.MaxTimestep())
	}

	w.SetMaxTimestep(-5 * time.Millisecond)
	if w.MaxTimestep() != 0 || w.MinTimestep() != 0 {
		t.Fatalf("min/max = %v/%v, want 0/0", w.MinTimestep(), w.MaxTimestep())
	}
	if !h.warned("maximum timestep less than zero") {
		t.Fatal("missing negative max warning")
	}
	if got := h.metrics.diag(diagTimestep); got != 5 {
		t.Fatalf("timestep diagnostics = %d, want 5", got)
	}
}

func TestInitOnlyProperties(t *testing.T) {
	h := newRefsimHarness(t)
	w := h.world

	w.SetTypicalLength(-1)
	if w.TypicalLength() != config.DefaultTypicalLength || !h.warned("must be positive") {
		t.Fatalf("negative typical length accepted: %v", w.TypicalLength())
	}
	w.SetTypicalSpeed(500)
	if w.TypicalSpeed() != 500 {
		t.Fatalf("TypicalSpeed = %v before start, want 500", w.TypicalSpeed())
	}

	h.advance(1)
	w.SetTypicalLength(5)
	w.SetEnableCCD(true)
	if w.TypicalLength() != config.DefaultTypicalLength {
		t.Fatalf("TypicalLength changed after start: %v", w.TypicalLength())
	}
	if w.EnableCCD() {
		t.Fatal("EnableCCD changed after start")
	}
	if got := h.metrics.diag(diagInitOnly); got != 2 {
		t.Fatalf("init-only diagnostics = %d, want 2", got)
	}
}

func TestGravityChangeReachesBackend(t *testing.T) {
	h, engine := newFakeHarness(t)
	h.advance(1)
	h.world.SetGravity(mgl64.Vec3{0, -10, 0})
	h.advance(1)

	var got []mgl64.Vec3
	for _, c := range engine.ops(0) {
		if c.op == "SetGravity" {
			got = append(got, c.vec)
		}
	}
	if len(got) != 1 || got[0] != (mgl64.Vec3{0, -10, 0}) {
		t.Fatalf("SetGravity calls = %v", got)
	}
}

func TestOrphanJoinsWorldWhenAttached(t *testing.T) {
	h := newRefsimHarness(t)
	detached := scene.NewNode("detached")
	body := boxBody("late", 10, mgl64.Vec3{})
	detached.AddChild(body.Node)

	h.manager.RegisterNode(body)
	if h.manager.Orphans() != 1 || h.manager.WorldOf(body) != nil {
		t.Fatalf("orphans = %d, want 1", h.manager.Orphans())
	}
	h.advance(1)
	if h.world.BodyCount() != 0 {
		t.Fatalf("orphan synced before attach")
	}

	h.root.AddChild(detached)
	h.advance(1)
	if h.manager.Orphans() != 0 || h.manager.WorldOf(body) != h.world {
		t.Fatalf("orphan not matched: orphans=%d", h.manager.Orphans())
	}
	if _, ok := h.world.Body("late"); !ok {
		t.Fatal("matched orphan has no backend objects")
	}
}

func TestSetScenePicksUpRegisteredNodes(t *testing.T) {
	manager := NewManager()
	root := scene.NewNode("level")
	box := boxBody("box", 10, mgl64.Vec3{})
	root.AddChild(box.Node)
	manager.RegisterNode(box)
	if manager.Orphans() != 1 {
		t.Fatalf("orphans = %d, want 1", manager.Orphans())
	}

	w := New(manager, physics.NewFoundation(refsim.Factory(logging.Noop())), config.DefaultConfig().World)
	defer w.Close()
	w.SetScene(root)
	if manager.Orphans() != 0 || manager.WorldOf(box) != w {
		t.Fatalf("SetScene did not adopt the registered node")
	}
	if err := w.Advance(context.Background(), frame); err != nil {
		t.Fatal(err)
	}
	if w.BodyCount() != 1 {
		t.Fatalf("BodyCount = %d, want 1", w.BodyCount())
	}

	w.SetScene(nil)
	if err := w.Advance(context.Background(), frame); err != nil {
		t.Fatal(err)
	}
	if w.BodyCount() != 0 {
		t.Fatalf("BodyCount = %d after clearing the scene", w.BodyCount())
	}
}

func TestRegisteringTwiceCreatesOneBody(t *testing.T) {
	h, engine := newFakeHarness(t)
	box := boxBody("box", 10, mgl64.Vec3{})
	h.add(box)
	h.manager.RegisterNode(box)
	h.advance(1)

	created := 0
	for _, c := range engine.ops(0) {
		if c.op == "CreateActor" {
			created++
		}
	}
	if created != 1 || h.world.BodyCount() != 1 {
		t.Fatalf("created %d actors, BodyCount %d", created, h.world.BodyCount())
	}
}

func TestSceneUsedByAnotherWorld(t *testing.T) {
	h := newRefsimHarness(t)
	h.add(boxBody("box", 10, mgl64.Vec3{}))

	log := logging.NewRecorder()
	other := New(h.manager, h.foundation, config.DefaultConfig().World, WithLogger(log))
	defer other.Close()
	other.SetScene(h.root)

	if !log.Contains(slog.LevelWarn, "scene already associated with another physics world") {
		t.Fatal("missing scene-in-use warning")
	}
	if other.Scene() != h.root {
		t.Fatal("root not kept")
	}
	if err := other.Advance(h.ctx, frame); err != nil {
		t.Fatal(err)
	}
	h.advance(1)
	if other.BodyCount() != 0 || h.world.BodyCount() != 1 {
		t.Fatalf("bodies: other=%d owner=%d", other.BodyCount(), h.world.BodyCount())
	}
}

func TestClosedWorldOrphansItsNodes(t *testing.T) {
	h := newRefsimHarness(t)
	box := boxBody("box", 10, mgl64.Vec3{})
	h.add(box)
	h.advance(1)

	if err := h.world.Close(); err != nil {
		t.Fatal(err)
	}
	if h.manager.Orphans() != 1 || h.manager.WorldOf(box) != nil {
		t.Fatalf("orphans = %d after close, want 1", h.manager.Orphans())
	}
}

func TestAdvanceFloorsTimestep(t *testing.T) {
	h := newRefsimHarness(t)
	var got time.Duration
	h.world.OnFrameDone(func(f Frame) { got = f.Timestep })
	if err := h.world.Advance(h.ctx, 0); err != nil {
		t.Fatal(err)
	}
	if got != time.Microsecond {
		t.Fatalf("timestep = %v, want 1µs", got)
	}
}

func TestFuzzyEqual(t *testing.T) {
	cases := []struct {
		a, b float64
		want bool
	}{
		{0, 0, true},
		{0, 1e-6, true},
		{0, 1e-4, false},
		{1000, 1000.001, true},
		{1000, 1000.1, false},
		{-5, 5, false},
	}
	for _, c := range cases {
		if got := fuzzyEqual(c.a, c.b); got != c.want {
			t.Errorf("fuzzyEqual(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func vecNear(a, b mgl64.Vec3, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol && math.Abs(a[2]-b[2]) <= tol
}

func TestConfiguredTimestepWindow(t *testing.T) {
	cfg := config.DefaultConfig().World
	cfg.MinTimestepMs = 40
	cfg.MaxTimestepMs = 50
	metrics := newRecordingMetrics()
	w := New(NewManager(), physics.NewFoundation(refsim.Factory(logging.Noop())), cfg, WithMetrics(metrics))
	defer w.Close()

	if w.MinTimestep() != 40*time.Millisecond || w.MaxTimestep() != 50*time.Millisecond {
		t.Fatalf("min/max = %v/%v, want 40ms/50ms", w.MinTimestep(), w.MaxTimestep())
	}
	if got := metrics.diag(diagTimestep); got != 0 {
		t.Fatalf("timestep diagnostics = %d for a valid window", got)
	}
}

func TestStepStatsWhileRunning(t *testing.T) {
	cfg := config.DefaultConfig().World
	cfg.MinTimestepMs = 0
	w := New(NewManager(), physics.NewFoundation(refsim.Factory(logging.Noop())), cfg)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		steps, clamped := w.StepStats()
		if clamped > steps {
			t.Fatalf("clamped %d > steps %d", clamped, steps)
		}
		if steps >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d steps", steps)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDeregisterBeforeSyncDiscardsCommands(t *testing.T) {
	h, engine := newFakeHarness(t)
	box := boxBody("box", 10, mgl64.Vec3{})
	h.add(box)
	box.SetLinearVelocity(mgl64.Vec3{0, 9, 0})
	box.ApplyCentralImpulse(mgl64.Vec3{0, 5000, 0})

	h.manager.DeregisterNode(box)
	if n := box.PendingCommands(); n != 0 {
		t.Fatalf("pending commands = %d after deregistering, want 0", n)
	}

	h.add(box)
	h.advance(1)
	for _, c := range engine.ops(h.actor(box)) {
		if c.vec == (mgl64.Vec3{0, 9, 0}) || c.vec == (mgl64.Vec3{0, 5000, 0}) {
			t.Fatalf("stale %s replayed after re-registering", c.op)
		}
	}
}

func TestFramesReportKinematicPose(t *testing.T) {
	h := newRefsimHarness(t)
	platform := boxBody("platform", 10, mgl64.Vec3{})
	platform.SetKinematic(true)
	platform.SetKinematicPosition(mgl64.Vec3{100, 0, 0})
	h.add(platform)

	var last Frame
	h.world.OnFrameDone(func(f Frame) { last = f })
	h.advance(1)

	if len(last.Bodies) != 1 {
		t.Fatalf("frame has %d bodies, want 1", len(last.Bodies))
	}
	if got := last.Bodies[0].Position; !vecNear(got, mgl64.Vec3{100, 0, 0}, 1e-9) {
		t.Fatalf("kinematic body reported at %v, want its kinematic position", got)
	}
}
