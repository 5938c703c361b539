// Package world keeps a scene graph of physics nodes and a physics backend in
// step. A World alternates between stepping the backend on the scheduler's
// worker and syncing the scene on its own goroutine: results are pulled into
// scene nodes, scene changes are pushed into the backend, then the next step
// is requested.
package world

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"physsync/backend/internal/config"
	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
	"physsync/backend/internal/meshcache"
	"physsync/backend/internal/stepper"
)

// Frame is reported after every sync.
type Frame struct {
	Index    uint64
	Timestep time.Duration
	Bodies   []BodyState
}

// BodyState is the scene pose of one synced body at the end of a frame.
type BodyState struct {
	Name     string
	Kind     scene.Kind
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Option configures a World.
type Option func(*World)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(w *World) { w.log = l }
}

// WithMetrics sets the metrics sink. A nil sink drops everything.
func WithMetrics(m Metrics) Option {
	return func(w *World) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithTracer sets the tracer wrapping every sync pass.
func WithTracer(t trace.Tracer) Option {
	return func(w *World) { w.tracer = t }
}

// WithMeshCache sets the cache resolving mesh and height field sources.
func WithMeshCache(c *meshcache.Cache) Option {
	return func(w *World) { w.meshes = c }
}

// WithClock replaces the wall clock used to pace steps.
func WithClock(c stepper.Clock) Option {
	return func(w *World) { w.clock = c }
}

type properties struct {
	gravity        mgl64.Vec3
	typicalLength  float64
	typicalSpeed   float64
	defaultDensity float64
	minTimestep    time.Duration
	maxTimestep    time.Duration
	enableCCD      bool
	running        bool
}

type World struct {
	manager    *Manager
	foundation *physics.Foundation
	log        logging.Logger
	metrics    Metrics
	tracer     trace.Tracer
	meshes     *meshcache.Cache
	clock      stepper.Clock

	propMu       sync.RWMutex
	props        properties
	root         *scene.Node
	started      bool
	gravityDirty bool
	densityDirty bool
	resume       chan struct{}

	engine          physics.Engine
	scene           physics.Scene
	scheduler       *stepper.Scheduler
	router          *eventRouter
	defaultMaterial physics.MaterialHandle

	pendingMu sync.Mutex
	pending   []scene.PhysicsNode

	// removalMu guards removed, the only state touched by both the stepping
	// and the syncing side without a turn handoff.
	removalMu sync.Mutex
	removed   map[scene.PhysicsNode]struct{}

	nodesMu sync.RWMutex
	nodes   []backendNode
	byNode  map[scene.PhysicsNode]backendNode
	byActor map[physics.ActorHandle]backendNode

	syncMu sync.Mutex
	frame  uint64

	listenMu  sync.Mutex
	listeners []func(Frame)

	closeOnce sync.Once
}

// New returns a stopped world registered with manager. The backend is not
// touched until Start.
func New(manager *Manager, foundation *physics.Foundation, cfg config.WorldConfig, opts ...Option) *World {
	w := &World{
		manager:    manager,
		foundation: foundation,
		log:        logging.Noop(),
		metrics:    noopMetrics{},
		meshes:     meshcache.New(meshcache.NewStaticLoader()),
		props: properties{
			gravity:        mgl64.Vec3{0, config.DefaultGravityY, 0},
			typicalLength:  config.DefaultTypicalLength,
			typicalSpeed:   config.DefaultTypicalSpeed,
			defaultDensity: config.DefaultDensity,
			minTimestep:    config.WorldConfig{MinTimestepMs: config.DefaultMinTimestepMs}.MinTimestep(),
			maxTimestep:    config.WorldConfig{MaxTimestepMs: config.DefaultMaxTimestepMs}.MaxTimestep(),
			running:        true,
		},
		resume:  make(chan struct{}, 1),
		removed: make(map[scene.PhysicsNode]struct{}),
		byNode:  make(map[scene.PhysicsNode]backendNode),
		byActor: make(map[physics.ActorHandle]backendNode),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer("physsync/world")
	}
	w.log = w.log.With(logging.Component("World"))

	w.SetGravity(mgl64.Vec3(cfg.Gravity))
	w.SetTypicalLength(cfg.TypicalLength)
	w.SetTypicalSpeed(cfg.TypicalSpeed)
	w.SetDefaultDensity(cfg.DefaultDensity)
	w.SetMaxTimestep(cfg.MaxTimestep())
	w.SetMinTimestep(cfg.MinTimestep())
	w.SetEnableCCD(cfg.EnableCCD)
	w.SetRunning(cfg.Running)

	manager.addWorld(w)
	return w
}

// Start acquires the engine, creates the backend scene and launches the
// stepping worker. It is a no-op on a started world.
func (w *World) Start(ctx context.Context) error {
	w.propMu.Lock()
	defer w.propMu.Unlock()
	if w.started {
		return nil
	}

	engine, err := w.foundation.Acquire()
	if err != nil {
		return fmt.Errorf("start world: %w", err)
	}
	router := newEventRouter(w)
	sc, err := engine.CreateScene(physics.SceneDesc{
		Gravity:       w.props.gravity,
		TypicalLength: w.props.typicalLength,
		TypicalSpeed:  w.props.typicalSpeed,
		EnableCCD:     w.props.enableCCD,
		Events:        router,
	})
	if err != nil {
		_ = w.foundation.Release()
		return fmt.Errorf("start world: create scene: %w", err)
	}
	mat, err := engine.CreateMaterial(defaultFriction, defaultFriction, defaultRestitution)
	if err != nil {
		sc.Release()
		_ = w.foundation.Release()
		return fmt.Errorf("start world: create default material: %w", err)
	}

	w.engine = engine
	w.scene = sc
	w.router = router
	w.defaultMaterial = mat
	w.gravityDirty = false

	opts := []stepper.Option{stepper.WithLogger(w.log)}
	if w.clock != nil {
		opts = append(opts, stepper.WithClock(w.clock))
	}
	w.scheduler = stepper.New(sc, opts...)
	w.scheduler.Start(ctx)
	w.started = true

	w.log.Info(ctx, "world started",
		logging.Float64("typical_length", w.props.typicalLength),
		logging.Float64("typical_speed", w.props.typicalSpeed),
		logging.Any("enable_ccd", w.props.enableCCD),
	)
	return nil
}

// Run starts the world and alternates steps and syncs until ctx is done.
// While the world is not running no step is requested; SetRunning(true)
// resumes stepping.
func (w *World) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}

	inFlight := false
	request := func() error {
		minStep, maxStep, running := w.pacing()
		if !running {
			return nil
		}
		if err := w.scheduler.Request(ctx, minStep, maxStep); err != nil {
			return err
		}
		inFlight = true
		return nil
	}

	if err := request(); err != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-w.scheduler.Results():
			inFlight = false
			w.metrics.ObserveStep(res.StepTime)
			w.Sync(ctx, res.Timestep)
			if err := request(); err != nil {
				return nil
			}
		case <-w.resume:
			if !inFlight {
				if err := request(); err != nil {
					return nil
				}
			}
		}
	}
}

// Advance steps the backend by dt on the calling goroutine, then syncs. It
// gives deterministic drivers a fixed timestep and must not be mixed with
// Run.
func (w *World) Advance(ctx context.Context, dt time.Duration) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	if dt < stepper.MinDelta {
		dt = stepper.MinDelta
	}
	start := time.Now()
	w.scene.Step(dt.Seconds())
	w.scene.FetchResults(true)
	w.metrics.ObserveStep(time.Since(start))
	w.Sync(ctx, dt)
	return nil
}

// Sync reconciles the scene with the backend after a step of dt. It must not
// run while the backend is stepping.
func (w *World) Sync(ctx context.Context, dt time.Duration) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	if w.scene == nil {
		return
	}

	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "world.sync")
	defer span.End()

	w.manager.matchOrphans(w)
	w.destroyRemoved(ctx)
	w.createPending(ctx)
	w.applyProperties(ctx)

	cache := newTransformCache()
	seconds := dt.Seconds()
	applied := 0
	for _, bn := range w.liveNodes() {
		if !bn.ready() && !w.initNode(ctx, bn) {
			continue
		}
		bn.markDirtyIfPoseChanged(w)
		bn.rebuildShapesIfDirty(ctx, w)
		bn.pullTransform(w)
		applied += bn.applyPendingCommands(ctx, w)
		bn.pushPose(ctx, w, seconds, cache)
	}
	dispatched := w.router.dispatch(ctx)

	w.frame++
	frame := Frame{Index: w.frame, Timestep: dt, Bodies: w.snapshot(ctx, cache)}

	span.SetAttributes(
		attribute.Int64("frame", int64(frame.Index)),
		attribute.Float64("timestep_ms", float64(dt)/float64(time.Millisecond)),
		attribute.Int("bodies", len(frame.Bodies)),
		attribute.Int("commands", applied),
		attribute.Int("events", dispatched),
	)
	w.metrics.AddCommandsApplied(applied)
	w.metrics.SetBodies(len(frame.Bodies))
	w.metrics.ObserveSync(time.Since(start))
	w.metrics.FrameDone()

	w.emitFrame(frame)
}

// Close stops the stepping worker, then releases every backend object and
// the engine reference. It is safe to call more than once.
func (w *World) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.manager.removeWorld(w)

		w.propMu.Lock()
		started := w.started
		w.started = false
		w.propMu.Unlock()
		if !started {
			return
		}

		w.scheduler.Stop()

		w.syncMu.Lock()
		defer w.syncMu.Unlock()

		w.nodesMu.Lock()
		for _, bn := range w.nodes {
			bn.cleanup(w)
		}
		w.nodes = nil
		w.byNode = make(map[scene.PhysicsNode]backendNode)
		w.byActor = make(map[physics.ActorHandle]backendNode)
		w.nodesMu.Unlock()

		w.engine.ReleaseMaterial(w.defaultMaterial)
		w.scene.Release()
		w.scene = nil
		err = w.foundation.Release()
		w.log.Info(context.Background(), "world closed", logging.Any("frames", w.frame))
	})
	return err
}

// SetScene binds the world to the subtree under root. Bodies of the previous
// scene are deregistered. A root already used by another world is kept but
// its nodes are not collected.
func (w *World) SetScene(root *scene.Node) {
	w.propMu.Lock()
	if w.root == root {
		w.propMu.Unlock()
		return
	}
	w.root = root
	w.propMu.Unlock()

	for _, node := range w.knownNodes() {
		w.manager.DeregisterNode(node)
	}
	if root == nil {
		return
	}
	if !w.manager.claimScene(w, root) {
		w.diag(context.Background(), diagSceneInUse, "scene already associated with another physics world")
		return
	}
	root.Walk(func(n *scene.Node) bool {
		if n == root {
			return true
		}
		if pn := n.PhysicsNode(); pn != nil {
			w.manager.adopt(w, pn)
		}
		return true
	})
}

// Scene returns the scene root, nil when unset.
func (w *World) Scene() *scene.Node { return w.sceneRoot() }

// OnFrameDone registers fn to run on the syncing goroutine after every sync.
func (w *World) OnFrameDone(fn func(Frame)) {
	w.listenMu.Lock()
	w.listeners = append(w.listeners, fn)
	w.listenMu.Unlock()
}

// Body returns the synced physics node with the given name.
func (w *World) Body(name string) (scene.PhysicsNode, bool) {
	w.nodesMu.RLock()
	defer w.nodesMu.RUnlock()
	for _, bn := range w.nodes {
		if bn.node().Collision().Name() == name {
			return bn.node(), true
		}
	}
	return nil, false
}

// BodyCount returns the number of nodes with backend objects.
func (w *World) BodyCount() int {
	w.nodesMu.RLock()
	defer w.nodesMu.RUnlock()
	return len(w.nodes)
}

// Frames returns the number of completed syncs.
func (w *World) Frames() uint64 {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	return w.frame
}

// StepStats returns the scheduler's step and clamp counters.
func (w *World) StepStats() (steps, clamped uint64) {
	w.propMu.RLock()
	s := w.scheduler
	w.propMu.RUnlock()
	if s == nil {
		return 0, 0
	}
	return s.Stats()
}

func (w *World) sceneRoot() *scene.Node {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.root
}

func (w *World) enqueue(node scene.PhysicsNode) {
	w.pendingMu.Lock()
	w.pending = append(w.pending, node)
	w.pendingMu.Unlock()
}

// forget drops node from the pending list and schedules its backend objects
// for release. A node that never got a backend loses its queued commands.
func (w *World) forget(node scene.PhysicsNode) {
	w.pendingMu.Lock()
	for i, have := range w.pending {
		if have == node {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			if body, ok := node.(*scene.DynamicRigidBody); ok {
				body.TakeCommands()
			}
			break
		}
	}
	w.pendingMu.Unlock()

	w.nodesMu.RLock()
	bn, ok := w.byNode[node]
	w.nodesMu.RUnlock()
	if !ok {
		return
	}
	bn.markRemoved()

	w.removalMu.Lock()
	w.removed[node] = struct{}{}
	w.removalMu.Unlock()
}

func (w *World) isRemoved(node scene.PhysicsNode) bool {
	w.removalMu.Lock()
	defer w.removalMu.Unlock()
	_, ok := w.removed[node]
	return ok
}

func (w *World) knownNodes() []scene.PhysicsNode {
	w.nodesMu.RLock()
	out := make([]scene.PhysicsNode, 0, len(w.nodes))
	for _, bn := range w.nodes {
		out = append(out, bn.node())
	}
	w.nodesMu.RUnlock()

	w.pendingMu.Lock()
	out = append(out, w.pending...)
	w.pendingMu.Unlock()
	return out
}

func (w *World) destroyRemoved(ctx context.Context) {
	w.removalMu.Lock()
	removed := w.removed
	w.removed = make(map[scene.PhysicsNode]struct{})
	w.removalMu.Unlock()
	if len(removed) == 0 {
		return
	}

	w.nodesMu.Lock()
	defer w.nodesMu.Unlock()
	kept := w.nodes[:0]
	for _, bn := range w.nodes {
		if _, gone := removed[bn.node()]; !gone {
			kept = append(kept, bn)
			continue
		}
		for _, a := range bn.actors() {
			delete(w.byActor, a)
		}
		delete(w.byNode, bn.node())
		bn.cleanup(w)
		w.log.Debug(ctx, "body removed", logging.String("body", bn.node().Collision().Name()))
	}
	for i := len(kept); i < len(w.nodes); i++ {
		w.nodes[i] = nil
	}
	w.nodes = kept
}

func (w *World) createPending(ctx context.Context) {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = nil
	w.pendingMu.Unlock()

	for _, node := range pending {
		w.nodesMu.Lock()
		if _, ok := w.byNode[node]; ok {
			w.nodesMu.Unlock()
			continue
		}
		bn := newBackendNode(node)
		w.nodes = append(w.nodes, bn)
		w.byNode[node] = bn
		w.nodesMu.Unlock()

		w.initNode(ctx, bn)
	}
}

// initNode runs init and indexes the node's actors. Nodes that fail stay
// uninitialised and are retried on the next sync.
func (w *World) initNode(ctx context.Context, bn backendNode) bool {
	if !bn.init(ctx, w) {
		return false
	}
	w.nodesMu.Lock()
	for _, a := range bn.actors() {
		w.byActor[a] = bn
	}
	w.nodesMu.Unlock()
	w.log.Debug(ctx, "body created",
		logging.String("body", bn.node().Collision().Name()),
		logging.String("kind", bn.node().Kind().String()),
	)
	return true
}

func (w *World) liveNodes() []backendNode {
	w.nodesMu.RLock()
	defer w.nodesMu.RUnlock()
	out := make([]backendNode, len(w.nodes))
	copy(out, w.nodes)
	return out
}

// lookup resolves a backend actor to its live node.
func (w *World) lookup(a physics.ActorHandle) (backendNode, bool) {
	w.nodesMu.RLock()
	bn, ok := w.byActor[a]
	w.nodesMu.RUnlock()
	if !ok || bn.removed() || w.isRemoved(bn.node()) {
		return nil, false
	}
	return bn, true
}

// live reports whether node still has backend objects in this world.
func (w *World) live(node scene.PhysicsNode) bool {
	w.nodesMu.RLock()
	bn, ok := w.byNode[node]
	w.nodesMu.RUnlock()
	return ok && !bn.removed() && !w.isRemoved(node)
}

// snapshot reports scene poses, except for kinematic bodies, which report
// the composed kinematic pose pushed to the backend this frame.
func (w *World) snapshot(ctx context.Context, cache transformCache) []BodyState {
	w.nodesMu.RLock()
	defer w.nodesMu.RUnlock()
	out := make([]BodyState, 0, len(w.nodes))
	for _, bn := range w.nodes {
		if !bn.ready() {
			continue
		}
		c := bn.node().Collision()
		pose := worldPose(c.Node)
		if body, ok := bn.node().(*scene.DynamicRigidBody); ok && body.IsKinematic() {
			pose = poseFromMatrix(cache.kinematicTransform(ctx, w, c.Node))
		}
		out = append(out, BodyState{
			Name:     c.Name(),
			Kind:     bn.node().Kind(),
			Position: pose.P,
			Rotation: pose.Q,
		})
	}
	return out
}

func (w *World) emitFrame(f Frame) {
	w.listenMu.Lock()
	listeners := append([]func(Frame){}, w.listeners...)
	w.listenMu.Unlock()
	for _, fn := range listeners {
		fn(f)
	}
}

// diag logs a recoverable misconfiguration and counts it.
func (w *World) diag(ctx context.Context, kind, msg string, fields ...logging.Field) {
	w.metrics.Diagnostic(kind)
	w.log.Warn(ctx, msg, append(fields, logging.String("kind", kind))...)
}
