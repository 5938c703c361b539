package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// CollisionFlags records which sides of a character touched geometry during
// its last move.
type CollisionFlags uint8

const (
	CollisionNone CollisionFlags = 0
	CollisionSide CollisionFlags = 1
	CollisionUp   CollisionFlags = 2
	CollisionDown CollisionFlags = 4
)

// CharacterController is a capsule moved by displacement instead of forces.
// Its first shape must be a CapsuleShape.
type CharacterController struct {
	CollisionNode
	material *Material

	state         sync.Mutex
	movement      mgl64.Vec3
	gravity       mgl64.Vec3
	midAirControl bool
	teleport      *mgl64.Vec3
	collisions    CollisionFlags

	fallVelocity mgl64.Vec3
	airMovement  mgl64.Vec3
}

func NewCharacterController(name string) *CharacterController {
	c := &CharacterController{midAirControl: true}
	c.setup(name, c)
	return c
}

func (c *CharacterController) Kind() Kind                { return KindCharacter }
func (c *CharacterController) Collision() *CollisionNode { return &c.CollisionNode }

func (c *CharacterController) Material() *Material {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.material
}

func (c *CharacterController) SetMaterial(m *Material) {
	c.mu.Lock()
	c.material = m
	c.mu.Unlock()
}

// Movement returns the requested velocity in the node's local frame.
func (c *CharacterController) Movement() mgl64.Vec3 {
	c.state.Lock()
	defer c.state.Unlock()
	return c.movement
}

func (c *CharacterController) SetMovement(v mgl64.Vec3) {
	c.state.Lock()
	c.movement = v
	c.state.Unlock()
}

// Gravity is the scene-space acceleration applied while airborne.
func (c *CharacterController) Gravity() mgl64.Vec3 {
	c.state.Lock()
	defer c.state.Unlock()
	return c.gravity
}

func (c *CharacterController) SetGravity(g mgl64.Vec3) {
	c.state.Lock()
	c.gravity = g
	c.state.Unlock()
}

// MidAirControl allows steering while not standing on anything.
func (c *CharacterController) MidAirControl() bool {
	c.state.Lock()
	defer c.state.Unlock()
	return c.midAirControl
}

func (c *CharacterController) SetMidAirControl(v bool) {
	c.state.Lock()
	c.midAirControl = v
	c.state.Unlock()
}

// Teleport moves the controller to a scene-space position on the next sync,
// skipping that sync's movement.
func (c *CharacterController) Teleport(position mgl64.Vec3) {
	c.state.Lock()
	c.teleport = &position
	c.fallVelocity = mgl64.Vec3{}
	c.state.Unlock()
}

// TakeTeleport returns and clears a pending teleport.
func (c *CharacterController) TakeTeleport() (mgl64.Vec3, bool) {
	c.state.Lock()
	defer c.state.Unlock()
	if c.teleport == nil {
		return mgl64.Vec3{}, false
	}
	p := *c.teleport
	c.teleport = nil
	return p, true
}

// Collisions returns the flags of the last move.
func (c *CharacterController) Collisions() CollisionFlags {
	c.state.Lock()
	defer c.state.Unlock()
	return c.collisions
}

// SetCollisions records the flags of the last move.
func (c *CharacterController) SetCollisions(f CollisionFlags) {
	c.state.Lock()
	c.collisions = f
	c.state.Unlock()
}

// Displacement returns the scene-space translation requested for a step of
// dt seconds and advances the free-fall state.
func (c *CharacterController) Displacement(dt float64) mgl64.Vec3 {
	rotation := c.SceneRotation()

	c.state.Lock()
	defer c.state.Unlock()

	movement := rotation.Rotate(c.movement)
	grounded := c.collisions&CollisionDown != 0

	if grounded {
		c.fallVelocity = c.gravity.Mul(dt)
	} else {
		c.fallVelocity = c.fallVelocity.Add(c.gravity.Mul(dt))
	}
	if grounded || c.midAirControl {
		c.airMovement = movement
	} else {
		movement = c.airMovement
	}
	return movement.Add(c.fallVelocity).Mul(dt)
}
