package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Kind tells which backend representation a physics node needs.
type Kind int

const (
	KindStatic Kind = iota
	KindDynamic
	KindTrigger
	KindCharacter
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindDynamic:
		return "dynamic"
	case KindTrigger:
		return "trigger"
	case KindCharacter:
		return "character"
	default:
		return "unknown"
	}
}

// PhysicsNode is implemented by StaticRigidBody, DynamicRigidBody,
// TriggerBody and CharacterController.
type PhysicsNode interface {
	Kind() Kind
	Collision() *CollisionNode
}

// ContactEvent describes a contact reported to a node. Normals point towards
// the receiving node.
type ContactEvent struct {
	Other     PhysicsNode
	Positions []mgl64.Vec3
	Impulses  []mgl64.Vec3
	Normals   []mgl64.Vec3
}

// CollisionNode is the part shared by every physics node: its transform,
// declared shapes, report flags and observers.
type CollisionNode struct {
	*Node

	mu                    sync.RWMutex
	shapes                []Shape
	sendContactReports    bool
	receiveContactReports bool
	sendTriggerReports    bool
	receiveTriggerReports bool

	onContact        []func(ContactEvent)
	onEnteredTrigger []func(*TriggerBody)
	onExitedTrigger  []func(*TriggerBody)
}

func (c *CollisionNode) setup(name string, owner PhysicsNode) {
	c.Node = NewNode(name)
	c.Node.owner = owner
}

// Shapes returns a copy of the declared shapes.
func (c *CollisionNode) Shapes() []Shape {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Shape, len(c.shapes))
	copy(out, c.shapes)
	return out
}

// AddShape declares s on the node and parents its transform to the node.
func (c *CollisionNode) AddShape(s Shape) {
	c.Node.AddChild(s.Node())
	c.mu.Lock()
	c.shapes = append(c.shapes, s)
	c.mu.Unlock()
}

// RemoveShape drops s from the node.
func (c *CollisionNode) RemoveShape(s Shape) {
	c.mu.Lock()
	for i, have := range c.shapes {
		if have == s {
			c.shapes = append(c.shapes[:i], c.shapes[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.Node.RemoveChild(s.Node())
}

func (c *CollisionNode) SendContactReports() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendContactReports
}

func (c *CollisionNode) SetSendContactReports(v bool) {
	c.mu.Lock()
	c.sendContactReports = v
	c.mu.Unlock()
}

func (c *CollisionNode) ReceiveContactReports() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.receiveContactReports
}

func (c *CollisionNode) SetReceiveContactReports(v bool) {
	c.mu.Lock()
	c.receiveContactReports = v
	c.mu.Unlock()
}

func (c *CollisionNode) SendTriggerReports() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendTriggerReports
}

func (c *CollisionNode) SetSendTriggerReports(v bool) {
	c.mu.Lock()
	c.sendTriggerReports = v
	c.mu.Unlock()
}

func (c *CollisionNode) ReceiveTriggerReports() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.receiveTriggerReports
}

func (c *CollisionNode) SetReceiveTriggerReports(v bool) {
	c.mu.Lock()
	c.receiveTriggerReports = v
	c.mu.Unlock()
}

// OnContact registers fn for contacts this node receives.
func (c *CollisionNode) OnContact(fn func(ContactEvent)) {
	c.mu.Lock()
	c.onContact = append(c.onContact, fn)
	c.mu.Unlock()
}

// OnEnteredTrigger registers fn for trigger bodies this node enters.
func (c *CollisionNode) OnEnteredTrigger(fn func(*TriggerBody)) {
	c.mu.Lock()
	c.onEnteredTrigger = append(c.onEnteredTrigger, fn)
	c.mu.Unlock()
}

// OnExitedTrigger registers fn for trigger bodies this node leaves.
func (c *CollisionNode) OnExitedTrigger(fn func(*TriggerBody)) {
	c.mu.Lock()
	c.onExitedTrigger = append(c.onExitedTrigger, fn)
	c.mu.Unlock()
}

// NotifyContact delivers ev to the contact observers.
func (c *CollisionNode) NotifyContact(ev ContactEvent) {
	c.mu.RLock()
	handlers := append([]func(ContactEvent){}, c.onContact...)
	c.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// NotifyEnteredTrigger delivers a trigger entry to the observers.
func (c *CollisionNode) NotifyEnteredTrigger(t *TriggerBody) {
	c.mu.RLock()
	handlers := append([]func(*TriggerBody){}, c.onEnteredTrigger...)
	c.mu.RUnlock()
	for _, fn := range handlers {
		fn(t)
	}
}

// NotifyExitedTrigger delivers a trigger exit to the observers.
func (c *CollisionNode) NotifyExitedTrigger(t *TriggerBody) {
	c.mu.RLock()
	handlers := append([]func(*TriggerBody){}, c.onExitedTrigger...)
	c.mu.RUnlock()
	for _, fn := range handlers {
		fn(t)
	}
}
