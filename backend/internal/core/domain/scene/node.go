// Package scene is the scene-graph side of the simulation: transform nodes,
// the physics nodes declared on them and their collision shapes. The world
// package observes these types; it never constructs or frees them.
package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Node is a transform node. Local transform is
// translate(position) * rotate(rotation) * scale(scale) * translate(-pivot).
type Node struct {
	mu       sync.RWMutex
	name     string
	parent   *Node
	children []*Node
	position mgl64.Vec3
	rotation mgl64.Quat
	scale    mgl64.Vec3
	pivot    mgl64.Vec3

	// owner is the physics node this transform belongs to, if any.
	owner PhysicsNode
}

// NewNode returns an identity node.
func NewNode(name string) *Node {
	return &Node{
		name:     name,
		rotation: mgl64.QuatIdent(),
		scale:    mgl64.Vec3{1, 1, 1},
	}
}

func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// AddChild reparents child under n.
func (n *Node) AddChild(child *Node) {
	if old := child.Parent(); old != nil {
		old.RemoveChild(child)
	}
	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()

	child.mu.Lock()
	child.parent = n
	child.mu.Unlock()
}

// RemoveChild detaches child from n. Unknown children are ignored.
func (n *Node) RemoveChild(child *Node) {
	n.mu.Lock()
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	child.mu.Lock()
	if child.parent == n {
		child.parent = nil
	}
	child.mu.Unlock()
}

// IsAncestorOf reports whether n is other or one of its parents.
func (n *Node) IsAncestorOf(other *Node) bool {
	for p := other; p != nil; p = p.Parent() {
		if p == n {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the visited node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// PhysicsNode returns the physics node owning this transform, or nil.
func (n *Node) PhysicsNode() PhysicsNode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.owner
}

func (n *Node) Position() mgl64.Vec3 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.position
}

func (n *Node) SetPosition(p mgl64.Vec3) {
	n.mu.Lock()
	n.position = p
	n.mu.Unlock()
}

func (n *Node) Rotation() mgl64.Quat {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rotation
}

func (n *Node) SetRotation(q mgl64.Quat) {
	n.mu.Lock()
	n.rotation = q.Normalize()
	n.mu.Unlock()
}

// SetEulerRotation sets the rotation from angles in degrees.
func (n *Node) SetEulerRotation(deg mgl64.Vec3) {
	n.SetRotation(EulerRotation(deg))
}

func (n *Node) Scale() mgl64.Vec3 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scale
}

func (n *Node) SetScale(s mgl64.Vec3) {
	n.mu.Lock()
	n.scale = s
	n.mu.Unlock()
}

func (n *Node) Pivot() mgl64.Vec3 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.pivot
}

func (n *Node) SetPivot(p mgl64.Vec3) {
	n.mu.Lock()
	n.pivot = p
	n.mu.Unlock()
}

// LocalTransform returns the node's transform relative to its parent.
func (n *Node) LocalTransform() mgl64.Mat4 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return ComposeTransform(n.position, n.rotation, n.scale, n.pivot)
}

// SceneTransform returns the node's transform relative to the scene root.
func (n *Node) SceneTransform() mgl64.Mat4 {
	local := n.LocalTransform()
	if p := n.Parent(); p != nil {
		return p.SceneTransform().Mul4(local)
	}
	return local
}

func (n *Node) ScenePosition() mgl64.Vec3 {
	return n.SceneTransform().Col(3).Vec3()
}

func (n *Node) SceneRotation() mgl64.Quat {
	_, q := DecomposeRigid(n.SceneTransform())
	return q
}

func (n *Node) SceneScale() mgl64.Vec3 {
	x, y, z := mgl64.Extract3DScale(n.SceneTransform())
	return mgl64.Vec3{x, y, z}
}

// MapPositionFromScene maps a scene-space point into n's local space.
func (n *Node) MapPositionFromScene(p mgl64.Vec3) mgl64.Vec3 {
	return mgl64.TransformCoordinate(p, n.SceneTransform().Inv())
}

// MapRotationFromScene maps a scene-space rotation into n's local space.
func (n *Node) MapRotationFromScene(q mgl64.Quat) mgl64.Quat {
	return n.SceneRotation().Inverse().Mul(q).Normalize()
}
