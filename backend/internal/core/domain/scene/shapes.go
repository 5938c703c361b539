package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Shape is a collision shape declared on a physics node. Its Node holds the
// pose relative to the body.
type Shape interface {
	Node() *Node
	DebugView() bool
	// Revision changes whenever the shape's geometry parameters change.
	Revision() uint64
}

type shapeBase struct {
	node *Node

	mu       sync.RWMutex
	debug    bool
	revision uint64
}

func (s *shapeBase) Node() *Node { return s.node }

func (s *shapeBase) DebugView() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

func (s *shapeBase) SetDebugView(enabled bool) {
	s.mu.Lock()
	s.debug = enabled
	s.mu.Unlock()
}

func (s *shapeBase) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// update runs fn under the shape lock and bumps the revision.
func (s *shapeBase) update(fn func()) {
	s.mu.Lock()
	fn()
	s.revision++
	s.mu.Unlock()
}

// BoxShape is a box with full extents along each axis.
type BoxShape struct {
	shapeBase
	extents mgl64.Vec3
}

func NewBoxShape(extents mgl64.Vec3) *BoxShape {
	return &BoxShape{shapeBase: shapeBase{node: NewNode("box")}, extents: extents}
}

func (s *BoxShape) Extents() mgl64.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extents
}

func (s *BoxShape) SetExtents(e mgl64.Vec3) { s.update(func() { s.extents = e }) }

// SphereShape is a sphere of the given diameter.
type SphereShape struct {
	shapeBase
	diameter float64
}

func NewSphereShape(diameter float64) *SphereShape {
	return &SphereShape{shapeBase: shapeBase{node: NewNode("sphere")}, diameter: diameter}
}

func (s *SphereShape) Diameter() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diameter
}

func (s *SphereShape) SetDiameter(d float64) { s.update(func() { s.diameter = d }) }

// CapsuleShape is a capsule along the local X axis. Height is the length of
// the cylindrical part.
type CapsuleShape struct {
	shapeBase
	diameter float64
	height   float64
}

func NewCapsuleShape(diameter, height float64) *CapsuleShape {
	return &CapsuleShape{shapeBase: shapeBase{node: NewNode("capsule")}, diameter: diameter, height: height}
}

func (s *CapsuleShape) Diameter() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diameter
}

func (s *CapsuleShape) Height() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *CapsuleShape) SetDiameter(d float64) { s.update(func() { s.diameter = d }) }
func (s *CapsuleShape) SetHeight(h float64)   { s.update(func() { s.height = h }) }

// PlaneShape is an infinite plane through the node origin facing local +Z.
type PlaneShape struct {
	shapeBase
}

func NewPlaneShape() *PlaneShape {
	return &PlaneShape{shapeBase: shapeBase{node: NewNode("plane")}}
}

// ConvexMeshShape is the convex hull of a mesh resolved by source key.
type ConvexMeshShape struct {
	shapeBase
	source string
}

func NewConvexMeshShape(source string) *ConvexMeshShape {
	return &ConvexMeshShape{shapeBase: shapeBase{node: NewNode("convex")}, source: source}
}

func (s *ConvexMeshShape) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *ConvexMeshShape) SetSource(src string) { s.update(func() { s.source = src }) }

// TriangleMeshShape is a concave triangle mesh resolved by source key. It
// can only be simulated on static or kinematic bodies.
type TriangleMeshShape struct {
	shapeBase
	source string
}

func NewTriangleMeshShape(source string) *TriangleMeshShape {
	return &TriangleMeshShape{shapeBase: shapeBase{node: NewNode("trimesh")}, source: source}
}

func (s *TriangleMeshShape) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *TriangleMeshShape) SetSource(src string) { s.update(func() { s.source = src }) }

// HeightFieldShape is a height field resolved by source key, centred on the
// node and stretched to extents.
type HeightFieldShape struct {
	shapeBase
	source  string
	extents mgl64.Vec3
}

func NewHeightFieldShape(source string, extents mgl64.Vec3) *HeightFieldShape {
	return &HeightFieldShape{shapeBase: shapeBase{node: NewNode("heightfield")}, source: source, extents: extents}
}

func (s *HeightFieldShape) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *HeightFieldShape) Extents() mgl64.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extents
}

func (s *HeightFieldShape) SetSource(src string)    { s.update(func() { s.source = src }) }
func (s *HeightFieldShape) SetExtents(e mgl64.Vec3) { s.update(func() { s.extents = e }) }
