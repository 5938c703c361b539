package world

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
)

// rotationEpsilon bounds 1-|q1·q2| for rotations treated as equal, about
// 1e-4 radians.
const rotationEpsilon = 1e-9

// worldPose returns the rigid part of n's scene transform.
func worldPose(n *scene.Node) physics.Pose {
	return physics.Pose{P: n.ScenePosition(), Q: n.SceneRotation()}
}

// poseFromMatrix drops scale from m.
func poseFromMatrix(m mgl64.Mat4) physics.Pose {
	p, q := scene.DecomposeRigid(m)
	return physics.Pose{P: p, Q: q}
}

func fuzzyEqual(a, b float64) bool {
	return math.Abs(a-b)*1e5 <= math.Max(1, math.Min(math.Abs(a), math.Abs(b)))
}

// posesEqual compares positions componentwise and rotations up to sign.
func posesEqual(a, b physics.Pose) bool {
	for i := 0; i < 3; i++ {
		if !fuzzyEqual(a.P[i], b.P[i]) {
			return false
		}
	}
	return a.Q.OrientationEqualThreshold(b.Q, rotationEpsilon)
}

// transformCache memoises scene transforms along kinematic parent chains
// for one sync pass.
type transformCache map[*scene.Node]mgl64.Mat4

func newTransformCache() transformCache {
	return make(transformCache)
}

// kinematicTransform composes the scene transform of n from the kinematic
// pose of every dynamic body on its parent chain and the regular local
// transform of every other node.
func (c transformCache) kinematicTransform(ctx context.Context, w *World, n *scene.Node) mgl64.Mat4 {
	if m, ok := c[n]; ok {
		return m
	}

	var local mgl64.Mat4
	if body, ok := n.PhysicsNode().(*scene.DynamicRigidBody); ok && body.Collision().Node == n {
		if !body.IsKinematic() {
			w.diag(ctx, diagKinematicPar, "non-kinematic body as a parent of a kinematic body is unsupported",
				logging.String("body", n.Name()))
		}
		pos, rot, pivot := body.KinematicTransform()
		local = scene.ComposeTransform(pos, rot, n.Scale(), pivot)
	} else {
		local = n.LocalTransform()
	}

	parent := n.Parent()
	if parent == nil {
		return local
	}
	m := c.kinematicTransform(ctx, w, parent).Mul4(local)
	c[n] = m
	return m
}
