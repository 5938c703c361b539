package scene

import (
	"github.com/go-gl/mathgl/mgl64"
)

// ComposeTransform builds translate(position) * rotate(rotation) *
// scale(scale) * translate(-pivot).
func ComposeTransform(position mgl64.Vec3, rotation mgl64.Quat, scale, pivot mgl64.Vec3) mgl64.Mat4 {
	m := mgl64.Translate3D(position.X(), position.Y(), position.Z())
	m = m.Mul4(rotation.Normalize().Mat4())
	m = m.Mul4(mgl64.Scale3D(scale.X(), scale.Y(), scale.Z()))
	return m.Mul4(mgl64.Translate3D(-pivot.X(), -pivot.Y(), -pivot.Z()))
}

// DecomposeRigid splits m into translation and rotation, discarding scale.
func DecomposeRigid(m mgl64.Mat4) (mgl64.Vec3, mgl64.Quat) {
	pos := m.Col(3).Vec3()
	c0 := m.Col(0).Vec3()
	c1 := m.Col(1).Vec3()
	c2 := m.Col(2).Vec3()
	if c0.Len() == 0 || c1.Len() == 0 || c2.Len() == 0 {
		return pos, mgl64.QuatIdent()
	}
	rot := mgl64.Mat3FromCols(c0.Normalize(), c1.Normalize(), c2.Normalize())
	return pos, mgl64.Mat4ToQuat(rot.Mat4()).Normalize()
}

// EulerRotation converts angles in degrees to a rotation applied as roll
// about Z, then pitch about X, then yaw about Y.
func EulerRotation(deg mgl64.Vec3) mgl64.Quat {
	qx := mgl64.QuatRotate(mgl64.DegToRad(deg.X()), mgl64.Vec3{1, 0, 0})
	qy := mgl64.QuatRotate(mgl64.DegToRad(deg.Y()), mgl64.Vec3{0, 1, 0})
	qz := mgl64.QuatRotate(mgl64.DegToRad(deg.Z()), mgl64.Vec3{0, 0, 1})
	return qy.Mul(qx).Mul(qz).Normalize()
}
