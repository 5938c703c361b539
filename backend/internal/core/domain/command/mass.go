package command

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

// MassMode names the rule that decided a body's mass.
type MassMode int

const (
	MassDefaultDensity MassMode = iota
	MassCustomDensity
	MassExplicit
	MassExplicitTensor
	MassExplicitMatrix
)

// MassProperties is the scene-side mass declaration of a dynamic body.
// Non-positive mass or density means unset.
type MassProperties struct {
	Mass          float64
	Density       float64
	CenterOfMass  physics.Pose
	InertiaTensor *mgl64.Vec3
	InertiaMatrix *mgl64.Mat3
}

// Mode applies the precedence explicit mass > explicit density > world
// default density.
func (p MassProperties) Mode() MassMode {
	switch {
	case p.Mass > 0 && p.InertiaMatrix != nil:
		return MassExplicitMatrix
	case p.Mass > 0 && p.InertiaTensor != nil:
		return MassExplicitTensor
	case p.Mass > 0:
		return MassExplicit
	case p.Density > 0:
		return MassCustomDensity
	default:
		return MassDefaultDensity
	}
}

// Command returns the command that applies these properties.
func (p MassProperties) Command() Command {
	com := p.CenterOfMass
	if com.Q == (mgl64.Quat{}) {
		com.Q = mgl64.QuatIdent()
	}
	switch p.Mode() {
	case MassExplicitMatrix:
		return SetMassAndInertiaMatrix{Mass: p.Mass, CenterOfMass: com, Inertia: *p.InertiaMatrix}
	case MassExplicitTensor:
		return SetMassAndInertiaTensor{Mass: p.Mass, CenterOfMass: com, Tensor: *p.InertiaTensor}
	case MassExplicit:
		return SetMass{Mass: p.Mass}
	case MassCustomDensity:
		return SetDensity{Density: p.Density}
	default:
		return SetDensity{}
	}
}

// Diagonalize decomposes a symmetric matrix into principal moments and the
// rotation whose columns are the principal axes, using cyclic Jacobi sweeps.
func Diagonalize(m mgl64.Mat3) (mgl64.Vec3, mgl64.Quat) {
	var a [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			a[r][c] = 0.5 * (m.At(r, c) + m.At(c, r))
		}
	}
	v := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

	for sweep := 0; sweep < 50; sweep++ {
		off := a[0][1]*a[0][1] + a[0][2]*a[0][2] + a[1][2]*a[1][2]
		if off < 1e-24 {
			break
		}
		for p := 0; p < 2; p++ {
			for q := p + 1; q < 3; q++ {
				if math.Abs(a[p][q]) < 1e-300 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c
				for k := 0; k < 3; k++ {
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - s*akq
					a[k][q] = s*akp + c*akq
				}
				for k := 0; k < 3; k++ {
					apk, aqk := a[p][k], a[q][k]
					a[p][k] = c*apk - s*aqk
					a[q][k] = s*apk + c*aqk
				}
				for k := 0; k < 3; k++ {
					vkp, vkq := v[k][p], v[k][q]
					v[k][p] = c*vkp - s*vkq
					v[k][q] = s*vkp + c*vkq
				}
			}
		}
	}

	axes := mgl64.Mat3FromCols(
		mgl64.Vec3{v[0][0], v[1][0], v[2][0]},
		mgl64.Vec3{v[0][1], v[1][1], v[2][1]},
		mgl64.Vec3{v[0][2], v[1][2], v[2][2]},
	)
	if axes.Det() < 0 {
		axes = mgl64.Mat3FromCols(axes.Col(0), axes.Col(1), axes.Col(2).Mul(-1))
	}
	return mgl64.Vec3{a[0][0], a[1][1], a[2][2]}, mgl64.Mat4ToQuat(axes.Mat4()).Normalize()
}
