package demo

import (
	"math"

	"physsync/backend/internal/core/port/out/physics"
)

// HillsSource names the generated height field in the demo loader.
const HillsSource = "demo/hills"

// hash2D is a cheap deterministic pseudo-noise in [0, 1).
func hash2D(x, y float64) float64 {
	h := math.Sin(x*12.9898+y*78.233) * 43758.5453
	return math.Abs(h) - math.Floor(math.Abs(h))
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// smoothNoise bilinearly blends the lattice values around (x, y).
func smoothNoise(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	sx, sy := smoothstep(x-x0), smoothstep(y-y0)
	top := lerp(hash2D(x0, y0), hash2D(x0+1, y0), sx)
	bottom := lerp(hash2D(x0, y0+1), hash2D(x0+1, y0+1), sx)
	return lerp(top, bottom, sy)
}

// hill is a bump placed at a fraction of the grid.
type hill struct {
	x, z, height, radius float64
}

var hills = []hill{
	{0.2, 0.3, 0.9, 0.25},
	{0.7, 0.8, 0.7, 0.2},
	{0.4, 0.7, 0.6, 0.15},
	{0.8, 0.2, 1.0, 0.2},
}

// GenerateHills returns a rows×columns height field with samples in [0, 1]:
// fractal noise plus a few hills, flattened towards the border so the edges
// meet the floor.
func GenerateHills(rows, columns int) *physics.HeightField {
	scales := []float64{1, 0.5, 0.25, 0.125}
	amplitudes := []float64{0.5, 0.25, 0.125, 0.0625}

	hf := &physics.HeightField{Rows: rows, Columns: columns, Heights: make([]float64, rows*columns)}
	for r := 0; r < rows; r++ {
		for c := 0; c < columns; c++ {
			nx := float64(r) / float64(rows-1)
			nz := float64(c) / float64(columns-1)

			elevation := 0.0
			for i, scale := range scales {
				elevation += smoothNoise(nx*scale*10, nz*scale*10) * amplitudes[i]
			}
			elevation *= 0.3

			for _, h := range hills {
				d := math.Hypot(nx-h.x, nz-h.z)
				if d < h.radius {
					falloff := 1 - d/h.radius
					elevation += h.height * falloff * falloff * 0.7
				}
			}

			edge := math.Min(math.Min(nx, 1-nx), math.Min(nz, 1-nz))
			if edge < 0.1 {
				elevation *= edge / 0.1
			}
			hf.Heights[r*columns+c] = math.Max(0, math.Min(1, elevation))
		}
	}
	return hf
}
