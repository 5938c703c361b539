package scene

import "sync"

// Material holds the surface properties shared by the shapes of a body.
type Material struct {
	mu              sync.RWMutex
	staticFriction  float64
	dynamicFriction float64
	restitution     float64
}

// NewMaterial returns a material with friction and restitution of 0.5.
func NewMaterial() *Material {
	return &Material{staticFriction: 0.5, dynamicFriction: 0.5, restitution: 0.5}
}

// Values returns static friction, dynamic friction and restitution.
func (m *Material) Values() (staticFriction, dynamicFriction, restitution float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.staticFriction, m.dynamicFriction, m.restitution
}

func (m *Material) SetStaticFriction(v float64) {
	m.mu.Lock()
	m.staticFriction = v
	m.mu.Unlock()
}

func (m *Material) SetDynamicFriction(v float64) {
	m.mu.Lock()
	m.dynamicFriction = v
	m.mu.Unlock()
}

func (m *Material) SetRestitution(v float64) {
	m.mu.Lock()
	m.restitution = v
	m.mu.Unlock()
}
