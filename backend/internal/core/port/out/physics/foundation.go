package physics

import (
	"fmt"
	"sync"
)

// EngineFactory builds the process-wide Engine.
type EngineFactory func() (Engine, error)

// Foundation is the process-scoped owner of the Engine. Worlds acquire it on
// start and release it on close; the Engine is built by the first Acquire and
// closed by the last Release.
type Foundation struct {
	mu      sync.Mutex
	factory EngineFactory
	engine  Engine
	refs    int
}

// NewFoundation returns a foundation that builds its Engine with factory.
func NewFoundation(factory EngineFactory) *Foundation {
	return &Foundation{factory: factory}
}

// Acquire returns the shared Engine, building it when no world holds it.
func (f *Foundation) Acquire() (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.engine == nil {
		engine, err := f.factory()
		if err != nil {
			return nil, fmt.Errorf("create physics engine: %w", err)
		}
		if engine == nil {
			return nil, fmt.Errorf("create physics engine: factory returned nil")
		}
		f.engine = engine
	}
	f.refs++
	return f.engine, nil
}

// Release drops one reference and closes the Engine on the last one.
func (f *Foundation) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refs == 0 {
		return nil
	}
	f.refs--
	if f.refs > 0 {
		return nil
	}
	engine := f.engine
	f.engine = nil
	if err := engine.Close(); err != nil {
		return fmt.Errorf("close physics engine: %w", err)
	}
	return nil
}

// Refs returns the number of outstanding acquisitions.
func (f *Foundation) Refs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs
}
