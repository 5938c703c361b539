// Package meshcache shares pre-cooked meshes and height fields between the
// shapes that reference them by source key.
package meshcache

import (
	"errors"
	"fmt"
	"sync"

	"physsync/backend/internal/core/port/out/physics"
)

// ErrNotFound is returned by a Loader that has nothing under a source key.
var ErrNotFound = errors.New("meshcache: source not found")

// Loader resolves source keys into cooked geometry data.
type Loader interface {
	LoadMesh(source string) (*physics.Mesh, error)
	LoadHeightField(source string) (*physics.HeightField, error)
}

type meshEntry struct {
	mesh *physics.Mesh
	refs int
}

type fieldEntry struct {
	field *physics.HeightField
	refs  int
}

// Cache holds one cooked copy per source key for as long as any shape
// references it.
type Cache struct {
	loader Loader

	mu     sync.Mutex
	meshes map[string]*meshEntry
	fields map[string]*fieldEntry
}

func New(loader Loader) *Cache {
	return &Cache{
		loader: loader,
		meshes: make(map[string]*meshEntry),
		fields: make(map[string]*fieldEntry),
	}
}

// AcquireMesh returns the mesh for source, loading it on first use. Every
// successful call must be paired with ReleaseMesh.
func (c *Cache) AcquireMesh(source string) (*physics.Mesh, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.meshes[source]; ok {
		e.refs++
		return e.mesh, nil
	}
	m, err := c.loader.LoadMesh(source)
	if err != nil {
		return nil, fmt.Errorf("load mesh %q: %w", source, err)
	}
	c.meshes[source] = &meshEntry{mesh: m, refs: 1}
	return m, nil
}

// ReleaseMesh drops one reference and evicts the mesh on the last one.
func (c *Cache) ReleaseMesh(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.meshes[source]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.meshes, source)
	}
}

// AcquireHeightField returns the height field for source, loading it on
// first use.
func (c *Cache) AcquireHeightField(source string) (*physics.HeightField, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.fields[source]; ok {
		e.refs++
		return e.field, nil
	}
	hf, err := c.loader.LoadHeightField(source)
	if err != nil {
		return nil, fmt.Errorf("load height field %q: %w", source, err)
	}
	c.fields[source] = &fieldEntry{field: hf, refs: 1}
	return hf, nil
}

func (c *Cache) ReleaseHeightField(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.fields[source]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.fields, source)
	}
}

// Refs returns the reference count held on source across both kinds.
func (c *Cache) Refs(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if e, ok := c.meshes[source]; ok {
		n += e.refs
	}
	if e, ok := c.fields[source]; ok {
		n += e.refs
	}
	return n
}

// StaticLoader serves geometry registered in memory.
type StaticLoader struct {
	mu     sync.RWMutex
	meshes map[string]*physics.Mesh
	fields map[string]*physics.HeightField
	loads  int
}

func NewStaticLoader() *StaticLoader {
	return &StaticLoader{
		meshes: make(map[string]*physics.Mesh),
		fields: make(map[string]*physics.HeightField),
	}
}

func (l *StaticLoader) AddMesh(source string, m *physics.Mesh) {
	l.mu.Lock()
	l.meshes[source] = m
	l.mu.Unlock()
}

func (l *StaticLoader) AddHeightField(source string, hf *physics.HeightField) {
	l.mu.Lock()
	l.fields[source] = hf
	l.mu.Unlock()
}

func (l *StaticLoader) LoadMesh(source string) (*physics.Mesh, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.meshes[source]
	if !ok {
		return nil, ErrNotFound
	}
	l.loads++
	return m, nil
}

func (l *StaticLoader) LoadHeightField(source string) (*physics.HeightField, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hf, ok := l.fields[source]
	if !ok {
		return nil, ErrNotFound
	}
	l.loads++
	return hf, nil
}

// Loads reports how many successful loads the loader has served.
func (l *StaticLoader) Loads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loads
}
