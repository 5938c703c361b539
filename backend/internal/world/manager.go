package world

import (
	"sync"

	"physsync/backend/internal/core/domain/scene"
)

// Manager routes physics nodes to the world whose scene contains them.
// Nodes registered before any world claims their subtree are kept as orphans
// and matched at the start of every sync.
type Manager struct {
	mu      sync.RWMutex
	worlds  []*World
	orphans []scene.PhysicsNode
	// registered maps every known node to its world, nil for orphans.
	registered map[scene.PhysicsNode]*World
}

func NewManager() *Manager {
	return &Manager{
		registered: make(map[scene.PhysicsNode]*World),
	}
}

// RegisterNode hands node to the world containing it, or keeps it as an
// orphan. Registering a known node is a no-op.
func (m *Manager) RegisterNode(node scene.PhysicsNode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registered[node]; ok {
		return
	}
	w := m.worldOfLocked(node)
	m.registered[node] = w
	if w == nil {
		m.orphans = append(m.orphans, node)
		return
	}
	w.enqueue(node)
}

// DeregisterNode removes node from every world and from the orphan set. Its
// backend objects are released during the next sync of the owning world.
func (m *Manager) DeregisterNode(node scene.PhysicsNode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.worlds {
		w.forget(node)
	}
	m.removeOrphanLocked(node)
	delete(m.registered, node)
}

// Orphans returns the number of nodes waiting for a world.
func (m *Manager) Orphans() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orphans)
}

// WorldOf returns the world node was handed to, or nil.
func (m *Manager) WorldOf(node scene.PhysicsNode) *World {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registered[node]
}

func (m *Manager) addWorld(w *World) {
	m.mu.Lock()
	m.worlds = append(m.worlds, w)
	m.mu.Unlock()
}

func (m *Manager) removeWorld(w *World) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, have := range m.worlds {
		if have == w {
			m.worlds = append(m.worlds[:i], m.worlds[i+1:]...)
			break
		}
	}
	for node, owner := range m.registered {
		if owner == w {
			m.registered[node] = nil
			m.orphans = append(m.orphans, node)
		}
	}
}

// claimScene reports whether root is free for w to use.
func (m *Manager) claimScene(w *World, root *scene.Node) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, other := range m.worlds {
		if other != w && other.sceneRoot() == root {
			return false
		}
	}
	return true
}

// matchOrphans moves the orphans inside w's scene into w.
func (m *Manager) matchOrphans(w *World) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.orphans) == 0 {
		return
	}
	kept := m.orphans[:0]
	for _, node := range m.orphans {
		if m.worldOfLocked(node) == w {
			m.registered[node] = w
			w.enqueue(node)
			continue
		}
		kept = append(kept, node)
	}
	m.orphans = kept
}

// adopt registers node with w directly, taking it out of the orphan set.
func (m *Manager) adopt(w *World, node scene.PhysicsNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.registered[node]; ok && owner != nil {
		return
	}
	m.removeOrphanLocked(node)
	m.registered[node] = w
	w.enqueue(node)
}

func (m *Manager) removeOrphanLocked(node scene.PhysicsNode) {
	for i, have := range m.orphans {
		if have == node {
			m.orphans = append(m.orphans[:i], m.orphans[i+1:]...)
			return
		}
	}
}

func (m *Manager) worldOfLocked(node scene.PhysicsNode) *World {
	n := node.Collision().Node
	for _, w := range m.worlds {
		if root := w.sceneRoot(); root != nil && root.IsAncestorOf(n) {
			return w
		}
	}
	return nil
}
