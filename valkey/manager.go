package valkey

import (
	"sort"
	"sync"

	"observatory/config"
)

// Manager manages multiple Valkey publishers.
type Manager struct {
	publishers []*Publisher
	handler    CommandHandler
	mu         sync.RWMutex
}

// NewManager creates a new Valkey manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadFromConfig replaces the publishers with one per configured server.
func (m *Manager) LoadFromConfig(configs []config.ValkeyConfig, ns string) {
	m.mu.Lock()
	old := m.publishers
	m.publishers = make([]*Publisher, 0, len(configs))
	for i := range configs {
		pub := NewPublisher(&configs[i], ns)
		if m.handler != nil {
			pub.SetCommandHandler(m.handler)
		}
		m.publishers = append(m.publishers, pub)
	}
	m.mu.Unlock()

	for _, pub := range old {
		pub.Stop()
	}
}

// List returns all publishers sorted by name.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	out := make([]*Publisher, len(m.publishers))
	copy(out, m.publishers)
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].config.Name < out[j].config.Name })
	return out
}

// StartAll starts all enabled publishers and returns how many connected.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if !pub.config.Enabled {
			continue
		}
		if err := pub.Start(); err != nil {
			debugLog("Failed to start Valkey %s: %v", pub.config.Name, err)
			continue
		}
		debugLog("Started Valkey %s at %s", pub.config.Name, pub.Address())
		started++
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// SetCommandHandler sets the command handler for all publishers.
func (m *Manager) SetCommandHandler(handler CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = handler
	for _, pub := range m.publishers {
		pub.SetCommandHandler(handler)
	}
}

// PublishResult stores a command result on all running publishers.
func (m *Manager) PublishResult(msg ResultMessage) {
	for _, pub := range m.List() {
		if !pub.IsRunning() {
			continue
		}
		if err := pub.PublishResult(msg); err != nil {
			debugLog("Valkey publish error (%s): %v", pub.config.Name, err)
		}
	}
}

// PublishStatus stores bridge presence on all running publishers.
func (m *Manager) PublishStatus(bridge string, online bool) {
	for _, pub := range m.List() {
		if !pub.IsRunning() {
			continue
		}
		if err := pub.PublishStatus(bridge, online); err != nil {
			debugLog("Valkey status error (%s): %v", pub.config.Name, err)
		}
	}
}
