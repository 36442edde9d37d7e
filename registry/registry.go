// Package registry holds the bridge's view of its devices: an immutable
// snapshot of the configured hardware plus a lazily built adapter per device.
package registry

import (
	"sync"

	"observatory/config"
	"observatory/device"
)

// Registry is the read interface dispatchers use to resolve devices.
type Registry interface {
	Get(id string) (*config.Device, bool)
	List(tag string) []config.Device
}

// Snapshot is a point-in-time copy of the device list. It is never mutated
// after construction, so a dispatch can hold one for its whole lifetime.
type Snapshot struct {
	devices []config.Device
	byID    map[string]int
}

// NewSnapshot copies devs into a new snapshot. Order is preserved.
func NewSnapshot(devs []config.Device) *Snapshot {
	s := &Snapshot{
		devices: make([]config.Device, len(devs)),
		byID:    make(map[string]int, len(devs)),
	}
	for i, d := range devs {
		d.Tags = append([]string(nil), d.Tags...)
		s.devices[i] = d
		s.byID[d.ID] = i
	}
	return s
}

// Get returns a copy of the device with the given id.
func (s *Snapshot) Get(id string) (*config.Device, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	d := s.devices[i]
	return &d, true
}

// List returns the devices carrying tag, or every device when tag is empty.
func (s *Snapshot) List(tag string) []config.Device {
	out := make([]config.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if tag == "" || d.HasTag(tag) {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of devices.
func (s *Snapshot) Len() int { return len(s.devices) }

// Store tracks the config's device list and rebuilds its snapshot whenever
// the config changes. Adapters are cached per device id and dropped when the
// device definition changes, or all at once when the adapter options do.
type Store struct {
	cfg  *config.Config
	opts device.Options
	wol  config.WOLConfig

	mu       sync.RWMutex
	snap     *Snapshot
	adapters map[string]device.Adapter
	listener config.ConfigListenerID
}

// NewStore creates a store over cfg and subscribes to its changes.
func NewStore(cfg *config.Config) *Store {
	s := &Store{
		cfg:      cfg,
		opts:     device.OptionsFromConfig(cfg),
		adapters: make(map[string]device.Adapter),
	}
	s.Reload()
	s.listener = cfg.AddOnChangeListener(s.Reload)
	return s
}

// Close detaches the store from config change notifications.
func (s *Store) Close() {
	s.cfg.RemoveOnChangeListener(s.listener)
}

// Reload rebuilds the snapshot from the config.
func (s *Store) Reload() {
	s.cfg.Lock()
	snap := NewSnapshot(s.cfg.Devices)
	opts := device.OptionsFromConfig(s.cfg)
	wol := s.cfg.WOL
	s.cfg.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.Timeouts != s.opts.Timeouts || opts.Node != s.opts.Node || wol != s.wol {
		s.adapters = make(map[string]device.Adapter)
	} else if s.snap != nil {
		for id := range s.adapters {
			old, _ := s.snap.Get(id)
			cur, ok := snap.Get(id)
			if !ok || !sameDevice(old, cur) {
				delete(s.adapters, id)
			}
		}
	}
	s.snap = snap
	s.opts = opts
	s.wol = wol
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Get resolves a device from the current snapshot.
func (s *Store) Get(id string) (*config.Device, bool) {
	return s.Snapshot().Get(id)
}

// List lists devices from the current snapshot.
func (s *Store) List(tag string) []config.Device {
	return s.Snapshot().List(tag)
}

// Adapter returns the cached adapter for dev, creating it on first use.
func (s *Store) Adapter(dev *config.Device) (device.Adapter, error) {
	s.mu.RLock()
	a, ok := s.adapters[dev.ID]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.adapters[dev.ID]; ok {
		return a, nil
	}
	d := *dev
	a, err := device.Create(&d, s.opts)
	if err != nil {
		return nil, err
	}
	s.adapters[dev.ID] = a
	return a, nil
}

func sameDevice(a, b *config.Device) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.IP != b.IP || a.Port != b.Port || a.Protocol != b.Protocol || a.MAC != b.MAC || a.Password != b.Password {
		return false
	}
	return a.GetDisplayID() == b.GetDisplayID()
}
