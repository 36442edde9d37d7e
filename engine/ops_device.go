package engine

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"observatory/config"
)

// AddDevice registers a device and persists it. The registry picks the
// change up through the config listener.
func (b *Bridge) AddDevice(dev config.Device) error {
	b.cfg.Lock()
	if b.cfg.FindDevice(dev.ID) != nil {
		b.cfg.Unlock()
		return fmt.Errorf("%w: device %s", ErrAlreadyExists, dev.ID)
	}
	if err := b.cfg.AddDevice(dev); err != nil {
		b.cfg.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := b.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	b.emit(EventDeviceCreated, DeviceEvent{ID: dev.ID})
	return nil
}

// UpdateDevice replaces a device definition. The protocol is fixed.
func (b *Bridge) UpdateDevice(id string, dev config.Device) error {
	b.cfg.Lock()
	if b.cfg.FindDevice(id) == nil {
		b.cfg.Unlock()
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	if err := b.cfg.UpdateDevice(id, dev); err != nil {
		b.cfg.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := b.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	b.emit(EventDeviceUpdated, DeviceEvent{ID: dev.ID})
	return nil
}

// RemoveDevice deletes a device.
func (b *Bridge) RemoveDevice(id string) error {
	b.cfg.Lock()
	if !b.cfg.RemoveDevice(id) {
		b.cfg.Unlock()
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	if err := b.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	b.emit(EventDeviceDeleted, DeviceEvent{ID: id})
	return nil
}

// ParseDeviceSpec decodes a device given on the command line as an inline
// YAML mapping, e.g. "{id: proj, protocol: pjlink, ip: 10.0.0.5, tags: [hall]}".
func ParseDeviceSpec(spec string) (config.Device, error) {
	var dev config.Device
	if strings.TrimSpace(spec) == "" {
		return dev, fmt.Errorf("%w: empty device", ErrInvalidInput)
	}
	if err := yaml.Unmarshal([]byte(spec), &dev); err != nil {
		return dev, fmt.Errorf("%w: device %q: %v", ErrInvalidInput, spec, err)
	}
	if dev.ID == "" || dev.IP == "" || dev.Protocol == "" {
		return dev, fmt.Errorf("%w: device needs id, ip and protocol", ErrInvalidInput)
	}
	return dev, nil
}
