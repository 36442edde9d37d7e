package engine

import (
	"fmt"
	"strings"

	"observatory/config"
	"observatory/gateway"
)

// saveConfig persists the config. The caller must hold the config lock.
func (e *Engine) saveConfig() error {
	return e.cfg.UnlockAndSave(e.configPath)
}

// AddBridge stores a bcrypt hash of secret for bridge name, replacing any
// existing credential.
func (e *Engine) AddBridge(name, secret string) error {
	if name == "" || strings.ContainsAny(name, ":/ ") {
		return fmt.Errorf("%w: bridge name %q", ErrInvalidInput, name)
	}
	if secret == "" {
		return fmt.Errorf("%w: empty secret", ErrInvalidInput)
	}
	hash, err := gateway.HashSecret(secret)
	if err != nil {
		return err
	}

	e.cfg.Lock()
	e.cfg.SetBridge(config.BridgeCredential{Name: name, SecretHash: hash})
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.emit(EventBridgeCreated, BridgeEvent{Name: name})
	return nil
}

// RemoveBridge deletes a bridge credential. A connected bridge keeps its
// session until it drops; it cannot reconnect.
func (e *Engine) RemoveBridge(name string) error {
	e.cfg.Lock()
	if !e.cfg.RemoveBridge(name) {
		e.cfg.Unlock()
		return fmt.Errorf("%w: bridge %s", ErrNotFound, name)
	}
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.emit(EventBridgeDeleted, BridgeEvent{Name: name})
	return nil
}

// ParseBridgeSpec splits a "name:secret" argument.
func ParseBridgeSpec(spec string) (name, secret string, err error) {
	name, secret, ok := strings.Cut(spec, ":")
	if !ok || name == "" || secret == "" {
		return "", "", fmt.Errorf("%w: expected name:secret, got %q", ErrInvalidInput, spec)
	}
	return name, secret, nil
}
