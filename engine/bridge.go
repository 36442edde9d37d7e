package engine

import (
	"context"
	"fmt"

	"observatory/bridge"
	"observatory/config"
	"observatory/dispatch"
	"observatory/registry"
)

// Bridge is the site-side runtime: it owns the device registry and answers
// the core's requests by driving the hardware.
type Bridge struct {
	cfg        *config.Config
	configPath string
	logFn      LogFunc

	store    *registry.Store
	executor *dispatch.Executor
	client   *bridge.Client

	Events *EventBus
}

// NewBridge creates the bridge runtime. The registry is loaded at once.
func NewBridge(c Config) *Bridge {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	b := &Bridge{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		Events:     NewEventBus(),
	}
	b.store = registry.NewStore(b.cfg)

	b.cfg.Lock()
	timeout := b.cfg.Timeouts.Device
	link := b.cfg.Bridge
	b.cfg.Unlock()

	b.executor = dispatch.NewExecutor(b.store, timeout)
	b.client = bridge.NewClient(link, b.executor)
	b.client.SetLogFunc(logFn)

	b.Events.SubscribeTypes(func(ev Event) {
		if d, ok := ev.Payload.(DeviceEvent); ok {
			b.logFn("Device %s: %s", d.ID, ev.Type)
		}
	}, EventDeviceCreated, EventDeviceUpdated, EventDeviceDeleted)
	return b
}

// Run serves the core connection until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.cfg.Lock()
	link := b.cfg.Bridge
	b.cfg.Unlock()

	if link.Name == "" || link.CoreURL == "" {
		return fmt.Errorf("%w: bridge name and core url are required", ErrInvalidInput)
	}
	b.logFn("Bridge %s serving %d device(s) for %s", link.Name, b.store.Snapshot().Len(), link.CoreURL)
	defer b.store.Close()
	return b.client.Run(ctx)
}

// Executor returns the command executor.
func (b *Bridge) Executor() *dispatch.Executor { return b.executor }

// Connected reports whether the bridge has a live core session.
func (b *Bridge) Connected() bool { return b.client.Connected() }

// Devices returns the devices carrying tag, or all devices for "".
func (b *Bridge) Devices(tag string) []config.Device {
	return b.store.List(tag)
}

func (b *Bridge) emit(t EventType, payload interface{}) {
	b.Events.Emit(Event{Type: t, Payload: payload})
}

func (b *Bridge) saveConfig() error {
	return b.cfg.UnlockAndSave(b.configPath)
}
