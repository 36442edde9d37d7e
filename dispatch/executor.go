package dispatch

import (
	"context"
	"sync"
	"time"

	"observatory/config"
	"observatory/device"
	"observatory/logging"
	"observatory/registry"
)

// Devices resolves devices and their adapters. *registry.Store satisfies it.
type Devices interface {
	registry.Registry
	Adapter(dev *config.Device) (device.Adapter, error)
}

// Executor runs commands on the bridge. Group commands fan out to one
// goroutine per device; a failure in one slot never cancels the others.
type Executor struct {
	devices Devices
	timeout time.Duration
}

// NewExecutor creates an executor. timeout bounds each device's share of a
// call; zero means no bound beyond the transports' own timeouts.
func NewExecutor(devices Devices, timeout time.Duration) *Executor {
	return &Executor{devices: devices, timeout: timeout}
}

// Execute runs one request and returns its result. Every error is a *device.Error.
func (e *Executor) Execute(ctx context.Context, command string, args device.Args) (interface{}, error) {
	switch command {
	case CmdGetDevice:
		id, _ := args.String("deviceId")
		dev, ok := e.devices.Get(id)
		if !ok {
			return nil, device.Routingf("No device found with id: %s", id)
		}
		return dev, nil
	case CmdGetDevices:
		tag, _ := args.String("tag")
		return e.list(tag)
	}

	c, group, err := SplitCommand(command)
	if err != nil {
		return nil, device.Routingf("Unknown command: %s", command)
	}
	if group {
		tag, _ := args.String("tag")
		return e.RunAll(ctx, c, tag, args.Without("tag"))
	}
	id, _ := args.String("deviceId")
	return e.Run(ctx, c, id, args.Without("deviceId"))
}

func (e *Executor) list(tag string) ([]config.Device, error) {
	devs := e.devices.List(tag)
	if len(devs) == 0 {
		if tag != "" {
			return nil, device.Routingf("No devices found with tag: %s", tag)
		}
		return nil, device.Routingf("No devices found")
	}
	return devs, nil
}

// Run invokes c on a single device.
func (e *Executor) Run(ctx context.Context, c device.Capability, deviceID string, args device.Args) (interface{}, error) {
	dev, ok := e.devices.Get(deviceID)
	if !ok {
		return nil, device.Routingf("No device found with id: %s", deviceID)
	}
	logging.DebugLog("dispatch", "%s -> %s", c, deviceID)
	return e.invoke(ctx, dev, c, args)
}

// RunAll invokes c on every device carrying tag (all devices when tag is
// empty). The result has one slot per device in registry order. When every
// device lacks the capability the whole call fails.
func (e *Executor) RunAll(ctx context.Context, c device.Capability, tag string, args device.Args) ([]Slot, error) {
	devs, err := e.list(tag)
	if err != nil {
		return nil, err
	}
	if err := device.Validate(c, args); err != nil {
		return nil, err
	}
	logging.DebugLog("dispatch", "%s -> %d devices (tag %q)", c, len(devs), tag)

	slots := make([]Slot, len(devs))
	unsupported := make([]bool, len(devs))
	var wg sync.WaitGroup
	for i := range devs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dev := &devs[i]
			v, err := e.invoke(ctx, dev, c, args)
			slots[i].DeviceID = dev.ID
			if err != nil {
				unsupported[i] = device.IsUnsupported(err)
				slots[i].Response = device.Failed(err)
				return
			}
			slots[i].Response = v
		}(i)
	}
	wg.Wait()

	for _, u := range unsupported {
		if !u {
			return slots, nil
		}
	}
	return nil, &device.Error{Kind: device.KindUnsupported, Message: device.MsgUnsupportedGroup}
}

func (e *Executor) invoke(ctx context.Context, dev *config.Device, c device.Capability, args device.Args) (interface{}, error) {
	a, err := e.devices.Adapter(dev)
	if err != nil {
		return nil, device.Failed(err)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	v, err := device.Invoke(ctx, a, c, args)
	if err != nil {
		logging.DebugError("dispatch", dev.ID+" "+string(c), err)
		return nil, err
	}
	return v, nil
}
