package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"observatory/device"
	"observatory/logging"
)

// ErrNotConnected is returned by a Caller when the bridge has no live session.
var ErrNotConnected = errors.New("bridge not connected")

// Caller delivers a request to a connected bridge and waits for its ack.
type Caller interface {
	Call(ctx context.Context, bridge string, req *Request) (*Ack, error)
}

// Outcome describes a finished dispatch.
type Outcome struct {
	Bridge   string
	Command  string
	DeviceID string
	Tag      string
	Response json.RawMessage
	Err      error
	Duration time.Duration
}

// Dispatcher is the core side of command routing.
type Dispatcher struct {
	caller  Caller
	timeout time.Duration
	notify  func(Outcome)
}

// NewDispatcher creates a dispatcher. timeout bounds the wait for an ack.
func NewDispatcher(caller Caller, timeout time.Duration) *Dispatcher {
	return &Dispatcher{caller: caller, timeout: timeout, notify: func(Outcome) {}}
}

// SetNotify registers a callback for every finished dispatch.
func (d *Dispatcher) SetNotify(fn func(Outcome)) {
	if fn == nil {
		fn = func(Outcome) {}
	}
	d.notify = fn
}

// Dispatch runs command on one device of bridge.
func (d *Dispatcher) Dispatch(ctx context.Context, bridge, command, deviceID string, args device.Args) (json.RawMessage, error) {
	if _, group, err := SplitCommand(command); err != nil || group {
		return nil, device.Routingf("Unknown command: %s", command)
	}
	a := copyArgs(args)
	a["deviceId"] = deviceID
	return d.send(ctx, bridge, command, a, Outcome{DeviceID: deviceID})
}

// DispatchAll runs command on every device of bridge carrying tag.
func (d *Dispatcher) DispatchAll(ctx context.Context, bridge, command, tag string, args device.Args) (json.RawMessage, error) {
	if _, group, err := SplitCommand(command); err != nil || group {
		return nil, device.Routingf("Unknown command: %s", command)
	}
	a := copyArgs(args)
	if tag != "" {
		a["tag"] = tag
	}
	return d.send(ctx, bridge, command+AllSuffix, a, Outcome{Tag: tag})
}

// GetDevice asks bridge for one device definition.
func (d *Dispatcher) GetDevice(ctx context.Context, bridge, deviceID string) (json.RawMessage, error) {
	return d.send(ctx, bridge, CmdGetDevice, device.Args{"deviceId": deviceID}, Outcome{DeviceID: deviceID})
}

// GetDevices asks bridge for its devices, optionally filtered by tag.
func (d *Dispatcher) GetDevices(ctx context.Context, bridge, tag string) (json.RawMessage, error) {
	args := device.Args{}
	if tag != "" {
		args["tag"] = tag
	}
	return d.send(ctx, bridge, CmdGetDevices, args, Outcome{Tag: tag})
}

func (d *Dispatcher) send(ctx context.Context, bridge, command string, args device.Args, out Outcome) (json.RawMessage, error) {
	start := time.Now()
	out.Bridge = bridge
	out.Command = command

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req := &Request{ID: uuid.NewString(), Command: command, Args: args}
	logging.DebugLog("dispatch", "%s: %s (%s)", bridge, command, req.ID)

	ack, err := d.caller.Call(ctx, bridge, req)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			err = device.Routingf("%s is not connected", bridge)
		} else {
			err = device.Failed(err)
		}
		out.Err = err
		out.Duration = time.Since(start)
		d.notify(out)
		return nil, err
	}

	out.Response = ack.Response
	out.Err = ack.Err()
	out.Duration = time.Since(start)
	d.notify(out)
	if out.Err != nil {
		return nil, out.Err
	}
	return ack.Response, nil
}

func copyArgs(args device.Args) device.Args {
	out := make(device.Args, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	return out
}
