package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"observatory/device"
)

// Command is an operator command arriving through a message broker rather
// than the REST API. Bridge may be left empty when the transport names it.
type Command struct {
	ID       string      `json:"id,omitempty"`
	Bridge   string      `json:"bridge,omitempty"`
	Command  string      `json:"command"`
	DeviceID string      `json:"deviceId,omitempty"`
	Tag      string      `json:"tag,omitempty"`
	All      bool        `json:"all,omitempty"`
	Args     device.Args `json:"args,omitempty"`
}

// CommandResult answers a Command on the broker it came from.
type CommandResult struct {
	ID        string          `json:"id,omitempty"`
	Bridge    string          `json:"bridge"`
	Command   string          `json:"command"`
	Success   bool            `json:"success"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Run executes cmd. All selects the tag-group form; otherwise DeviceID is
// required.
func (d *Dispatcher) Run(ctx context.Context, cmd Command) (json.RawMessage, error) {
	if cmd.Bridge == "" {
		return nil, device.Validationf("Missing bridge")
	}
	switch {
	case cmd.Command == CmdGetDevices:
		return d.GetDevices(ctx, cmd.Bridge, cmd.Tag)
	case cmd.Command == CmdGetDevice:
		return d.GetDevice(ctx, cmd.Bridge, cmd.DeviceID)
	case cmd.All:
		return d.DispatchAll(ctx, cmd.Bridge, cmd.Command, cmd.Tag, cmd.Args)
	case cmd.DeviceID == "":
		return nil, device.Validationf("Missing argument: deviceId")
	}
	return d.Dispatch(ctx, cmd.Bridge, cmd.Command, cmd.DeviceID, cmd.Args)
}

// Result builds the broker reply for cmd.
func (cmd Command) Result(res json.RawMessage, err error) CommandResult {
	out := CommandResult{
		ID:        cmd.ID,
		Bridge:    cmd.Bridge,
		Command:   cmd.Command,
		Success:   err == nil,
		Response:  res,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
