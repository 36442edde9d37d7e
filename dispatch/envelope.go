// Package dispatch routes commands from the core to a bridge and, on the
// bridge, from a command to the devices it names.
package dispatch

import (
	"encoding/json"
	"errors"
	"strings"

	"observatory/device"
)

// Read services answered by a bridge alongside the device capabilities.
const (
	CmdGetDevice  = "getDevice"
	CmdGetDevices = "getDevices"
)

// AllSuffix turns a capability name into its group form, e.g. rebootAll.
const AllSuffix = "All"

// Request is one command sent from the core to a bridge.
type Request struct {
	ID      string      `json:"id"`
	Command string      `json:"command"`
	Args    device.Args `json:"args,omitempty"`
}

// Meta identifies the bridge that produced an ack.
type Meta struct {
	Bridge string `json:"bridge"`
}

// Ack is the bridge's answer to a Request. A failed call carries
// {"oveError": "..."} as its response and names the error kind.
type Ack struct {
	ID        string          `json:"id"`
	Meta      Meta            `json:"meta"`
	Response  json.RawMessage `json:"response"`
	ErrorKind string          `json:"errorKind,omitempty"`
}

// Slot is one device's entry in a group result.
type Slot struct {
	DeviceID string      `json:"deviceId"`
	Response interface{} `json:"response"`
}

// NewAck builds the ack for req from a result or error.
func NewAck(bridge, id string, result interface{}, err error) (*Ack, error) {
	ack := &Ack{ID: id, Meta: Meta{Bridge: bridge}}
	if err != nil {
		de := device.Failed(err)
		ack.ErrorKind = de.Kind.String()
		result = de
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		return nil, merr
	}
	ack.Response = data
	return ack, nil
}

// Err returns the error carried by the ack, or nil for a successful call.
func (a *Ack) Err() error {
	if a.ErrorKind == "" {
		var body struct {
			OVEError *string `json:"oveError"`
		}
		if json.Unmarshal(a.Response, &body) != nil || body.OVEError == nil {
			return nil
		}
		return &device.Error{Kind: device.KindDevice, Message: *body.OVEError}
	}
	var body struct {
		OVEError string `json:"oveError"`
	}
	if err := json.Unmarshal(a.Response, &body); err != nil {
		return &device.Error{Kind: device.ParseKind(a.ErrorKind), Message: string(a.Response)}
	}
	return &device.Error{Kind: device.ParseKind(a.ErrorKind), Message: body.OVEError}
}

// SplitCommand reports the capability a command names and whether it is a
// group command.
func SplitCommand(command string) (device.Capability, bool, error) {
	group := false
	name := command
	if strings.HasSuffix(command, AllSuffix) {
		group = true
		name = strings.TrimSuffix(command, AllSuffix)
	}
	c, ok := device.ParseCapability(name)
	if !ok {
		return "", false, ErrUnknownCommand
	}
	return c, group, nil
}

// ErrUnknownCommand is returned for commands outside the vocabulary.
var ErrUnknownCommand = errors.New("unknown command")
