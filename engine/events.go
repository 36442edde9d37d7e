package engine

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Bridge events
	EventBridgeConnected EventType = iota + 1
	EventBridgeDisconnected
	EventBridgeCreated
	EventBridgeDeleted

	// Command events
	EventCommandDispatched
	EventCommandFailed

	// Device events (bridge side)
	EventDeviceCreated
	EventDeviceUpdated
	EventDeviceDeleted

	// Service events
	EventAPIStarted
	EventAPIStopped
	EventMQTTStarted
	EventValkeyStarted
	EventKafkaConnected
	EventCoreConnected
)

var eventNames = map[EventType]string{
	EventBridgeConnected:    "bridge.connected",
	EventBridgeDisconnected: "bridge.disconnected",
	EventBridgeCreated:      "bridge.created",
	EventBridgeDeleted:      "bridge.deleted",
	EventCommandDispatched:  "command.dispatched",
	EventCommandFailed:      "command.failed",
	EventDeviceCreated:      "device.created",
	EventDeviceUpdated:      "device.updated",
	EventDeviceDeleted:      "device.deleted",
	EventAPIStarted:         "api.started",
	EventAPIStopped:         "api.stopped",
	EventMQTTStarted:        "mqtt.started",
	EventValkeyStarted:      "valkey.started",
	EventKafkaConnected:     "kafka.connected",
	EventCoreConnected:      "core.connected",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// BridgeEvent is the payload for bridge lifecycle events.
type BridgeEvent struct {
	Name   string
	Remote string
}

// CommandEvent is the payload for finished commands.
type CommandEvent struct {
	Bridge    string
	Command   string
	DeviceID  string
	Tag       string
	Response  json.RawMessage
	Error     string
	ErrorKind string
	Duration  time.Duration
}

// DeviceEvent is the payload for device registry mutations.
type DeviceEvent struct {
	ID string
}

// ServiceEvent is the payload for service lifecycle events.
type ServiceEvent struct {
	Name   string
	Detail string
}
