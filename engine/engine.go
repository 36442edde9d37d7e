// Package engine wires configuration, bridge connections, command dispatch,
// the REST API and the broker publishers into the core and bridge runtimes.
package engine

import (
	"fmt"
	"time"

	"observatory/api"
	"observatory/config"
	"observatory/device"
	"observatory/dispatch"
	"observatory/gateway"
	"observatory/kafka"
	"observatory/mqtt"
	"observatory/valkey"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	LogFunc    LogFunc
}

// ackSlack is added to the per-device budget so a bridge can finish its
// own timeouts before the core gives up on the ack.
const ackSlack = 5 * time.Second

// Engine is the core runtime: it accepts bridge connections, routes
// commands to them and reports results to the brokers.
type Engine struct {
	cfg        *config.Config
	configPath string
	logFn      LogFunc

	gateway    *gateway.Server
	dispatcher *dispatch.Dispatcher
	apiServer  *api.Server
	mqttMgr    *mqtt.Manager
	valkeyMgr  *valkey.Manager
	kafkaMgr   *kafka.Manager

	Events *EventBus
	subs   []int

	stopChan chan struct{}
}

// New creates a new Engine. Call Start to bring up the services.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}
}

// Start creates the managers, wires callbacks and starts enabled services.
func (e *Engine) Start() error {
	cfg := e.cfg

	cfg.Lock()
	ns := cfg.Namespace
	timeout := cfg.Timeouts.Device + ackSlack
	mqttCfgs := append([]config.MQTTConfig(nil), cfg.MQTT...)
	valkeyCfgs := append([]config.ValkeyConfig(nil), cfg.Valkey...)
	kafkaCfgs := append([]config.KafkaConfig(nil), cfg.Kafka...)
	cfg.Unlock()

	e.gateway = gateway.NewServer(gateway.ConfigVerifier(cfg))
	e.gateway.SetLogFunc(e.logFn)
	e.gateway.SetOnConnect(func(name, remote string) {
		e.emit(EventBridgeConnected, BridgeEvent{Name: name, Remote: remote})
	})
	e.gateway.SetOnDisconnect(func(name string) {
		e.emit(EventBridgeDisconnected, BridgeEvent{Name: name})
	})

	e.dispatcher = dispatch.NewDispatcher(e.gateway, timeout)
	e.dispatcher.SetNotify(e.onOutcome)

	e.mqttMgr = mqtt.NewManager()
	e.mqttMgr.LoadFromConfig(mqttCfgs, ns)
	e.mqttMgr.SetCommandHandler(e.dispatcher.Run)

	e.valkeyMgr = valkey.NewManager()
	e.valkeyMgr.LoadFromConfig(valkeyCfgs, ns)
	e.valkeyMgr.SetCommandHandler(e.dispatcher.Run)

	e.kafkaMgr = kafka.NewManager(ns)
	e.kafkaMgr.LoadFromConfig(kafkaCfgs)

	e.setupPublishers()

	e.apiServer = api.NewServer(e, &cfg.Web)
	if cfg.Web.Enabled {
		if err := e.apiServer.Start(); err != nil {
			return fmt.Errorf("start api: %w", err)
		}
		e.logFn("REST API listening on %s", e.apiServer.Address())
		e.emit(EventAPIStarted, ServiceEvent{Name: "api", Detail: e.apiServer.Address()})
	}

	go func() {
		if started := e.mqttMgr.StartAll(); started > 0 {
			e.logFn("Started %d MQTT publisher(s)", started)
			e.emit(EventMQTTStarted, ServiceEvent{Name: "mqtt", Detail: fmt.Sprintf("%d", started)})
		}
	}()
	go func() {
		if started := e.valkeyMgr.StartAll(); started > 0 {
			e.logFn("Started %d Valkey publisher(s)", started)
			e.emit(EventValkeyStarted, ServiceEvent{Name: "valkey", Detail: fmt.Sprintf("%d", started)})
		}
	}()
	e.kafkaMgr.ConnectEnabled()

	return nil
}

// Stop shuts down all services. It is safe to call more than once.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
		return
	default:
		close(e.stopChan)
	}

	for _, id := range e.subs {
		e.Events.Unsubscribe(id)
	}
	e.subs = nil

	if e.apiServer != nil && e.apiServer.IsRunning() {
		if err := e.apiServer.Stop(); err != nil {
			e.logFn("REST API shutdown: %v", err)
		}
		e.emit(EventAPIStopped, ServiceEvent{Name: "api"})
	}
	if e.gateway != nil {
		e.gateway.Close()
	}
	if e.mqttMgr != nil {
		e.mqttMgr.StopAll()
	}
	if e.valkeyMgr != nil {
		e.valkeyMgr.StopAll()
	}
	if e.kafkaMgr != nil {
		e.kafkaMgr.StopAll()
	}
}

// GetConfig returns the application config.
func (e *Engine) GetConfig() *config.Config { return e.cfg }

// GetCommander returns the command dispatcher.
func (e *Engine) GetCommander() api.Commander { return e.dispatcher }

// GetGateway returns the bridge endpoint.
func (e *Engine) GetGateway() api.Gateway { return e.gateway }

// APIAddress returns the REST API address.
func (e *Engine) APIAddress() string {
	if e.apiServer == nil {
		return ""
	}
	return e.apiServer.Address()
}

func (e *Engine) emit(t EventType, payload interface{}) {
	e.Events.Emit(Event{Type: t, Payload: payload})
}

// onOutcome turns a finished dispatch into a command event.
func (e *Engine) onOutcome(o dispatch.Outcome) {
	ev := CommandEvent{
		Bridge:   o.Bridge,
		Command:  o.Command,
		DeviceID: o.DeviceID,
		Tag:      o.Tag,
		Response: o.Response,
		Duration: o.Duration,
	}
	if o.Err != nil {
		ev.ErrorKind = device.KindOf(o.Err).String()
		ev.Error = o.Err.Error()
		e.emit(EventCommandFailed, ev)
		return
	}
	e.emit(EventCommandDispatched, ev)
}

// setupPublishers forwards command and bridge events to the brokers.
func (e *Engine) setupPublishers() {
	e.subs = append(e.subs, e.Events.SubscribeTypes(func(ev Event) {
		c := ev.Payload.(CommandEvent)
		ts := ev.Timestamp.UTC()
		e.mqttMgr.PublishResult(mqtt.ResultMessage{
			Bridge:     c.Bridge,
			Command:    c.Command,
			DeviceID:   c.DeviceID,
			Tag:        c.Tag,
			Success:    c.Error == "",
			Response:   c.Response,
			Error:      c.Error,
			DurationMs: c.Duration.Milliseconds(),
			Timestamp:  ts.Format(time.RFC3339),
		})
		e.valkeyMgr.PublishResult(valkey.ResultMessage{
			Bridge:     c.Bridge,
			Command:    c.Command,
			DeviceID:   c.DeviceID,
			Tag:        c.Tag,
			Success:    c.Error == "",
			Response:   c.Response,
			Error:      c.Error,
			DurationMs: c.Duration.Milliseconds(),
			Timestamp:  ts,
		})
		e.kafkaMgr.PublishResult(kafka.AuditMessage{
			Bridge:     c.Bridge,
			Command:    c.Command,
			DeviceID:   c.DeviceID,
			Tag:        c.Tag,
			Success:    c.Error == "",
			Response:   c.Response,
			Error:      c.Error,
			DurationMs: c.Duration.Milliseconds(),
			Timestamp:  ts.Format(time.RFC3339Nano),
		})
	}, EventCommandDispatched, EventCommandFailed))

	e.subs = append(e.subs, e.Events.SubscribeTypes(func(ev Event) {
		b := ev.Payload.(BridgeEvent)
		online := ev.Type == EventBridgeConnected
		if online {
			e.logFn("Bridge %s connected from %s", b.Name, b.Remote)
		} else {
			e.logFn("Bridge %s disconnected", b.Name)
		}
		e.mqttMgr.PublishStatus(b.Name, online)
		e.valkeyMgr.PublishStatus(b.Name, online)
		e.kafkaMgr.PublishPresence(b.Name, online)
	}, EventBridgeConnected, EventBridgeDisconnected))
}
