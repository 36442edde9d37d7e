// Package mqtt publishes command results and bridge presence to MQTT
// brokers and accepts commands on a per-bridge command topic.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"observatory/config"
	"observatory/dispatch"
	"observatory/logging"
	"observatory/namespace"
)

func logMQTT(format string, args ...interface{}) {
	logging.DebugLog("mqtt", format, args...)
}

// MaxCommandWorkers is the maximum number of concurrent commands per publisher.
const MaxCommandWorkers = 5

// MaxCommandQueueSize is the maximum number of pending commands per publisher.
const MaxCommandQueueSize = 100

// CommandTimeout bounds one command taken from the broker.
var CommandTimeout = 2 * time.Minute

// CommandHandler runs a command received on a command topic.
type CommandHandler func(ctx context.Context, cmd dispatch.Command) (json.RawMessage, error)

// ResultMessage is the JSON structure published for a finished command.
type ResultMessage struct {
	Bridge     string          `json:"bridge"`
	Command    string          `json:"command"`
	DeviceID   string          `json:"deviceId,omitempty"`
	Tag        string          `json:"tag,omitempty"`
	Success    bool            `json:"success"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
	Timestamp  string          `json:"timestamp"`
}

// StatusMessage is the retained presence message for a bridge.
type StatusMessage struct {
	Bridge    string `json:"bridge"`
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

type commandJob struct {
	client pahomqtt.Client
	cmd    dispatch.Command
}

// Publisher handles one MQTT broker connection.
type Publisher struct {
	config  *config.MQTTConfig
	builder *namespace.Builder
	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	handler CommandHandler

	queue    chan commandJob
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewPublisher creates a new MQTT publisher for a single broker.
func NewPublisher(cfg *config.MQTTConfig, ns string) *Publisher {
	return &Publisher{
		config:   cfg,
		builder:  namespace.New(ns, cfg.Selector),
		queue:    make(chan commandJob, MaxCommandQueueSize),
		stopChan: make(chan struct{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// Address returns the broker address.
func (p *Publisher) Address() string {
	return fmt.Sprintf("%s:%d", p.config.Broker, p.config.Port)
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// SetCommandHandler sets the handler for incoming commands.
func (p *Publisher) SetCommandHandler(handler CommandHandler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	if p.config.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	// Subscriptions do not survive a reconnect with a clean session.
	if p.config.EnableCommands {
		opts.SetOnConnectHandler(p.subscribeCommands)
	}

	client := pahomqtt.NewClient(opts)
	logMQTT("Attempting to connect to MQTT broker %s", p.Address())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logMQTT("MQTT connection timeout")
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		logMQTT("MQTT connection error: %v", token.Error())
		return token.Error()
	}
	logMQTT("Connected to MQTT broker %s", p.Address())

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	p.startWorkers()
	return nil
}

func (p *Publisher) startWorkers() {
	p.mu.RLock()
	stop := p.stopChan
	queue := p.queue
	p.mu.RUnlock()

	for i := 0; i < MaxCommandWorkers; i++ {
		p.wg.Add(1)
		go p.commandWorker(stop, queue)
	}
}

func (p *Publisher) commandWorker(stop <-chan struct{}, queue <-chan commandJob) {
	defer p.wg.Done()

	for {
		select {
		case <-stop:
			return
		case job := <-queue:
			p.mu.RLock()
			handler := p.handler
			p.mu.RUnlock()

			var res json.RawMessage
			var err error
			if handler == nil {
				err = fmt.Errorf("no command handler configured")
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
				res, err = handler(ctx, job.cmd)
				cancel()
			}
			if err != nil {
				logMQTT("Command %s on %s failed: %v", job.cmd.Command, job.cmd.Bridge, err)
			}
			p.publishCommandResponse(job.client, job.cmd.Result(res, err))
		}
	}
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil

	oldStop := p.stopChan
	p.stopChan = make(chan struct{})
	p.queue = make(chan commandJob, MaxCommandQueueSize)
	p.mu.Unlock()

	close(oldStop)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logMQTT("Timeout waiting for command workers to stop")
	}

	client.Disconnect(500)
}

// PublishResult publishes a finished command to
// {ns}[/{sel}]/bridges/{bridge}/results/{command}.
func (p *Publisher) PublishResult(msg ResultMessage) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logMQTT("Result marshal error: %v", err)
		return false
	}
	topic := p.builder.MQTTResultTopic(msg.Bridge, msg.Command)
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		logMQTT("Publish to %s failed: %v", topic, token.Error())
		return false
	}
	return true
}

// PublishStatus publishes retained bridge presence.
func (p *Publisher) PublishStatus(bridge string, online bool) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	payload, _ := json.Marshal(StatusMessage{
		Bridge:    bridge,
		Online:    online,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	topic := p.builder.MQTTStatusTopic(bridge)
	token := client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		logMQTT("Status publish to %s failed: %v", topic, token.Error())
		return false
	}
	return true
}

func (p *Publisher) subscribeCommands(client pahomqtt.Client) {
	topic := p.builder.MQTTCommandFilter()
	logMQTT("Subscribing to command topic: %s", topic)
	token := client.Subscribe(topic, 1, p.handleCommandMessage)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		logMQTT("Subscribe to %s failed: %v", topic, token.Error())
		return
	}
	logMQTT("Subscribed to: %s", topic)
}

// bridgeFromTopic extracts the bridge name from a command topic.
func (p *Publisher) bridgeFromTopic(topic string) (string, bool) {
	prefix := p.builder.MQTTBase() + "/bridges/"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, "/command") {
		return "", false
	}
	bridge := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/command")
	if bridge == "" || strings.Contains(bridge, "/") {
		return "", false
	}
	return bridge, true
}

func (p *Publisher) handleCommandMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	logMQTT("Received command on %s: %s", msg.Topic(), msg.Payload())

	bridge, ok := p.bridgeFromTopic(msg.Topic())
	if !ok {
		logMQTT("Ignoring command on unexpected topic %s", msg.Topic())
		return
	}

	var cmd dispatch.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		cmd = dispatch.Command{Bridge: bridge}
		go p.publishCommandResponse(client, cmd.Result(nil, fmt.Errorf("invalid JSON: %v", err)))
		return
	}
	cmd.Bridge = bridge

	p.mu.RLock()
	queue := p.queue
	p.mu.RUnlock()

	select {
	case queue <- commandJob{client: client, cmd: cmd}:
	default:
		logMQTT("Command queue full, rejecting %s on %s", cmd.Command, bridge)
		go p.publishCommandResponse(client, cmd.Result(nil, fmt.Errorf("command queue full, try again later")))
	}
}

func (p *Publisher) publishCommandResponse(client pahomqtt.Client, res dispatch.CommandResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		logMQTT("Response marshal error: %v", err)
		return
	}
	token := client.Publish(p.builder.MQTTCommandResponseTopic(res.Bridge), 1, false, payload)
	token.WaitTimeout(2 * time.Second)
}

// Manager manages multiple MQTT publishers.
type Manager struct {
	publishers map[string]*Publisher
	handler    CommandHandler
	mu         sync.RWMutex
}

// NewManager creates a new MQTT manager.
func NewManager() *Manager {
	return &Manager{
		publishers: make(map[string]*Publisher),
	}
}

// Add adds a publisher, replacing (and stopping) one with the same name.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	old := m.publishers[pub.Name()]
	m.publishers[pub.Name()] = pub
	if m.handler != nil {
		pub.SetCommandHandler(m.handler)
	}
	m.mu.Unlock()

	if old != nil && old != pub {
		old.Stop()
	}
}

// List returns all publishers sorted by name.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		out = append(out, pub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// LoadFromConfig creates publishers for every configured broker.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig, ns string) {
	for i := range cfgs {
		m.Add(NewPublisher(&cfgs[i], ns))
	}
}

// StartAll starts all enabled publishers and returns how many connected.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if !pub.config.Enabled {
			continue
		}
		if err := pub.Start(); err != nil {
			logMQTT("Failed to start MQTT %s: %v", pub.Name(), err)
			continue
		}
		started++
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// SetCommandHandler sets the command handler on every publisher.
func (m *Manager) SetCommandHandler(handler CommandHandler) {
	m.mu.Lock()
	m.handler = handler
	pubs := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		pubs = append(pubs, pub)
	}
	m.mu.Unlock()

	for _, pub := range pubs {
		pub.SetCommandHandler(handler)
	}
}

// PublishResult sends msg to every running publisher.
func (m *Manager) PublishResult(msg ResultMessage) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.PublishResult(msg)
		}
	}
}

// PublishStatus sends bridge presence to every running publisher.
func (m *Manager) PublishStatus(bridge string, online bool) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.PublishStatus(bridge, online)
		}
	}
}
