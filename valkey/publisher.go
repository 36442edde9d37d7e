// Package valkey keeps the last command results and bridge presence in
// Valkey/Redis and accepts commands from a list-based queue.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"observatory/config"
	"observatory/dispatch"
	"observatory/logging"
	"observatory/namespace"
)

func debugLog(format string, args ...interface{}) {
	logging.DebugLog("valkey", format, args...)
}

const (
	MaxCommandWorkers   = 5
	MaxCommandQueueSize = 100
)

// CommandTimeout bounds one command taken from the queue.
var CommandTimeout = 2 * time.Minute

// CommandHandler runs a command popped from the command queue.
type CommandHandler func(ctx context.Context, cmd dispatch.Command) (json.RawMessage, error)

// ResultMessage is the last result of a command stored in Valkey.
type ResultMessage struct {
	Namespace  string          `json:"namespace"`
	Bridge     string          `json:"bridge"`
	Command    string          `json:"command"`
	DeviceID   string          `json:"deviceId,omitempty"`
	Tag        string          `json:"tag,omitempty"`
	Success    bool            `json:"success"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Target is the device id, the tag, or "_all" for an untagged group call.
func (m *ResultMessage) Target() string {
	switch {
	case m.DeviceID != "":
		return m.DeviceID
	case m.Tag != "":
		return m.Tag
	}
	return "_all"
}

// StatusMessage is the presence record of a bridge.
type StatusMessage struct {
	Namespace string    `json:"namespace"`
	Bridge    string    `json:"bridge"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher handles one Valkey server.
type Publisher struct {
	config    *config.ValkeyConfig
	namespace string
	builder   *namespace.Builder
	client    *redis.Client
	running   bool
	mu        sync.RWMutex

	handler CommandHandler
	queue   chan string
	reply   func(dispatch.CommandResult)

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher creates a new Valkey publisher.
func NewPublisher(cfg *config.ValkeyConfig, ns string) *Publisher {
	p := &Publisher{
		config:    cfg,
		namespace: ns,
		builder:   namespace.New(ns, cfg.Selector),
		queue:     make(chan string, MaxCommandQueueSize),
		stopChan:  make(chan struct{}),
	}
	p.reply = p.publishResponse
	return p
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	debugLog("Attempting to connect to Valkey at %s (DB: %d, TLS: %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		debugLog("Valkey connection failed: %v", err)
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}
	debugLog("Connected to Valkey at %s", p.config.Address)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		client.Close()
		return nil
	}
	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})

	if p.config.EnableCommands {
		p.wg.Add(1)
		go p.commandListener(client, p.stopChan)
		p.startWorkers(p.stopChan)
	}
	return nil
}

func (p *Publisher) startWorkers(stop <-chan struct{}) {
	for i := 0; i < MaxCommandWorkers; i++ {
		p.wg.Add(1)
		go p.commandWorker(stop)
	}
}

func (p *Publisher) commandWorker(stop <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-stop:
			return
		case payload := <-p.queue:
			p.reply(p.runCommand(payload))
		}
	}
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	client := p.client
	p.client = nil
	p.mu.Unlock()

	// The listener's BLPOP wakes at least once a second.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1500 * time.Millisecond):
	}

	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// SetCommandHandler sets the handler for queued commands.
func (p *Publisher) SetCommandHandler(handler CommandHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// PublishResult stores msg under its result key and, when enabled,
// announces it on the bridge and all-changes channels.
func (p *Publisher) PublishResult(msg ResultMessage) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	msg.Namespace = p.namespace
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := p.builder.ValkeyResultKey(msg.Bridge, msg.Target(), msg.Command)
	if err := client.Set(ctx, key, data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	if cfg.PublishChanges {
		client.Publish(ctx, p.builder.ValkeyChangesChannel(msg.Bridge), data)
		client.Publish(ctx, p.builder.ValkeyAllChangesChannel(), data)
	}
	return nil
}

// PublishStatus stores bridge presence. Presence keys never expire.
func (p *Publisher) PublishStatus(bridge string, online bool) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	publish := p.config.PublishChanges
	p.mu.RUnlock()

	data, err := json.Marshal(StatusMessage{
		Namespace: p.namespace,
		Bridge:    bridge,
		Online:    online,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, p.builder.ValkeyStatusKey(bridge), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if publish {
		client.Publish(ctx, p.builder.ValkeyChangesChannel(bridge), data)
	}
	return nil
}

// commandListener pops commands from the command queue until stop closes.
func (p *Publisher) commandListener(client *redis.Client, stop <-chan struct{}) {
	defer p.wg.Done()

	queueKey := p.builder.ValkeyCommandQueue()

	for {
		select {
		case <-stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		result, err := client.BLPop(ctx, time.Second, queueKey).Result()
		cancel()
		if err != nil {
			if err != redis.Nil {
				debugLog("Valkey command queue error: %v", err)
				select {
				case <-stop:
					return
				case <-time.After(100 * time.Millisecond):
				}
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		p.enqueue(result[1])
	}
}

// enqueue hands a queue entry to the workers. When every slot is taken the
// command is answered with an error at once.
func (p *Publisher) enqueue(payload string) bool {
	select {
	case p.queue <- payload:
		return true
	default:
	}

	var cmd dispatch.Command
	json.Unmarshal([]byte(payload), &cmd)
	debugLog("Command queue full, rejecting %s on %s", cmd.Command, cmd.Bridge)
	p.reply(cmd.Result(nil, fmt.Errorf("command queue full, try again later")))
	return false
}

// publishResponse answers on the command response channel.
func (p *Publisher) publishResponse(res dispatch.CommandResult) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		debugLog("Response marshal error: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Publish(ctx, p.builder.ValkeyCommandResponseChannel(), data)
}

// runCommand decodes one queue entry and runs it through the handler.
func (p *Publisher) runCommand(payload string) dispatch.CommandResult {
	var cmd dispatch.Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		debugLog("Failed to parse command: %v", err)
		return cmd.Result(nil, fmt.Errorf("invalid JSON: %v", err))
	}

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	if handler == nil {
		return cmd.Result(nil, fmt.Errorf("no command handler configured"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
	defer cancel()
	res, err := handler(ctx, cmd)
	debugLog("Valkey command %s on %s -> success=%v", cmd.Command, cmd.Bridge, err == nil)
	return cmd.Result(res, err)
}
