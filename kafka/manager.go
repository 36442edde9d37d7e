package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"observatory/config"
	"observatory/logging"
	"observatory/namespace"
)

func logKafka(format string, args ...interface{}) {
	logging.DebugLog("kafka", format, args...)
}

// AuditMessage is the JSON record written for every finished command.
type AuditMessage struct {
	Namespace  string          `json:"namespace"`
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

// PresenceMessage is the JSON record written when a bridge comes or goes.
type PresenceMessage struct {
	Namespace string `json:"namespace"`
	Bridge    string `json:"bridge"`
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

type publishJob struct {
	producer *Producer
	topic    string
	key      []byte
	payload  []byte
	cacheKey string
	value    interface{}
}

// MaxPublishWorkers is the maximum number of concurrent publish goroutines.
const MaxPublishWorkers = 10

// MaxPublishQueueSize is the maximum number of pending publish jobs.
const MaxPublishQueueSize = 1000

// Manager manages the Kafka clusters and a bounded publish worker pool.
type Manager struct {
	producers map[string]*Producer
	builder   *namespace.Builder
	namespace string
	mu        sync.RWMutex

	// Last presence per cluster/bridge, so repeats are not re-sent.
	lastValues map[string]interface{}
	lastMu     sync.RWMutex

	publishQueue chan publishJob
	wg           sync.WaitGroup
	stopChan     chan struct{}
	started      bool
}

// NewManager creates a new Kafka manager for namespace ns.
func NewManager(ns string) *Manager {
	return &Manager{
		producers:    make(map[string]*Producer),
		builder:      namespace.New(ns, ""),
		namespace:    ns,
		lastValues:   make(map[string]interface{}),
		publishQueue: make(chan publishJob, MaxPublishQueueSize),
		stopChan:     make(chan struct{}),
	}
}

func (m *Manager) startWorkers() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	stop := m.stopChan
	queue := m.publishQueue
	m.mu.Unlock()

	for i := 0; i < MaxPublishWorkers; i++ {
		m.wg.Add(1)
		go m.publishWorker(stop, queue)
	}
}

func (m *Manager) publishWorker(stop <-chan struct{}, queue <-chan publishJob) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case job := <-queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := job.producer.ProduceWithRetry(ctx, job.topic, job.key, job.payload); err != nil {
				logKafka("Failed to publish %s: %v", job.cacheKey, err)
			} else if job.value != nil {
				m.updateLastValue(job.cacheKey, job.value)
			}
			cancel()
		}
	}
}

// AddCluster adds a cluster. An existing cluster with the same name is kept.
func (m *Manager) AddCluster(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.producers[cfg.Name]; exists {
		return
	}
	m.producers[cfg.Name] = NewProducer(cfg)
}

// LoadFromConfig adds a cluster for every configured entry.
func (m *Manager) LoadFromConfig(cfgs []config.KafkaConfig) {
	for i := range cfgs {
		m.AddCluster(FromConfig(&cfgs[i]))
	}
}

// GetProducer returns the producer for the named cluster.
func (m *Manager) GetProducer(name string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[name]
}

// Connect connects the named cluster.
func (m *Manager) Connect(name string) error {
	producer := m.GetProducer(name)
	if producer == nil {
		return fmt.Errorf("kafka cluster not found: %s", name)
	}
	return producer.Connect(m.topics(producer)...)
}

// ConnectEnabled connects every enabled cluster in the background.
func (m *Manager) ConnectEnabled() {
	m.startWorkers()

	m.mu.RLock()
	var names []string
	for name, p := range m.producers {
		if p.config.Enabled {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range names {
		go func(name string) {
			if err := m.Connect(name); err != nil {
				logKafka("Kafka %s: %v", name, err)
			}
		}(name)
	}
}

// StopAll stops the workers and disconnects every cluster.
func (m *Manager) StopAll() {
	m.mu.Lock()
	started := m.started
	oldStop := m.stopChan
	if started {
		m.stopChan = make(chan struct{})
		m.publishQueue = make(chan publishJob, MaxPublishQueueSize)
		m.started = false
	}
	producers := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		producers = append(producers, p)
	}
	m.mu.Unlock()

	if started {
		close(oldStop)
		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			logKafka("Timeout waiting for publish workers to stop")
		}
	}

	for _, p := range producers {
		p.Disconnect()
	}
	m.ClearLastValues()
}

// topics lists the topics p writes to.
func (m *Manager) topics(p *Producer) []string {
	return []string{m.auditTopic(p), m.builder.KafkaPresenceTopic()}
}

// auditTopic is the cluster's topic override or {ns}-commands.
func (m *Manager) auditTopic(p *Producer) string {
	if p.config.Topic != "" {
		return p.config.Topic
	}
	return m.builder.KafkaAuditTopic()
}

// connected returns the producers that can take messages.
func (m *Manager) connected() []*Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		if p.State() == StateReady {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) enqueue(job publishJob) {
	m.mu.RLock()
	queue := m.publishQueue
	m.mu.RUnlock()

	select {
	case queue <- job:
	default:
		logKafka("Publish queue full, dropping message for %s", job.cacheKey)
	}
}

// PublishResult queues an audit record on every connected cluster. The
// bridge name keys the message so one bridge's records stay ordered.
func (m *Manager) PublishResult(msg AuditMessage) {
	producers := m.connected()
	if len(producers) == 0 {
		return
	}
	m.startWorkers()

	msg.Namespace = m.namespace
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, p := range producers {
		m.enqueue(publishJob{
			producer: p,
			topic:    m.auditTopic(p),
			key:      []byte(msg.Bridge),
			payload:  payload,
			cacheKey: p.config.Name + "/" + msg.Bridge + "/" + msg.Command,
		})
	}
}

// PublishPresence queues a presence record on every connected cluster
// whose last record for bridge differs.
func (m *Manager) PublishPresence(bridge string, online bool) {
	producers := m.connected()
	if len(producers) == 0 {
		return
	}
	m.startWorkers()

	payload, err := json.Marshal(PresenceMessage{
		Namespace: m.namespace,
		Bridge:    bridge,
		Online:    online,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	for _, p := range producers {
		cacheKey := p.config.Name + "/" + bridge
		if !m.shouldPublish(cacheKey, online, false) {
			continue
		}
		m.enqueue(publishJob{
			producer: p,
			topic:    m.builder.KafkaPresenceTopic(),
			key:      []byte(bridge),
			payload:  payload,
			cacheKey: cacheKey,
			value:    online,
		})
	}
}

func (m *Manager) shouldPublish(cacheKey string, value interface{}, force bool) bool {
	m.lastMu.RLock()
	last, exists := m.lastValues[cacheKey]
	m.lastMu.RUnlock()
	return !exists || force || fmt.Sprintf("%v", last) != fmt.Sprintf("%v", value)
}

func (m *Manager) updateLastValue(cacheKey string, value interface{}) {
	m.lastMu.Lock()
	m.lastValues[cacheKey] = value
	m.lastMu.Unlock()
}

// ClearLastValues forgets sent presence so the next records go out again.
func (m *Manager) ClearLastValues() {
	m.lastMu.Lock()
	m.lastValues = make(map[string]interface{})
	m.lastMu.Unlock()
}
