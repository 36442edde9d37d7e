package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"observatory/logging"
)

// State is the lifecycle of a cluster producer.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateFailed
)

var stateNames = [...]string{"idle", "connecting", "ready", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

const dialTimeout = 10 * time.Second

// Producer writes audit and presence records to one Kafka cluster. A single
// writer serves every topic; each message names its own.
type Producer struct {
	config *Config

	mu      sync.RWMutex
	state   State
	lastErr error
	writer  *kafka.Writer
}

// NewProducer creates a producer in the idle state.
func NewProducer(config *Config) *Producer {
	return &Producer{config: config}
}

// State returns the producer state.
func (p *Producer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err returns the last connect or produce error.
func (p *Producer) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

func (p *Producer) fail(err error) error {
	p.mu.Lock()
	p.state = StateFailed
	p.lastErr = err
	p.mu.Unlock()
	logging.DebugLog("kafka", "CONNECT %s: FAILED - %v", p.config.Name, err)
	return err
}

// Connect dials the first reachable broker. When the cluster does not allow
// topic auto-creation, every topic in topics must already exist.
func (p *Producer) Connect(topics ...string) error {
	p.mu.Lock()
	p.state = StateConnecting
	p.lastErr = nil
	p.mu.Unlock()

	if len(p.config.Brokers) == 0 {
		return p.fail(errors.New("no brokers configured"))
	}
	mech, err := p.saslMechanism()
	if err != nil {
		return p.fail(err)
	}
	dialer := &kafka.Dialer{
		Timeout:       dialTimeout,
		DualStack:     true,
		TLS:           p.config.GetTLSConfig(),
		SASLMechanism: mech,
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	var conn *kafka.Conn
	for _, broker := range p.config.Brokers {
		logging.DebugConnect("kafka", broker)
		if conn, err = dialer.DialContext(ctx, "tcp", broker); err == nil {
			break
		}
		logging.DebugConnectError("kafka", broker, err)
	}
	if conn == nil {
		return p.fail(fmt.Errorf("no broker reachable: %w", err))
	}
	defer conn.Close()

	if !p.config.AutoCreateTopics && len(topics) > 0 {
		if _, err := conn.ReadPartitions(topics...); err != nil {
			return p.fail(fmt.Errorf("topics %v: %w", topics, err))
		}
	}

	transport := &kafka.Transport{
		DialTimeout: dialTimeout,
		TLS:         p.config.GetTLSConfig(),
		SASL:        mech,
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.config.Brokers...),
		Balancer:               &kafka.Hash{},
		Transport:              transport,
		RequiredAcks:           kafka.RequiredAcks(p.config.RequiredAcks),
		MaxAttempts:            1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: p.config.AutoCreateTopics,
	}

	p.mu.Lock()
	old := p.writer
	p.writer = writer
	p.state = StateReady
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}

	logging.DebugLog("kafka", "CONNECT %s: ready via %s", p.config.Name, conn.RemoteAddr())
	return nil
}

// Disconnect closes the writer and returns the producer to idle.
func (p *Producer) Disconnect() {
	p.mu.Lock()
	writer := p.writer
	p.writer = nil
	p.state = StateIdle
	p.lastErr = nil
	p.mu.Unlock()

	if writer != nil {
		writer.Close()
		logging.DebugDisconnect("kafka", p.config.Name, "closed")
	}
}

// Produce writes one keyed record to topic and waits for the broker ack.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	p.mu.RLock()
	writer, state := p.writer, p.state
	p.mu.RUnlock()
	if state != StateReady || writer == nil {
		return fmt.Errorf("kafka cluster '%s' not connected", p.config.Name)
	}

	err := writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value})
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		logging.DebugLog("kafka", "PRODUCE %s: topic '%s' failed: %v", p.config.Name, topic, err)
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

// ProduceWithRetry retries Produce up to MaxRetries times with a growing
// delay of RetryBackoff per attempt.
func (p *Producer) ProduceWithRetry(ctx context.Context, topic string, key, value []byte) error {
	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.RetryBackoff * time.Duration(attempt)):
			}
		}
		if err = p.Produce(ctx, topic, key, value); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%d attempts: %w", p.config.MaxRetries+1, err)
}

// saslMechanism returns nil when no username is configured.
func (p *Producer) saslMechanism() (sasl.Mechanism, error) {
	c := p.config
	if c.Username == "" {
		return nil, nil
	}
	switch c.SASLMechanism {
	case SASLPlain, SASLNone:
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case SASLSCRAMSHA256:
		return scram.Mechanism(scram.SHA256, c.Username, c.Password)
	case SASLSCRAMSHA512:
		return scram.Mechanism(scram.SHA512, c.Username, c.Password)
	}
	return nil, fmt.Errorf("unsupported SASL mechanism %q", c.SASLMechanism)
}
