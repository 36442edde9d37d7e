// Package config handles configuration persistence for the observatory core and bridges.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Protocol identifies which wire protocol a device speaks.
type Protocol string

const (
	ProtocolNode   Protocol = "node"
	ProtocolMDC    Protocol = "mdc"
	ProtocolPJLink Protocol = "pjlink"
)

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolNode, ProtocolMDC, ProtocolPJLink:
		return true
	}
	return false
}

// String returns the protocol name.
func (p Protocol) String() string {
	return string(p)
}

// DefaultPort returns the well-known control port for the protocol.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolMDC:
		return 1515
	case ProtocolPJLink:
		return 4352
	case ProtocolNode:
		return 3333
	}
	return 0
}

// Device is a piece of controllable hardware known to a bridge.
type Device struct {
	ID        string   `yaml:"id" json:"id"`
	IP        string   `yaml:"ip" json:"ip"`
	Port      int      `yaml:"port,omitempty" json:"port"`
	Protocol  Protocol `yaml:"protocol" json:"protocol"`
	MAC       string   `yaml:"mac,omitempty" json:"mac,omitempty"`
	Tags      []string `yaml:"tags,omitempty" json:"tags"`
	Password  string   `yaml:"password,omitempty" json:"-"`                     // PJLink password, empty if unauthenticated
	DisplayID *byte    `yaml:"display_id,omitempty" json:"displayId,omitempty"` // MDC display id, default 0x01
}

// GetPort returns the configured port or the protocol default.
func (d *Device) GetPort() int {
	if d.Port > 0 {
		return d.Port
	}
	return d.Protocol.DefaultPort()
}

// GetDisplayID returns the MDC display id, defaulting to 0x01.
func (d *Device) GetDisplayID() byte {
	if d.DisplayID == nil {
		return 0x01
	}
	return *d.DisplayID
}

// HasTag reports whether the device carries the given tag.
func (d *Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Address returns host:port for dialing the device.
func (d *Device) Address() string {
	return net.JoinHostPort(d.IP, fmt.Sprintf("%d", d.GetPort()))
}

// Config holds the complete application configuration.
type Config struct {
	Namespace string             `yaml:"namespace"`
	Bridge    BridgeConfig       `yaml:"bridge,omitempty"`
	Devices   []Device           `yaml:"devices"`
	Timeouts  TimeoutConfig      `yaml:"timeouts"`
	WOL       WOLConfig          `yaml:"wol"`
	Node      NodeConfig         `yaml:"node"`
	Bridges   []BridgeCredential `yaml:"bridges,omitempty"`
	Web       WebConfig          `yaml:"web"`
	MQTT      []MQTTConfig       `yaml:"mqtt,omitempty"`
	Valkey    []ValkeyConfig     `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig      `yaml:"kafka,omitempty"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call UnlockAndSave().
	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// BridgeConfig holds the settings a bridge uses to reach its core.
type BridgeConfig struct {
	Name              string        `yaml:"name"`
	CoreURL           string        `yaml:"core_url"` // e.g. ws://core.example:8080/hardware
	Secret            string        `yaml:"secret"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval,omitempty"`
}

// BridgeCredential is a bridge the core accepts connections from.
type BridgeCredential struct {
	Name       string `yaml:"name"`
	SecretHash string `yaml:"secret_hash"` // bcrypt
}

// TimeoutConfig holds protocol and dispatch timeouts.
type TimeoutConfig struct {
	MDC          time.Duration `yaml:"mdc"`
	PJLink       time.Duration `yaml:"pjlink"`
	Node         time.Duration `yaml:"node"`
	WOL          time.Duration `yaml:"wol"`
	Device       time.Duration `yaml:"device"`        // per-device budget inside a dispatch
	RebootSettle time.Duration `yaml:"reboot_settle"` // delay between power off and on
}

// WOLConfig holds Wake-on-LAN broadcast settings.
type WOLConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// NodeConfig holds settings for reaching node control servers.
type NodeConfig struct {
	AuthToken string `yaml:"auth_token,omitempty"`
	Scheme    string `yaml:"scheme,omitempty"`
	BasePath  string `yaml:"base_path,omitempty"`
}

// WebConfig holds the core HTTP server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`

	EnableCommands bool `yaml:"enable_commands,omitempty"` // Accept commands on bridges/+/command
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port format
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`
	Selector       string        `yaml:"selector,omitempty"`
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`         // TTL for keys (0 = no expiry)
	PublishChanges bool          `yaml:"publish_changes,omitempty"` // Publish to Pub/Sub on changes
	EnableCommands bool          `yaml:"enable_commands,omitempty"` // Pop commands from the command queue
}

// KafkaConfig holds Kafka cluster configuration for YAML persistence.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`
	Topic         string        `yaml:"topic,omitempty"` // Audit topic for command results
}

// DefaultTimeouts returns the protocol timeouts used when none are configured.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		MDC:          5 * time.Second,
		PJLink:       5 * time.Second,
		Node:         10 * time.Second,
		WOL:          3 * time.Second,
		Device:       30 * time.Second,
		RebootSettle: time.Second,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "observatory",
		Bridge: BridgeConfig{
			ReconnectInterval: 5 * time.Second,
		},
		Devices:  []Device{},
		Timeouts: DefaultTimeouts(),
		WOL: WOLConfig{
			Address: "255.255.255.255",
			Port:    9,
		},
		Node: NodeConfig{
			Scheme:   "http",
			BasePath: "/api/v1",
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		MQTT:   []MQTTConfig{},
		Valkey: []ValkeyConfig{},
		Kafka:  []KafkaConfig{},
	}
}

// DefaultPath returns the default configuration file path (~/.observatory/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".observatory", "config.yaml")
}

// Load reads configuration from a YAML file.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Zero durations in the file fall back to defaults
	def := DefaultTimeouts()
	if cfg.Timeouts.MDC <= 0 {
		cfg.Timeouts.MDC = def.MDC
	}
	if cfg.Timeouts.PJLink <= 0 {
		cfg.Timeouts.PJLink = def.PJLink
	}
	if cfg.Timeouts.Node <= 0 {
		cfg.Timeouts.Node = def.Node
	}
	if cfg.Timeouts.WOL <= 0 {
		cfg.Timeouts.WOL = def.WOL
	}
	if cfg.Timeouts.Device <= 0 {
		cfg.Timeouts.Device = def.Device
	}
	if cfg.Timeouts.RebootSettle <= 0 {
		cfg.Timeouts.RebootSettle = def.RebootSettle
	}

	return cfg, nil
}

// AddOnChangeListener registers a callback to be called when the config is saved.
// Returns an ID that can be used to remove the listener later.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}

	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies.
// The caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock() // Release lock after marshal, before I/O

	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// FindDevice returns the device with the given id, or nil if not found.
func (c *Config) FindDevice(id string) *Device {
	for i := range c.Devices {
		if c.Devices[i].ID == id {
			return &c.Devices[i]
		}
	}
	return nil
}

// AddDevice adds a new device. Ids must be unique.
func (c *Config) AddDevice(dev Device) error {
	if c.FindDevice(dev.ID) != nil {
		return fmt.Errorf("device %q already exists", dev.ID)
	}
	if err := validateDevice(&dev); err != nil {
		return err
	}
	c.Devices = append(c.Devices, dev)
	return nil
}

// RemoveDevice removes a device by id.
func (c *Config) RemoveDevice(id string) bool {
	for i, d := range c.Devices {
		if d.ID == id {
			c.Devices = append(c.Devices[:i], c.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateDevice replaces an existing device. The protocol of a device
// cannot change after creation.
func (c *Config) UpdateDevice(id string, updated Device) error {
	existing := c.FindDevice(id)
	if existing == nil {
		return fmt.Errorf("device %q not found", id)
	}
	if updated.Protocol != existing.Protocol {
		return fmt.Errorf("device %q: protocol cannot change from %s to %s", id, existing.Protocol, updated.Protocol)
	}
	if updated.ID != id && c.FindDevice(updated.ID) != nil {
		return fmt.Errorf("device %q already exists", updated.ID)
	}
	if err := validateDevice(&updated); err != nil {
		return err
	}
	*existing = updated
	return nil
}

// FindBridge returns the bridge credential with the given name, or nil if not found.
func (c *Config) FindBridge(name string) *BridgeCredential {
	for i := range c.Bridges {
		if c.Bridges[i].Name == name {
			return &c.Bridges[i]
		}
	}
	return nil
}

// SetBridge adds or replaces a bridge credential.
func (c *Config) SetBridge(cred BridgeCredential) {
	if existing := c.FindBridge(cred.Name); existing != nil {
		*existing = cred
		return
	}
	c.Bridges = append(c.Bridges, cred)
}

// RemoveBridge removes a bridge credential by name.
func (c *Config) RemoveBridge(name string) bool {
	for i, b := range c.Bridges {
		if b.Name == name {
			c.Bridges = append(c.Bridges[:i], c.Bridges[i+1:]...)
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, underscores and dots")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
		if err := validateDevice(d); err != nil {
			return err
		}
	}

	for _, b := range c.Bridges {
		if b.Name == "" {
			return fmt.Errorf("bridge credential without name")
		}
	}
	return nil
}

func validateDevice(d *Device) error {
	if d.ID == "" {
		return fmt.Errorf("device without id")
	}
	if !d.Protocol.Valid() {
		return fmt.Errorf("device %q: unknown protocol %q", d.ID, d.Protocol)
	}
	if d.IP == "" {
		return fmt.Errorf("device %q: missing ip", d.ID)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("device %q: port %d out of range", d.ID, d.Port)
	}
	if d.Protocol == ProtocolNode && d.MAC != "" {
		if _, err := net.ParseMAC(d.MAC); err != nil {
			return fmt.Errorf("device %q: invalid mac: %w", d.ID, err)
		}
	}
	return nil
}

// IsValidNamespace returns true if the namespace is valid.
// Valid namespaces contain only alphanumeric characters, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
