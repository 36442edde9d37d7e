// Package namespace builds topic and key names with a consistent prefix
// across the brokers (MQTT, Valkey, Kafka).
package namespace

// Builder constructs namespace-prefixed topics and keys.
type Builder struct {
	namespace string
	selector  string
}

// New creates a new namespace builder.
func New(namespace, selector string) *Builder {
	return &Builder{
		namespace: namespace,
		selector:  selector,
	}
}

// --- MQTT (delimiter: /) ---

// MQTTResultTopic returns the topic for command results: {ns}[/{sel}]/bridges/{bridge}/results/{command}
func (b *Builder) MQTTResultTopic(bridge, command string) string {
	return b.mqttBridge(bridge) + "/results/" + command
}

// MQTTStatusTopic returns the topic for bridge presence: {ns}[/{sel}]/bridges/{bridge}/status
func (b *Builder) MQTTStatusTopic(bridge string) string {
	return b.mqttBridge(bridge) + "/status"
}

// MQTTCommandTopic returns the topic for command requests: {ns}[/{sel}]/bridges/{bridge}/command
func (b *Builder) MQTTCommandTopic(bridge string) string {
	return b.mqttBridge(bridge) + "/command"
}

// MQTTCommandFilter matches the command topic of every bridge.
func (b *Builder) MQTTCommandFilter() string {
	return b.MQTTCommandTopic("+")
}

// MQTTCommandResponseTopic returns the topic for command replies: {ns}[/{sel}]/bridges/{bridge}/command/response
func (b *Builder) MQTTCommandResponseTopic(bridge string) string {
	return b.MQTTCommandTopic(bridge) + "/response"
}

// MQTTBase returns the base topic: {ns}[/{sel}]
func (b *Builder) MQTTBase() string {
	return b.mqttBase()
}

func (b *Builder) mqttBridge(bridge string) string {
	return b.mqttBase() + "/bridges/" + bridge
}

func (b *Builder) mqttBase() string {
	if b.selector != "" {
		return b.namespace + "/" + b.selector
	}
	return b.namespace
}

// --- Valkey (delimiter: :) ---

// ValkeyResultKey returns the key holding the last result of a command on
// a target (device id or tag): {ns}[:{sel}]:bridges:{bridge}:results:{target}:{command}
func (b *Builder) ValkeyResultKey(bridge, target, command string) string {
	return b.valkeyBridge(bridge) + ":results:" + target + ":" + command
}

// ValkeyStatusKey returns the key for bridge presence: {ns}[:{sel}]:bridges:{bridge}:status
func (b *Builder) ValkeyStatusKey(bridge string) string {
	return b.valkeyBridge(bridge) + ":status"
}

// ValkeyChangesChannel returns the channel for a bridge's results: {ns}[:{sel}]:bridges:{bridge}:changes
func (b *Builder) ValkeyChangesChannel(bridge string) string {
	return b.valkeyBridge(bridge) + ":changes"
}

// ValkeyAllChangesChannel returns the channel for all results: {ns}[:{sel}]:_all:changes
func (b *Builder) ValkeyAllChangesChannel() string {
	return b.valkeyBase() + ":_all:changes"
}

// ValkeyCommandQueue returns the list key commands are pushed to: {ns}[:{sel}]:commands
func (b *Builder) ValkeyCommandQueue() string {
	return b.valkeyBase() + ":commands"
}

// ValkeyCommandResponseChannel returns the channel for command replies: {ns}[:{sel}]:command:responses
func (b *Builder) ValkeyCommandResponseChannel() string {
	return b.valkeyBase() + ":command:responses"
}

func (b *Builder) valkeyBridge(bridge string) string {
	return b.valkeyBase() + ":bridges:" + bridge
}

func (b *Builder) valkeyBase() string {
	if b.selector != "" {
		return b.namespace + ":" + b.selector
	}
	return b.namespace
}

// --- Kafka (delimiter: - for topics, . for presence) ---

// KafkaAuditTopic returns the topic for command results: {ns}[-{sel}]-commands
func (b *Builder) KafkaAuditTopic() string {
	return b.kafkaBase() + "-commands"
}

// KafkaPresenceTopic returns the topic for bridge presence: {ns}[-{sel}].presence
func (b *Builder) KafkaPresenceTopic() string {
	return b.kafkaBase() + ".presence"
}

func (b *Builder) kafkaBase() string {
	if b.selector != "" {
		return b.namespace + "-" + b.selector
	}
	return b.namespace
}
