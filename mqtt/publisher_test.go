package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"observatory/config"
	"observatory/dispatch"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes. Other methods panic through the nil
// embedded interface.
type fakeClient struct {
	pahomqtt.Client
	mu   sync.Mutex
	msgs []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, retained, payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) wait(t *testing.T, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := append([]published(nil), c.msgs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("expected %d publishes", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func runningPublisher(selector string) (*Publisher, *fakeClient) {
	p := NewPublisher(&config.MQTTConfig{Name: "test", Broker: "localhost", Port: 1883, Selector: selector}, "ove")
	fc := &fakeClient{}
	p.client = fc
	p.running = true
	return p, fc
}

func TestPublisher_NewPublisher(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "broker", Broker: "mqtt.local", Port: 8883}, "ove")
	if p.Name() != "broker" {
		t.Errorf("Name = %s", p.Name())
	}
	if p.Address() != "mqtt.local:8883" {
		t.Errorf("Address = %s", p.Address())
	}
	if p.IsRunning() {
		t.Error("new publisher should not be running")
	}
	if p.PublishResult(ResultMessage{Bridge: "b", Command: "reboot"}) {
		t.Error("publish succeeded while stopped")
	}
}

func TestPublisher_PublishResult(t *testing.T) {
	p, fc := runningPublisher("lab")

	ok := p.PublishResult(ResultMessage{
		Bridge:   "site-a",
		Command:  "getStatus",
		DeviceID: "wall",
		Success:  true,
		Response: json.RawMessage(`"running"`),
	})
	if !ok {
		t.Fatal("PublishResult returned false")
	}
	p.PublishStatus("site-a", true)

	msgs := fc.wait(t, 2)
	if msgs[0].topic != "ove/lab/bridges/site-a/results/getStatus" || msgs[0].retained {
		t.Errorf("result publish = %+v", msgs[0])
	}
	var got ResultMessage
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.DeviceID != "wall" || string(got.Response) != `"running"` || !got.Success {
		t.Errorf("payload = %s", msgs[0].payload)
	}

	if msgs[1].topic != "ove/lab/bridges/site-a/status" || !msgs[1].retained {
		t.Errorf("status publish = %+v", msgs[1])
	}
	var status StatusMessage
	json.Unmarshal(msgs[1].payload, &status)
	if !status.Online || status.Bridge != "site-a" {
		t.Errorf("status = %s", msgs[1].payload)
	}
}

func TestPublisher_BridgeFromTopic(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "t"}, "ove")
	tests := []struct {
		topic  string
		bridge string
		ok     bool
	}{
		{"ove/bridges/site-a/command", "site-a", true},
		{"ove/bridges/site-a/command/response", "", false},
		{"ove/bridges//command", "", false},
		{"other/bridges/site-a/command", "", false},
		{"ove/bridges/a/b/command", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			bridge, ok := p.bridgeFromTopic(tt.topic)
			if bridge != tt.bridge || ok != tt.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", bridge, ok, tt.bridge, tt.ok)
			}
		})
	}
}

func TestPublisher_HandleCommand(t *testing.T) {
	p, fc := runningPublisher("")

	var mu sync.Mutex
	var seen []dispatch.Command
	p.SetCommandHandler(func(ctx context.Context, cmd dispatch.Command) (json.RawMessage, error) {
		mu.Lock()
		seen = append(seen, cmd)
		mu.Unlock()
		if cmd.Command == "mute" {
			return nil, errors.New("Connection closed")
		}
		return json.RawMessage(`true`), nil
	})
	p.startWorkers()
	defer close(p.stopChan)

	// The topic names the bridge, overriding the body.
	p.handleCommandMessage(fc, fakeMessage{
		topic:   "ove/bridges/site-a/command",
		payload: []byte(`{"id":"c1","bridge":"elsewhere","command":"reboot","deviceId":"wall"}`),
	})
	msgs := fc.wait(t, 1)

	if msgs[0].topic != "ove/bridges/site-a/command/response" {
		t.Errorf("response topic = %s", msgs[0].topic)
	}
	var res dispatch.CommandResult
	if err := json.Unmarshal(msgs[0].payload, &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ID != "c1" || res.Bridge != "site-a" || string(res.Response) != "true" {
		t.Errorf("response = %s", msgs[0].payload)
	}
	mu.Lock()
	if len(seen) != 1 || seen[0].Bridge != "site-a" || seen[0].DeviceID != "wall" {
		t.Errorf("handler saw %+v", seen)
	}
	mu.Unlock()

	p.handleCommandMessage(fc, fakeMessage{
		topic:   "ove/bridges/site-a/command",
		payload: []byte(`{"command":"mute","deviceId":"wall"}`),
	})
	msgs = fc.wait(t, 2)
	json.Unmarshal(msgs[1].payload, &res)
	if res.Success || res.Error != "Connection closed" {
		t.Errorf("failed response = %s", msgs[1].payload)
	}

	p.handleCommandMessage(fc, fakeMessage{topic: "ove/bridges/site-a/command", payload: []byte(`{bad`)})
	msgs = fc.wait(t, 3)
	json.Unmarshal(msgs[2].payload, &res)
	if res.Success || res.Error == "" {
		t.Errorf("invalid JSON response = %s", msgs[2].payload)
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	cfgs := []config.MQTTConfig{{Name: "b"}, {Name: "a"}}
	m.LoadFromConfig(cfgs, "ove")

	list := m.List()
	if len(list) != 2 || list[0].Name() != "a" || list[1].Name() != "b" {
		t.Fatalf("List = %v", list)
	}
	if started := m.StartAll(); started != 0 {
		t.Errorf("StartAll started %d disabled publishers", started)
	}

	m.SetCommandHandler(func(context.Context, dispatch.Command) (json.RawMessage, error) { return nil, nil })
	m.LoadFromConfig([]config.MQTTConfig{{Name: "c"}}, "ove")
	list = m.List()
	if len(list) != 3 {
		t.Fatalf("List = %v", list)
	}
	for _, pub := range list {
		if pub.handler == nil {
			t.Errorf("handler not set on %s", pub.Name())
		}
	}
	m.StopAll()
}
