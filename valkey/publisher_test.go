package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"observatory/config"
	"observatory/dispatch"
)

func TestResultMessage_Target(t *testing.T) {
	tests := []struct {
		name string
		msg  ResultMessage
		want string
	}{
		{"device", ResultMessage{DeviceID: "wall", Tag: "lobby"}, "wall"},
		{"tag", ResultMessage{Tag: "lobby"}, "lobby"},
		{"untagged group", ResultMessage{}, "_all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Target(); got != tt.want {
				t.Errorf("Target() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResultMessage_JSON(t *testing.T) {
	msg := ResultMessage{
		Namespace: "ove",
		Bridge:    "site-a",
		Command:   "getStatus",
		DeviceID:  "wall",
		Success:   true,
		Response:  json.RawMessage(`"running"`),
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	json.Unmarshal(data, &m)

	if m["response"] != "running" {
		t.Errorf("response = %v", m["response"])
	}
	if _, ok := m["tag"]; ok {
		t.Error("empty tag should be omitted")
	}
	if _, ok := m["error"]; ok {
		t.Error("empty error should be omitted")
	}
	if m["timestamp"] != "2024-01-15T10:30:00Z" {
		t.Errorf("timestamp = %v", m["timestamp"])
	}
}

func TestPublisher_Address(t *testing.T) {
	tests := []struct {
		cfg  config.ValkeyConfig
		want string
	}{
		{config.ValkeyConfig{Address: "localhost:6379"}, "redis://localhost:6379"},
		{config.ValkeyConfig{Address: "cache:6380", UseTLS: true}, "rediss://cache:6380"},
	}
	for _, tt := range tests {
		p := NewPublisher(&tt.cfg, "ove")
		if got := p.Address(); got != tt.want {
			t.Errorf("Address() = %s, want %s", got, tt.want)
		}
	}
}

func TestPublisher_NotRunning(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "v", Address: "localhost:6379"}, "ove")
	if p.IsRunning() {
		t.Error("new publisher should not be running")
	}
	if err := p.PublishResult(ResultMessage{Bridge: "b", Command: "reboot"}); err != nil {
		t.Errorf("PublishResult while stopped: %v", err)
	}
	if err := p.PublishStatus("b", true); err != nil {
		t.Errorf("PublishStatus while stopped: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop while stopped: %v", err)
	}
}

func TestPublisher_RunCommand(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "v"}, "ove")

	res := p.runCommand(`{"bridge":"site-a","command":"reboot","deviceId":"wall"}`)
	if res.Success || res.Error != "no command handler configured" {
		t.Errorf("without handler = %+v", res)
	}

	var got dispatch.Command
	p.SetCommandHandler(func(ctx context.Context, cmd dispatch.Command) (json.RawMessage, error) {
		got = cmd
		if cmd.Command == "mute" {
			return nil, errors.New("Timeout")
		}
		return json.RawMessage(`[{"deviceId":"wall","response":true}]`), nil
	})

	res = p.runCommand(`{"id":"q1","bridge":"site-a","command":"reboot","tag":"lobby","all":true}`)
	if !res.Success || res.ID != "q1" || res.Bridge != "site-a" {
		t.Errorf("result = %+v", res)
	}
	if !got.All || got.Tag != "lobby" {
		t.Errorf("handler got %+v", got)
	}

	res = p.runCommand(`{"bridge":"site-a","command":"mute","deviceId":"wall"}`)
	if res.Success || res.Error != "Timeout" {
		t.Errorf("failed result = %+v", res)
	}

	res = p.runCommand(`not json`)
	if res.Success || res.Error == "" {
		t.Errorf("invalid JSON result = %+v", res)
	}
}

func TestPublisher_CommandQueueFull(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "v"}, "ove")
	var replies []dispatch.CommandResult
	p.reply = func(res dispatch.CommandResult) { replies = append(replies, res) }

	// No workers are running, so the queue only fills.
	for i := 0; i < MaxCommandQueueSize; i++ {
		if !p.enqueue(`{"bridge":"site-a","command":"reboot","deviceId":"wall"}`) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	if p.enqueue(`{"id":"late","bridge":"site-a","command":"mute","deviceId":"wall"}`) {
		t.Fatal("enqueue beyond capacity accepted")
	}
	if len(replies) != 1 {
		t.Fatalf("replies = %+v", replies)
	}
	if r := replies[0]; r.Success || r.ID != "late" || r.Bridge != "site-a" || r.Error != "command queue full, try again later" {
		t.Errorf("rejection = %+v", r)
	}
}

func TestPublisher_CommandWorkers(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "v"}, "ove")
	replies := make(chan dispatch.CommandResult, 10)
	p.reply = func(res dispatch.CommandResult) { replies <- res }

	release := make(chan struct{})
	var mu sync.Mutex
	running, peak := 0, 0
	p.SetCommandHandler(func(ctx context.Context, cmd dispatch.Command) (json.RawMessage, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return json.RawMessage(`true`), nil
	})

	stop := make(chan struct{})
	p.startWorkers(stop)
	defer func() {
		close(stop)
		p.wg.Wait()
	}()

	total := MaxCommandWorkers + 3
	for i := 0; i < total; i++ {
		p.enqueue(`{"bridge":"site-a","command":"reboot","deviceId":"wall"}`)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := running
		mu.Unlock()
		if n == MaxCommandWorkers {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d workers busy", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < total; i++ {
		select {
		case res := <-replies:
			if !res.Success {
				t.Errorf("result = %+v", res)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d replies", i, total)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if peak != MaxCommandWorkers {
		t.Errorf("peak concurrency = %d, want %d", peak, MaxCommandWorkers)
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]config.ValkeyConfig{{Name: "b"}, {Name: "a"}}, "ove")

	list := m.List()
	if len(list) != 2 || list[0].Name() != "a" {
		t.Fatalf("List = %v", list)
	}
	if m.StartAll() != 0 {
		t.Error("disabled publishers started")
	}

	m.SetCommandHandler(func(context.Context, dispatch.Command) (json.RawMessage, error) { return nil, nil })
	for _, pub := range m.List() {
		if pub.handler == nil {
			t.Errorf("handler not set on %s", pub.Name())
		}
	}

	m.LoadFromConfig([]config.ValkeyConfig{{Name: "c"}}, "ove")
	list = m.List()
	if len(list) != 1 || list[0].Name() != "c" || list[0].handler == nil {
		t.Errorf("reloaded publishers = %v", list)
	}
	m.StopAll()
}
