package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"observatory/config"
	"observatory/device"
	"observatory/dispatch"
	"observatory/gateway"
)

type handlerFunc func(ctx context.Context, command string, args device.Args) (interface{}, error)

func (f handlerFunc) Execute(ctx context.Context, command string, args device.Args) (interface{}, error) {
	return f(ctx, command, args)
}

func startCore(t *testing.T) (*gateway.Server, string) {
	t.Helper()
	gw := gateway.NewServer(gateway.VerifierFunc(func(name, secret string) bool {
		return name == "site-1" && secret == "pw"
	}))
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})
	return gw, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitConnected(t *testing.T, gw *gateway.Server, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !gw.Connected(name) {
		if time.Now().After(deadline) {
			t.Fatalf("bridge %s never connected", name)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_AnswersRequests(t *testing.T) {
	gw, url := startCore(t)

	h := handlerFunc(func(ctx context.Context, command string, args device.Args) (interface{}, error) {
		switch command {
		case "getStatus":
			return "running", nil
		case "reboot":
			id, _ := args.String("deviceId")
			return nil, device.Routingf("No device found with id: %s", id)
		}
		return nil, device.Routingf("Unknown command: %s", command)
	})
	c := NewClient(config.BridgeConfig{Name: "site-1", CoreURL: url, Secret: "pw", ReconnectInterval: 20 * time.Millisecond}, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitConnected(t, gw, "site-1")
	if !c.Connected() {
		t.Error("client does not report connected")
	}

	d := dispatch.NewDispatcher(gw, time.Second)
	res, err := d.Dispatch(context.Background(), "site-1", "getStatus", "wall", nil)
	if err != nil {
		t.Fatalf("getStatus: %v", err)
	}
	var status string
	json.Unmarshal(res, &status)
	if status != "running" {
		t.Errorf("status = %s", res)
	}

	_, err = d.Dispatch(context.Background(), "site-1", "reboot", "ghost", nil)
	if err == nil || err.Error() != "No device found with id: ghost" {
		t.Errorf("reboot err = %v", err)
	}
	if device.KindOf(err) != device.KindRouting {
		t.Errorf("kind = %v", device.KindOf(err))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClient_Reconnects(t *testing.T) {
	gw, url := startCore(t)
	h := handlerFunc(func(context.Context, string, device.Args) (interface{}, error) { return true, nil })
	c := NewClient(config.BridgeConfig{Name: "site-1", CoreURL: url, Secret: "pw", ReconnectInterval: 20 * time.Millisecond}, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitConnected(t, gw, "site-1")

	// A second connection under the same name displaces the first; the
	// displaced client must come back on its own.
	other := NewClient(config.BridgeConfig{Name: "site-1", CoreURL: url, Secret: "pw", ReconnectInterval: time.Hour}, h)
	octx, ocancel := context.WithCancel(context.Background())
	go other.Run(octx)
	deadline := time.Now().Add(2 * time.Second)
	for !other.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ocancel()

	deadline = time.Now().Add(2 * time.Second)
	for !c.Connected() || !gw.Connected("site-1") {
		if time.Now().After(deadline) {
			t.Fatal("client did not reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClient_BadSecret(t *testing.T) {
	gw, url := startCore(t)
	h := handlerFunc(func(context.Context, string, device.Args) (interface{}, error) { return true, nil })
	c := NewClient(config.BridgeConfig{Name: "site-1", CoreURL: url, Secret: "wrong", ReconnectInterval: 10 * time.Millisecond}, h)

	var logged []string
	c.SetLogFunc(func(format string, args ...interface{}) { logged = append(logged, format) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	if gw.Connected("site-1") || c.Connected() {
		t.Error("connected with bad secret")
	}
	found := false
	for _, l := range logged {
		if strings.Contains(l, "rejected") {
			found = true
		}
	}
	if !found {
		t.Errorf("no rejection logged: %v", logged)
	}
}
