package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"observatory/config"
	"observatory/device"
)

type call struct {
	kind, bridge, command, target string
	args                          device.Args
}

type fakeCommander struct {
	calls []call
	res   json.RawMessage
	err   error
}

func (f *fakeCommander) record(c call) (json.RawMessage, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeCommander) Dispatch(_ context.Context, bridge, command, deviceID string, args device.Args) (json.RawMessage, error) {
	return f.record(call{"one", bridge, command, deviceID, args})
}

func (f *fakeCommander) DispatchAll(_ context.Context, bridge, command, tag string, args device.Args) (json.RawMessage, error) {
	return f.record(call{"all", bridge, command, tag, args})
}

func (f *fakeCommander) GetDevice(_ context.Context, bridge, deviceID string) (json.RawMessage, error) {
	return f.record(call{"device", bridge, "", deviceID, nil})
}

func (f *fakeCommander) GetDevices(_ context.Context, bridge, tag string) (json.RawMessage, error) {
	return f.record(call{"devices", bridge, "", tag, nil})
}

type fakeGateway struct {
	online []string
	hits   int
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits++
	w.WriteHeader(http.StatusTeapot)
}

func (f *fakeGateway) Connected(b string) bool {
	for _, n := range f.online {
		if n == b {
			return true
		}
	}
	return false
}

func (f *fakeGateway) Bridges() []string { return f.online }

type testManagers struct {
	cfg *config.Config
	cmd *fakeCommander
	gw  *fakeGateway
}

func (m *testManagers) GetConfig() *config.Config { return m.cfg }
func (m *testManagers) GetCommander() Commander   { return m.cmd }
func (m *testManagers) GetGateway() Gateway       { return m.gw }

func newTestManagers() *testManagers {
	cfg := config.DefaultConfig()
	cfg.Bridges = []config.BridgeCredential{{Name: "site-b"}, {Name: "site-a"}}
	return &testManagers{
		cfg: cfg,
		cmd: &fakeCommander{res: json.RawMessage(`true`)},
		gw:  &fakeGateway{online: []string{"site-a", "adhoc"}},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_ListBridges(t *testing.T) {
	m := newTestManagers()
	rec := do(t, NewRouter(m), http.MethodGet, "/bridges", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []BridgeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := []BridgeResponse{
		{Name: "adhoc", Online: true},
		{Name: "site-a", Online: true, Configured: true},
		{Name: "site-b", Configured: true},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bridge %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRouter_Command(t *testing.T) {
	m := newTestManagers()
	rec := do(t, NewRouter(m), http.MethodPost, "/bridges/site-a/devices/wall/setVolume", `{"volume": 30}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "true" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
	c := m.cmd.calls[0]
	if c.kind != "one" || c.bridge != "site-a" || c.command != "setVolume" || c.target != "wall" {
		t.Errorf("call = %+v", c)
	}
	if v, _ := c.args.Int("volume"); v != 30 {
		t.Errorf("args = %v", c.args)
	}
}

func TestRouter_CommandAll(t *testing.T) {
	m := newTestManagers()
	m.cmd.res = json.RawMessage(`[{"deviceId":"a","response":true}]`)
	rec := do(t, NewRouter(m), http.MethodPost, "/bridges/site-a/all/reboot?tag=lobby", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	c := m.cmd.calls[0]
	if c.kind != "all" || c.command != "reboot" || c.target != "lobby" || len(c.args) != 0 {
		t.Errorf("call = %+v", c)
	}
}

func TestRouter_Devices(t *testing.T) {
	m := newTestManagers()
	r := NewRouter(m)

	do(t, r, http.MethodGet, "/bridges/site-a/devices?tag=wall", "")
	do(t, r, http.MethodGet, "/bridges/site-a/devices/proj", "")
	if len(m.cmd.calls) != 2 {
		t.Fatalf("calls = %+v", m.cmd.calls)
	}
	if m.cmd.calls[0].kind != "devices" || m.cmd.calls[0].target != "wall" {
		t.Errorf("list call = %+v", m.cmd.calls[0])
	}
	if m.cmd.calls[1].kind != "device" || m.cmd.calls[1].target != "proj" {
		t.Errorf("get call = %+v", m.cmd.calls[1])
	}
}

func TestRouter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		msg    string
	}{
		{"routing", device.Routingf("site-z is not connected"), "", http.StatusNotFound, "site-z is not connected"},
		{"validation", device.Validationf("Missing argument: volume"), "", http.StatusBadRequest, "Missing argument: volume"},
		{"unsupported", device.Unsupported(), "", http.StatusBadRequest, device.MsgUnsupported},
		{"device", device.Failedf("Connection closed"), "", http.StatusBadGateway, "Connection closed"},
		{"bad body", nil, "{nope", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManagers()
			m.cmd.err = tt.err
			rec := do(t, NewRouter(m), http.MethodPost, "/bridges/site-z/devices/x/reboot", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body %s: %v", rec.Body, err)
			}
			if _, ok := body["oveError"]; !ok {
				t.Errorf("body = %v", body)
			}
			if tt.msg != "" && body["oveError"] != tt.msg {
				t.Errorf("oveError = %q, want %q", body["oveError"], tt.msg)
			}
		})
	}
}

func TestRouter_HardwareEndpoint(t *testing.T) {
	m := newTestManagers()
	rec := do(t, NewRouter(m), http.MethodGet, "/hardware", "")
	if rec.Code != http.StatusTeapot || m.gw.hits != 1 {
		t.Errorf("status %d, hits %d", rec.Code, m.gw.hits)
	}
}

func TestServer_StartAndStop(t *testing.T) {
	m := newTestManagers()
	server := NewServer(m, &config.WebConfig{Host: "127.0.0.1", Port: 0})

	if server.IsRunning() {
		t.Error("server should not be running initially")
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !server.IsRunning() {
		t.Error("server should be running after Start")
	}

	resp, err := http.Get(server.Address() + "/bridges")
	if err != nil {
		t.Fatalf("GET /bridges: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	if err := server.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if server.IsRunning() {
		t.Error("server should not be running after Stop")
	}
}

func TestServer_Address(t *testing.T) {
	server := NewServer(newTestManagers(), &config.WebConfig{Host: "localhost", Port: 9999})
	if addr := server.Address(); addr != "http://localhost:9999" {
		t.Errorf("expected 'http://localhost:9999', got %s", addr)
	}
}
