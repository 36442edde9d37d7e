package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"observatory/config"
	"observatory/dispatch"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func basicHeader(name, secret string) http.Header {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth(name, secret)
	return r.Header
}

func allow(name, secret string) bool { return secret == "pw" }

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// echoBridge answers every request with its command name, in reverse
// order of arrival once n requests are pending.
func echoBridge(t *testing.T, conn *websocket.Conn, n int) {
	var reqs []dispatch.Request
	for len(reqs) < n {
		var req dispatch.Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		reqs = append(reqs, req)
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		ack, _ := dispatch.NewAck("site", reqs[i].ID, reqs[i].Command, nil)
		if err := conn.WriteJSON(ack); err != nil {
			t.Errorf("write ack: %v", err)
			return
		}
	}
}

func TestServer_RejectsBadCredentials(t *testing.T) {
	gw := NewServer(VerifierFunc(allow))
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), basicHeader("site", "nope"))
	if err == nil {
		t.Fatal("expected dial error")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credentials: err=%v resp=%v", err, resp)
	}
	if len(gw.Bridges()) != 0 {
		t.Errorf("bridges = %v", gw.Bridges())
	}
}

func TestServer_CorrelatesConcurrentCalls(t *testing.T) {
	gw := NewServer(VerifierFunc(allow))
	var connected []string
	var mu sync.Mutex
	gw.SetOnConnect(func(name, _ string) {
		mu.Lock()
		connected = append(connected, name)
		mu.Unlock()
	})
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), basicHeader("site", "pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return gw.Connected("site") })

	const n = 5
	go echoBridge(t, conn, n)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := []string{"reboot", "mute", "unmute", "getInfo", "start"}[i]
			req := &dispatch.Request{ID: cmd + "-id", Command: cmd}
			ack, err := gw.Call(context.Background(), "site", req)
			if err != nil {
				errs <- err
				return
			}
			var got string
			json.Unmarshal(ack.Response, &got)
			if got != cmd || ack.ID != req.ID || ack.Meta.Bridge != "site" {
				errs <- errors.New("mismatched ack for " + cmd + ": " + string(ack.Response))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(connected) != 1 || connected[0] != "site" {
		t.Errorf("connected = %v", connected)
	}
}

func TestServer_NotConnected(t *testing.T) {
	gw := NewServer(VerifierFunc(allow))
	defer gw.Close()

	_, err := gw.Call(context.Background(), "ghost", &dispatch.Request{ID: "1", Command: "reboot"})
	if !errors.Is(err, dispatch.ErrNotConnected) {
		t.Errorf("err = %v", err)
	}
}

func TestServer_DisconnectFailsPending(t *testing.T) {
	gw := NewServer(VerifierFunc(allow))
	gone := make(chan string, 1)
	gw.SetOnDisconnect(func(name string) { gone <- name })
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), basicHeader("site", "pw"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return gw.Connected("site") })

	go func() {
		var req dispatch.Request
		conn.ReadJSON(&req)
		conn.Close()
	}()

	_, err = gw.Call(context.Background(), "site", &dispatch.Request{ID: "x", Command: "reboot"})
	if !errors.Is(err, ErrSessionClosed) || !errors.Is(err, dispatch.ErrNotConnected) {
		t.Errorf("err = %v", err)
	}
	select {
	case name := <-gone:
		if name != "site" {
			t.Errorf("disconnected %s", name)
		}
	case <-time.After(time.Second):
		t.Error("no disconnect callback")
	}
	if gw.Connected("site") {
		t.Error("session still registered")
	}
}

func TestServer_CallTimeout(t *testing.T) {
	gw := NewServer(VerifierFunc(allow))
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), basicHeader("site", "pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return gw.Connected("site") })
	go func() {
		for {
			var req dispatch.Request
			if conn.ReadJSON(&req) != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = gw.Call(ctx, "site", &dispatch.Request{ID: "slow", Command: "reboot"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestServer_ReplacesSession(t *testing.T) {
	gw := NewServer(VerifierFunc(allow))
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv), basicHeader("site", "pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	waitFor(t, func() bool { return gw.Connected("site") })

	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv), basicHeader("site", "pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	first.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("first session still open")
	}

	go echoBridge(t, second, 1)
	ack, err := gw.Call(context.Background(), "site", &dispatch.Request{ID: "r", Command: "mute"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(ack.Response) != `"mute"` {
		t.Errorf("response = %s", ack.Response)
	}
	if b := gw.Bridges(); len(b) != 1 || b[0] != "site" {
		t.Errorf("bridges = %v", b)
	}
}

func TestConfigVerifier(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.SetBridge(config.BridgeCredential{Name: "site", SecretHash: hash})
	v := ConfigVerifier(cfg)

	if !v.Verify("site", "s3cret") {
		t.Error("valid secret rejected")
	}
	if v.Verify("site", "wrong") {
		t.Error("wrong secret accepted")
	}
	if v.Verify("other", "s3cret") {
		t.Error("unknown bridge accepted")
	}
}
