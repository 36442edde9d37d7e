// Package bridge keeps a site's connection to the core open and answers the
// commands the core sends over it.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"observatory/config"
	"observatory/device"
	"observatory/dispatch"
	"observatory/logging"
)

const (
	writeWait        = 10 * time.Second
	defaultReconnect = 5 * time.Second
)

// Handler executes one command. *dispatch.Executor satisfies it.
type Handler interface {
	Execute(ctx context.Context, command string, args device.Args) (interface{}, error)
}

// Client dials the core and serves requests until its context ends,
// reconnecting after every disconnect.
type Client struct {
	url       string
	name      string
	secret    string
	reconnect time.Duration
	handler   Handler
	dialer    *websocket.Dialer

	connected atomic.Bool
	inflight  sync.WaitGroup
	logFn     func(string, ...interface{})
}

// NewClient creates a client from the bridge section of the config.
func NewClient(cfg config.BridgeConfig, h Handler) *Client {
	reconnect := cfg.ReconnectInterval
	if reconnect <= 0 {
		reconnect = defaultReconnect
	}
	return &Client{
		url:       cfg.CoreURL,
		name:      cfg.Name,
		secret:    cfg.Secret,
		reconnect: reconnect,
		handler:   h,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logFn:     func(string, ...interface{}) {},
	}
}

// SetLogFunc sets the operator log callback.
func (c *Client) SetLogFunc(fn func(string, ...interface{})) {
	c.logFn = fn
}

// Connected reports whether a session with the core is live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and serves until ctx is cancelled. Requests still running
// when the connection drops are allowed to finish; their acks are discarded.
func (c *Client) Run(ctx context.Context) error {
	defer c.inflight.Wait()
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errUnauthorized) {
			c.logFn("Core rejected bridge %s credentials", c.name)
		} else if err != nil {
			c.logFn("Core connection lost: %v (retrying in %s)", err, c.reconnect)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnect):
		}
	}
}

var errUnauthorized = errors.New("unauthorized")

func (c *Client) header() http.Header {
	h := http.Header{}
	token := base64.StdEncoding.EncodeToString([]byte(c.name + ":" + c.secret))
	h.Set("Authorization", "Basic "+token)
	return h
}

// session runs one connection to completion.
func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errUnauthorized
		}
		logging.DebugConnectError("bridge", c.url, err)
		return err
	}
	logging.DebugConnect("bridge", c.url)
	c.logFn("Connected to core at %s as %s", c.url, c.name)
	c.connected.Store(true)
	defer c.connected.Store(false)

	var writeMu sync.Mutex
	send := func(ack *dispatch.Ack) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ack)
	}

	stop := context.AfterFunc(ctx, func() {
		writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		writeMu.Unlock()
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	conn.SetPingHandler(func(data string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var req dispatch.Request
		if err := conn.ReadJSON(&req); err != nil {
			logging.DebugDisconnect("bridge", c.url, err.Error())
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		c.inflight.Add(1)
		go func(req dispatch.Request) {
			defer c.inflight.Done()
			c.handle(ctx, &req, send)
		}(req)
	}
}

func (c *Client) handle(ctx context.Context, req *dispatch.Request, send func(*dispatch.Ack) error) {
	logging.DebugLog("bridge", "-> %s %s", req.Command, req.ID)
	result, err := c.handler.Execute(ctx, req.Command, req.Args)
	ack, merr := dispatch.NewAck(c.name, req.ID, result, err)
	if merr != nil {
		ack, _ = dispatch.NewAck(c.name, req.ID, nil, device.Failedf("Unable to encode response: %v", merr))
	}
	if err := send(ack); err != nil {
		logging.DebugError("bridge", "ack "+req.ID, err)
	}
}
