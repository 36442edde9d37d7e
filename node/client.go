// Package node calls the control server that runs on each observatory PC.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"observatory/logging"
)

// DefaultTimeout bounds a single call to a node.
const DefaultTimeout = 10 * time.Second

// Route describes how one capability maps onto the node's HTTP API.
type Route struct {
	Method string
	Path   string // may contain {param} placeholders filled from args
}

// Routes is the node control server's API surface, keyed by capability name.
var Routes = map[string]Route{
	"getStatus":     {http.MethodGet, "/status"},
	"getInfo":       {http.MethodGet, "/info"},
	"getBrowser":    {http.MethodGet, "/browser/{browserId}"},
	"getBrowsers":   {http.MethodGet, "/browsers"},
	"reboot":        {http.MethodPost, "/reboot"},
	"shutdown":      {http.MethodPost, "/shutdown"},
	"execute":       {http.MethodPost, "/execute"},
	"screenshot":    {http.MethodPost, "/screenshot"},
	"openBrowser":   {http.MethodPost, "/browser"},
	"closeBrowser":  {http.MethodDelete, "/browser/{browserId}"},
	"closeBrowsers": {http.MethodDelete, "/browsers"},
}

// RemoteError is an error the node reported in an {"oveError": ...} body.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// ErrUnknownRoute is returned by Call for capabilities the node does not expose.
var ErrUnknownRoute = errors.New("node: unknown route")

// Client talks to one node's control server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for baseURL (e.g. http://10.0.0.9:3333/api/v1).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the node's API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Call invokes the named capability with args and returns the raw JSON result.
// Path placeholders are taken out of args; the rest travel as query
// parameters (GET/DELETE) or as a JSON body (POST).
func (c *Client) Call(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	route, ok := Routes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, name)
	}

	rest := make(map[string]interface{}, len(args))
	for k, v := range args {
		rest[k] = v
	}
	path := route.Path
	for k, v := range args {
		ph := "{" + k + "}"
		if strings.Contains(path, ph) {
			path = strings.ReplaceAll(path, ph, url.PathEscape(fmt.Sprint(v)))
			delete(rest, k)
		}
	}
	if strings.Contains(path, "{") {
		return nil, fmt.Errorf("node: missing path parameter in %s", route.Path)
	}

	target := c.baseURL + path
	var body io.Reader
	if route.Method == http.MethodPost {
		data, err := json.Marshal(rest)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	} else if len(rest) > 0 {
		q := url.Values{}
		for k, v := range rest {
			q.Set(k, fmt.Sprint(v))
		}
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	logging.DebugLog("node", "%s %s", route.Method, target)
	resp, err := c.http.Do(req)
	if err != nil {
		logging.DebugError("node", name, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}

	var remote struct {
		OVEError *string `json:"oveError"`
	}
	if json.Unmarshal(data, &remote) == nil && remote.OVEError != nil {
		return nil, &RemoteError{Message: *remote.OVEError}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("node returned %d: %s", resp.StatusCode, msg)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}
