package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"observatory/config"
	"observatory/logging"
	"observatory/node"
)

type nodeCaller interface {
	Call(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

type waker interface {
	Wake(ctx context.Context, mac string) (bool, error)
}

var nodeCaps = newCapSet(Reboot, Shutdown, Start, GetInfo, GetStatus, Execute, Screenshot,
	OpenBrowser, GetBrowser, CloseBrowser, GetBrowsers, CloseBrowsers)

// NodeAdapter forwards capabilities to the control server running on a PC.
// Start is sent as a Wake-on-LAN packet since a powered-off PC has no server.
type NodeAdapter struct {
	unsupported
	dev   *config.Device
	rpc   nodeCaller
	waker waker
}

// NewNodeAdapter creates an adapter for a node PC.
func NewNodeAdapter(dev *config.Device, opts Options) *NodeAdapter {
	return &NodeAdapter{
		dev:   dev,
		rpc:   node.NewClient(nodeBaseURL(dev, opts.Node), opts.Node.AuthToken, opts.Timeouts.Node),
		waker: opts.Waker,
	}
}

func nodeBaseURL(dev *config.Device, nc config.NodeConfig) string {
	scheme := nc.Scheme
	if scheme == "" {
		scheme = "http"
	}
	base := nc.BasePath
	if base == "" {
		base = "/api/v1"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	host := dev.IP
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, host, strconv.Itoa(dev.GetPort()), base)
}

func (a *NodeAdapter) Protocol() config.Protocol  { return config.ProtocolNode }
func (a *NodeAdapter) Supports(c Capability) bool { return nodeCaps[c] }
func (a *NodeAdapter) Capabilities() []Capability { return nodeCaps.list() }

func (a *NodeAdapter) call(ctx context.Context, c Capability, args Args) (interface{}, error) {
	res, err := a.rpc.Call(ctx, string(c), args)
	if err != nil {
		return nil, Failed(err)
	}
	return res, nil
}

func (a *NodeAdapter) Reboot(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, Reboot, args)
}

func (a *NodeAdapter) Shutdown(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, Shutdown, args)
}

// Start wakes the PC with a magic packet to its MAC address.
func (a *NodeAdapter) Start(ctx context.Context, _ Args) (interface{}, error) {
	if a.dev.MAC == "" {
		return nil, Failedf("No MAC address configured for %s", a.dev.ID)
	}
	ok, err := a.waker.Wake(ctx, a.dev.MAC)
	if err != nil {
		return nil, Failed(err)
	}
	return ok, nil
}

func (a *NodeAdapter) GetInfo(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, GetInfo, args)
}

// GetStatus returns the node's own status, or "off" when it cannot be reached.
func (a *NodeAdapter) GetStatus(ctx context.Context, args Args) (interface{}, error) {
	res, err := a.rpc.Call(ctx, string(GetStatus), args)
	if err != nil {
		logging.DebugLog("node", "%s: status unreachable, reporting off: %v", a.dev.ID, err)
		return "off", nil
	}
	return res, nil
}

func (a *NodeAdapter) Execute(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, Execute, args)
}

func (a *NodeAdapter) Screenshot(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, Screenshot, args)
}

func (a *NodeAdapter) OpenBrowser(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, OpenBrowser, args)
}

func (a *NodeAdapter) GetBrowser(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, GetBrowser, args)
}

func (a *NodeAdapter) CloseBrowser(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, CloseBrowser, args)
}

func (a *NodeAdapter) GetBrowsers(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, GetBrowsers, args)
}

func (a *NodeAdapter) CloseBrowsers(ctx context.Context, args Args) (interface{}, error) {
	return a.call(ctx, CloseBrowsers, args)
}
