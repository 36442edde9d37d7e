// Package device translates the uniform command vocabulary into
// protocol-specific calls for node PCs, MDC displays and PJLink projectors.
package device

import (
	"context"
	"fmt"
	"time"

	"observatory/config"
	"observatory/node"
)

// Adapter is the capability surface every protocol implements. Protocols
// that lack a capability answer with an Unsupported error and do no I/O.
//
// Call adapters through Invoke, which validates argument shapes first.
type Adapter interface {
	Protocol() config.Protocol
	Supports(c Capability) bool
	Capabilities() []Capability

	Reboot(ctx context.Context, args Args) (interface{}, error)
	Shutdown(ctx context.Context, args Args) (interface{}, error)
	Start(ctx context.Context, args Args) (interface{}, error)
	GetInfo(ctx context.Context, args Args) (interface{}, error)
	GetStatus(ctx context.Context, args Args) (interface{}, error)
	Mute(ctx context.Context, args Args) (interface{}, error)
	Unmute(ctx context.Context, args Args) (interface{}, error)
	MuteAudio(ctx context.Context, args Args) (interface{}, error)
	UnmuteAudio(ctx context.Context, args Args) (interface{}, error)
	MuteVideo(ctx context.Context, args Args) (interface{}, error)
	UnmuteVideo(ctx context.Context, args Args) (interface{}, error)
	SetVolume(ctx context.Context, args Args) (interface{}, error)
	SetSource(ctx context.Context, args Args) (interface{}, error)
	Execute(ctx context.Context, args Args) (interface{}, error)
	Screenshot(ctx context.Context, args Args) (interface{}, error)
	OpenBrowser(ctx context.Context, args Args) (interface{}, error)
	GetBrowser(ctx context.Context, args Args) (interface{}, error)
	CloseBrowser(ctx context.Context, args Args) (interface{}, error)
	GetBrowsers(ctx context.Context, args Args) (interface{}, error)
	CloseBrowsers(ctx context.Context, args Args) (interface{}, error)
}

// unsupported answers every capability with Unsupported. Adapters embed it
// and override what their protocol can do.
type unsupported struct{}

func (unsupported) Reboot(context.Context, Args) (interface{}, error)        { return nil, Unsupported() }
func (unsupported) Shutdown(context.Context, Args) (interface{}, error)      { return nil, Unsupported() }
func (unsupported) Start(context.Context, Args) (interface{}, error)         { return nil, Unsupported() }
func (unsupported) GetInfo(context.Context, Args) (interface{}, error)       { return nil, Unsupported() }
func (unsupported) GetStatus(context.Context, Args) (interface{}, error)     { return nil, Unsupported() }
func (unsupported) Mute(context.Context, Args) (interface{}, error)          { return nil, Unsupported() }
func (unsupported) Unmute(context.Context, Args) (interface{}, error)        { return nil, Unsupported() }
func (unsupported) MuteAudio(context.Context, Args) (interface{}, error)     { return nil, Unsupported() }
func (unsupported) UnmuteAudio(context.Context, Args) (interface{}, error)   { return nil, Unsupported() }
func (unsupported) MuteVideo(context.Context, Args) (interface{}, error)     { return nil, Unsupported() }
func (unsupported) UnmuteVideo(context.Context, Args) (interface{}, error)   { return nil, Unsupported() }
func (unsupported) SetVolume(context.Context, Args) (interface{}, error)     { return nil, Unsupported() }
func (unsupported) SetSource(context.Context, Args) (interface{}, error)     { return nil, Unsupported() }
func (unsupported) Execute(context.Context, Args) (interface{}, error)       { return nil, Unsupported() }
func (unsupported) Screenshot(context.Context, Args) (interface{}, error)    { return nil, Unsupported() }
func (unsupported) OpenBrowser(context.Context, Args) (interface{}, error)   { return nil, Unsupported() }
func (unsupported) GetBrowser(context.Context, Args) (interface{}, error)    { return nil, Unsupported() }
func (unsupported) CloseBrowser(context.Context, Args) (interface{}, error)  { return nil, Unsupported() }
func (unsupported) GetBrowsers(context.Context, Args) (interface{}, error)   { return nil, Unsupported() }
func (unsupported) CloseBrowsers(context.Context, Args) (interface{}, error) { return nil, Unsupported() }

// Invoke runs capability c on a. Unsupported capabilities and malformed
// arguments are rejected before the adapter is touched. Every returned
// error is a *Error.
func Invoke(ctx context.Context, a Adapter, c Capability, args Args) (interface{}, error) {
	if !a.Supports(c) {
		return nil, Unsupported()
	}
	if err := Validate(c, args); err != nil {
		return nil, err
	}
	if args == nil {
		args = Args{}
	}

	var (
		v   interface{}
		err error
	)
	switch c {
	case Reboot:
		v, err = a.Reboot(ctx, args)
	case Shutdown:
		v, err = a.Shutdown(ctx, args)
	case Start:
		v, err = a.Start(ctx, args)
	case GetInfo:
		v, err = a.GetInfo(ctx, args)
	case GetStatus:
		v, err = a.GetStatus(ctx, args)
	case Mute:
		v, err = a.Mute(ctx, args)
	case Unmute:
		v, err = a.Unmute(ctx, args)
	case MuteAudio:
		v, err = a.MuteAudio(ctx, args)
	case UnmuteAudio:
		v, err = a.UnmuteAudio(ctx, args)
	case MuteVideo:
		v, err = a.MuteVideo(ctx, args)
	case UnmuteVideo:
		v, err = a.UnmuteVideo(ctx, args)
	case SetVolume:
		v, err = a.SetVolume(ctx, args)
	case SetSource:
		v, err = a.SetSource(ctx, args)
	case Execute:
		v, err = a.Execute(ctx, args)
	case Screenshot:
		v, err = a.Screenshot(ctx, args)
	case OpenBrowser:
		v, err = a.OpenBrowser(ctx, args)
	case GetBrowser:
		v, err = a.GetBrowser(ctx, args)
	case CloseBrowser:
		v, err = a.CloseBrowser(ctx, args)
	case GetBrowsers:
		v, err = a.GetBrowsers(ctx, args)
	case CloseBrowsers:
		v, err = a.CloseBrowsers(ctx, args)
	default:
		return nil, Unsupported()
	}
	if err != nil {
		return nil, Failed(err)
	}
	return v, nil
}

// Options carry the protocol settings adapters need.
type Options struct {
	Timeouts config.TimeoutConfig
	Node     config.NodeConfig
	Waker    *node.Waker
}

// OptionsFromConfig extracts adapter options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeouts: cfg.Timeouts,
		Node:     cfg.Node,
		Waker:    node.NewWaker(cfg.WOL.Address, cfg.WOL.Port, cfg.Timeouts.WOL),
	}
}

func (o Options) withDefaults() Options {
	def := config.DefaultTimeouts()
	if o.Timeouts.MDC <= 0 {
		o.Timeouts.MDC = def.MDC
	}
	if o.Timeouts.PJLink <= 0 {
		o.Timeouts.PJLink = def.PJLink
	}
	if o.Timeouts.Node <= 0 {
		o.Timeouts.Node = def.Node
	}
	if o.Timeouts.RebootSettle <= 0 {
		o.Timeouts.RebootSettle = def.RebootSettle
	}
	if o.Waker == nil {
		o.Waker = node.NewWaker("", 0, o.Timeouts.WOL)
	}
	return o
}

// Create builds the adapter for dev's protocol.
// No connection is opened until a capability is invoked.
func Create(dev *config.Device, opts Options) (Adapter, error) {
	if dev == nil {
		return nil, fmt.Errorf("nil device")
	}
	opts = opts.withDefaults()

	switch dev.Protocol {
	case config.ProtocolMDC:
		return NewMDCAdapter(dev, opts), nil
	case config.ProtocolPJLink:
		return NewPJLinkAdapter(dev, opts), nil
	case config.ProtocolNode:
		return NewNodeAdapter(dev, opts), nil
	}
	return nil, fmt.Errorf("device %s: unknown protocol %q", dev.ID, dev.Protocol)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
