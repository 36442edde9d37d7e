package device

import (
	"context"
	"time"

	"observatory/config"
	"observatory/logging"
	"observatory/mdc"
)

// mdcController is the slice of mdc.Client the adapter drives.
type mdcController interface {
	Status(ctx context.Context) (*mdc.Status, error)
	Model(ctx context.Context) (*mdc.Model, error)
	SetPower(ctx context.Context, state byte) (bool, error)
	SetVolume(ctx context.Context, volume int) (bool, error)
	SetMute(ctx context.Context, muted bool) (bool, error)
	SetSource(ctx context.Context, src mdc.Source) (bool, error)
}

var mdcCaps = newCapSet(Reboot, Shutdown, Start, GetInfo, GetStatus, Mute, Unmute, SetVolume, SetSource)

// MDCAdapter drives Samsung displays.
type MDCAdapter struct {
	unsupported
	dev    *config.Device
	ctl    mdcController
	settle time.Duration
	sleep  func(context.Context, time.Duration) error
}

// NewMDCAdapter creates an adapter for an MDC display.
func NewMDCAdapter(dev *config.Device, opts Options) *MDCAdapter {
	return &MDCAdapter{
		dev:    dev,
		ctl:    mdc.NewClient(dev.Address(), dev.GetDisplayID(), opts.Timeouts.MDC),
		settle: opts.Timeouts.RebootSettle,
		sleep:  sleep,
	}
}

func (a *MDCAdapter) Protocol() config.Protocol  { return config.ProtocolMDC }
func (a *MDCAdapter) Supports(c Capability) bool { return mdcCaps[c] }
func (a *MDCAdapter) Capabilities() []Capability { return mdcCaps.list() }

// Reboot powers the display off, waits for the settle delay, then powers it
// back on. The on command is sent even when the off command fails.
func (a *MDCAdapter) Reboot(ctx context.Context, _ Args) (interface{}, error) {
	if _, err := a.ctl.SetPower(ctx, mdc.PowerOff); err != nil {
		logging.DebugLog("mdc", "%s: power off before reboot failed: %v", a.dev.ID, err)
	}
	if err := a.sleep(ctx, a.settle); err != nil {
		return nil, Failed(err)
	}
	if _, err := a.ctl.SetPower(ctx, mdc.PowerOn); err != nil {
		return nil, Failed(err)
	}
	return true, nil
}

func (a *MDCAdapter) Shutdown(ctx context.Context, _ Args) (interface{}, error) {
	return a.power(ctx, mdc.PowerOff)
}

func (a *MDCAdapter) Start(ctx context.Context, _ Args) (interface{}, error) {
	return a.power(ctx, mdc.PowerOn)
}

func (a *MDCAdapter) power(ctx context.Context, state byte) (interface{}, error) {
	if _, err := a.ctl.SetPower(ctx, state); err != nil {
		return nil, Failed(err)
	}
	return true, nil
}

// mdcInfo is the getInfo result.
type mdcInfo struct {
	Power   string     `json:"power"`
	Volume  int        `json:"volume"`
	Source  string     `json:"source"`
	IsMuted bool       `json:"isMuted"`
	Model   *mdc.Model `json:"model"`
}

func (a *MDCAdapter) GetInfo(ctx context.Context, args Args) (interface{}, error) {
	if _, ok := args["type"]; ok {
		return nil, Validationf("Unexpected argument: type")
	}
	st, err := a.ctl.Status(ctx)
	if err != nil {
		return nil, Failed(err)
	}
	model, err := a.ctl.Model(ctx)
	if err != nil {
		return nil, Failed(err)
	}
	power := "off"
	if st.Power {
		power = "on"
	}
	return &mdcInfo{
		Power:   power,
		Volume:  st.Volume,
		Source:  st.Source.String(),
		IsMuted: st.Muted,
		Model:   model,
	}, nil
}

// GetStatus answers "running" whenever the display acknowledges a status query.
func (a *MDCAdapter) GetStatus(ctx context.Context, _ Args) (interface{}, error) {
	if _, err := a.ctl.Status(ctx); err != nil {
		return nil, Failed(err)
	}
	return "running", nil
}

func (a *MDCAdapter) Mute(ctx context.Context, _ Args) (interface{}, error) {
	return a.mute(ctx, true)
}

func (a *MDCAdapter) Unmute(ctx context.Context, _ Args) (interface{}, error) {
	return a.mute(ctx, false)
}

func (a *MDCAdapter) mute(ctx context.Context, muted bool) (interface{}, error) {
	if _, err := a.ctl.SetMute(ctx, muted); err != nil {
		return nil, Failed(err)
	}
	return true, nil
}

func (a *MDCAdapter) SetVolume(ctx context.Context, args Args) (interface{}, error) {
	v, ok := args.Int("volume")
	if !ok {
		return nil, Validationf("Argument volume must be an integer")
	}
	if v < 0 || v > 100 {
		return nil, Validationf("Volume must be between 0 and 100")
	}
	if _, err := a.ctl.SetVolume(ctx, v); err != nil {
		return nil, Failed(err)
	}
	return true, nil
}

func (a *MDCAdapter) SetSource(ctx context.Context, args Args) (interface{}, error) {
	name, _ := args.String("source")
	src, ok := mdc.ParseSource(name)
	if !ok {
		return nil, Validationf("Unknown source: %s", name)
	}
	if _, ok := args["channel"]; ok {
		return nil, Validationf("Unexpected argument: channel")
	}
	if _, err := a.ctl.SetSource(ctx, src); err != nil {
		return nil, Failed(err)
	}
	return true, nil
}
