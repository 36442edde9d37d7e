package device

import (
	"context"
	"time"

	"observatory/config"
	"observatory/logging"
	"observatory/pjlink"
)

type pjlinkController interface {
	GetPower(ctx context.Context) (pjlink.Power, error)
	SetPower(ctx context.Context, on bool) error
	GetInput(ctx context.Context) (string, error)
	SetInput(ctx context.Context, in pjlink.Input, channel int) error
	SetMute(ctx context.Context, target string, muted bool) error
	GetMute(ctx context.Context) (pjlink.MuteState, error)
	GetErrors(ctx context.Context) (pjlink.ErrorStatus, error)
	GetLamps(ctx context.Context) ([]pjlink.Lamp, error)
	GetInputs(ctx context.Context) ([]string, error)
	GetName(ctx context.Context) (string, error)
	GetManufacturer(ctx context.Context) (string, error)
	GetProduct(ctx context.Context) (string, error)
	GetInfo(ctx context.Context) (string, error)
	GetClass(ctx context.Context) (string, error)
}

var pjlinkCaps = newCapSet(Reboot, Shutdown, Start, GetInfo, GetStatus, SetSource,
	Mute, Unmute, MuteAudio, UnmuteAudio, MuteVideo, UnmuteVideo)

// MsgInfoUnavailable is returned when any getInfo sub-query fails.
const MsgInfoUnavailable = "Unable to gather system information"

// PJLinkAdapter drives PJLink projectors.
type PJLinkAdapter struct {
	unsupported
	dev    *config.Device
	ctl    pjlinkController
	settle time.Duration
	sleep  func(context.Context, time.Duration) error
}

// NewPJLinkAdapter creates an adapter for a PJLink projector.
func NewPJLinkAdapter(dev *config.Device, opts Options) *PJLinkAdapter {
	return &PJLinkAdapter{
		dev:    dev,
		ctl:    pjlink.NewClient(dev.Address(), dev.Password, opts.Timeouts.PJLink),
		settle: opts.Timeouts.RebootSettle,
		sleep:  sleep,
	}
}

func (a *PJLinkAdapter) Protocol() config.Protocol  { return config.ProtocolPJLink }
func (a *PJLinkAdapter) Supports(c Capability) bool { return pjlinkCaps[c] }
func (a *PJLinkAdapter) Capabilities() []Capability { return pjlinkCaps.list() }

// Reboot powers off, waits for the settle delay, then powers on.
func (a *PJLinkAdapter) Reboot(ctx context.Context, _ Args) (interface{}, error) {
	if err := a.ctl.SetPower(ctx, false); err != nil {
		logging.DebugLog("pjlink", "%s: power off before reboot failed: %v", a.dev.ID, err)
	}
	if err := a.sleep(ctx, a.settle); err != nil {
		return nil, Failed(err)
	}
	if err := a.ctl.SetPower(ctx, true); err != nil {
		return nil, Failed(err)
	}
	return true, nil
}

func (a *PJLinkAdapter) Shutdown(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetPower(ctx, false))
}

func (a *PJLinkAdapter) Start(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetPower(ctx, true))
}

// pjlinkInfo is the getInfo result.
type pjlinkInfo struct {
	Info         string             `json:"info"`
	Source       string             `json:"source"`
	Power        pjlink.Power       `json:"power"`
	PJLinkClass  string             `json:"pjlinkClass"`
	IsMuted      pjlink.MuteState   `json:"isMuted"`
	Errors       pjlink.ErrorStatus `json:"errors"`
	Lamp         []pjlink.Lamp      `json:"lamp"`
	Name         string             `json:"name"`
	Manufacturer string             `json:"manufacturer"`
	Product      string             `json:"product"`
	Sources      []string           `json:"sources"`
}

// GetInfo runs every informational query in turn. Any failure fails the whole call.
func (a *PJLinkAdapter) GetInfo(ctx context.Context, args Args) (interface{}, error) {
	if t, ok := args.String("type"); ok && t != "general" {
		return nil, Validationf("Unknown info type: %s", t)
	}

	var (
		info pjlinkInfo
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	info.Info, err = a.ctl.GetInfo(ctx)
	collect(err)
	info.Source, err = a.ctl.GetInput(ctx)
	collect(err)
	info.Power, err = a.ctl.GetPower(ctx)
	collect(err)
	info.PJLinkClass, err = a.ctl.GetClass(ctx)
	collect(err)
	info.IsMuted, err = a.ctl.GetMute(ctx)
	collect(err)
	info.Errors, err = a.ctl.GetErrors(ctx)
	collect(err)
	info.Lamp, err = a.ctl.GetLamps(ctx)
	collect(err)
	info.Name, err = a.ctl.GetName(ctx)
	collect(err)
	info.Manufacturer, err = a.ctl.GetManufacturer(ctx)
	collect(err)
	info.Product, err = a.ctl.GetProduct(ctx)
	collect(err)
	info.Sources, err = a.ctl.GetInputs(ctx)
	collect(err)

	if len(errs) > 0 {
		for _, e := range errs {
			logging.DebugError("pjlink", a.dev.ID+" getInfo", e)
		}
		return nil, Failedf(MsgInfoUnavailable)
	}
	return &info, nil
}

// GetStatus answers "running" whenever the projector reports a power state.
func (a *PJLinkAdapter) GetStatus(ctx context.Context, _ Args) (interface{}, error) {
	if _, err := a.ctl.GetPower(ctx); err != nil {
		return nil, Failed(err)
	}
	return "running", nil
}

func (a *PJLinkAdapter) SetSource(ctx context.Context, args Args) (interface{}, error) {
	name, _ := args.String("source")
	in, ok := pjlink.ParseInput(name)
	if !ok {
		return nil, Validationf("Unknown source: %s", name)
	}
	channel, hasChannel := args.Int("channel")
	if hasChannel && (channel < 1 || channel > 9) {
		return nil, Validationf("Channel must be between 1 and 9")
	}
	return done(a.ctl.SetInput(ctx, in, channel))
}

func (a *PJLinkAdapter) Mute(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetMute(ctx, pjlink.MuteBoth, true))
}

func (a *PJLinkAdapter) Unmute(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetMute(ctx, pjlink.MuteBoth, false))
}

func (a *PJLinkAdapter) MuteAudio(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetMute(ctx, pjlink.MuteAudio, true))
}

func (a *PJLinkAdapter) UnmuteAudio(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetMute(ctx, pjlink.MuteAudio, false))
}

func (a *PJLinkAdapter) MuteVideo(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetMute(ctx, pjlink.MuteVideo, true))
}

func (a *PJLinkAdapter) UnmuteVideo(ctx context.Context, _ Args) (interface{}, error) {
	return done(a.ctl.SetMute(ctx, pjlink.MuteVideo, false))
}

// done maps a bare error result to (true, nil) or a device error.
func done(err error) (interface{}, error) {
	if err != nil {
		return nil, Failed(err)
	}
	return true, nil
}
