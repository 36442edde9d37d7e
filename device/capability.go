package device

// Capability names one operation in the uniform command vocabulary.
type Capability string

const (
	Reboot        Capability = "reboot"
	Shutdown      Capability = "shutdown"
	Start         Capability = "start"
	GetInfo       Capability = "getInfo"
	GetStatus     Capability = "getStatus"
	Mute          Capability = "mute"
	Unmute        Capability = "unmute"
	MuteAudio     Capability = "muteAudio"
	UnmuteAudio   Capability = "unmuteAudio"
	MuteVideo     Capability = "muteVideo"
	UnmuteVideo   Capability = "unmuteVideo"
	SetVolume     Capability = "setVolume"
	SetSource     Capability = "setSource"
	Execute       Capability = "execute"
	Screenshot    Capability = "screenshot"
	OpenBrowser   Capability = "openBrowser"
	GetBrowser    Capability = "getBrowser"
	CloseBrowser  Capability = "closeBrowser"
	GetBrowsers   Capability = "getBrowsers"
	CloseBrowsers Capability = "closeBrowsers"
)

// Capabilities lists every capability in a stable order.
var Capabilities = []Capability{
	Reboot, Shutdown, Start, GetInfo, GetStatus,
	Mute, Unmute, MuteAudio, UnmuteAudio, MuteVideo, UnmuteVideo,
	SetVolume, SetSource,
	Execute, Screenshot,
	OpenBrowser, GetBrowser, CloseBrowser, GetBrowsers, CloseBrowsers,
}

// ParseCapability returns the capability with the given name.
func ParseCapability(name string) (Capability, bool) {
	for _, c := range Capabilities {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

type capSet map[Capability]bool

func newCapSet(caps ...Capability) capSet {
	s := make(capSet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

func (s capSet) list() []Capability {
	out := make([]Capability, 0, len(s))
	for _, c := range Capabilities {
		if s[c] {
			out = append(out, c)
		}
	}
	return out
}
