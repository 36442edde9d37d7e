package pjlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"observatory/logging"
)

// DefaultTimeout is the idle timeout for a session.
const DefaultTimeout = 5 * time.Second

// Command bodies.
const (
	cmdPower        = "POWR"
	cmdInput        = "INPT"
	cmdMute         = "AVMT"
	cmdErrors       = "ERST"
	cmdLamp         = "LAMP"
	cmdInputs       = "INST"
	cmdName         = "NAME"
	cmdManufacturer = "INF1"
	cmdProduct      = "INF2"
	cmdInfo         = "INFO"
	cmdClass        = "CLSS"
)

func query(cmd string) string { return cmd + " ?" }

func set(cmd, value string) string { return cmd + "=" + value }

// Client controls one projector. Every call opens its own connection and
// carries exactly one command.
type Client struct {
	addr     string
	password string
	class    int
	timeout  time.Duration
	dialer   net.Dialer
}

// NewClient creates a client for addr (host:port). password may be empty.
func NewClient(addr, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: addr, password: password, class: 1, timeout: timeout}
}

// Address returns the projector address.
func (c *Client) Address() string {
	return c.addr
}

// Do runs a single command body (e.g. "POWR ?") and returns the reply payload.
func (c *Client) Do(ctx context.Context, body string) (string, error) {
	sess := NewSession(c.class, c.password, body)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logging.DebugConnect("pjlink", c.addr)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		logging.DebugConnectError("pjlink", c.addr, err)
		if isTimeout(err) {
			return "", ErrConnectionTimeout
		}
		return "", err
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	sess.Connected()
	r := bufio.NewReader(conn)
	for !sess.Finished() {
		conn.SetReadDeadline(time.Now().Add(c.timeout))
		line, err := r.ReadString(Terminator)
		if err != nil {
			switch {
			case isTimeout(err):
				sess.TimedOut()
			case errors.Is(err, io.EOF):
				sess.Closed()
			default:
				sess.Fail(err)
			}
			continue
		}
		logging.DebugRX("pjlink", []byte(line))

		if out := sess.Receive(line); out != "" {
			logging.DebugTX("pjlink", []byte(out))
			conn.SetWriteDeadline(time.Now().Add(c.timeout))
			if _, err := io.WriteString(conn, out); err != nil {
				sess.Fail(err)
			}
		}
	}

	payload, err := sess.Result()
	if err != nil {
		logging.DebugError("pjlink", body, err)
	}
	return payload, err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Power states.
type Power int

const (
	PowerOff         Power = 0
	PowerOn          Power = 1
	PowerCoolingDown Power = 2
	PowerWarmingUp   Power = 3
)

func (p Power) String() string {
	switch p {
	case PowerOff:
		return "OFF"
	case PowerOn:
		return "ON"
	case PowerCoolingDown:
		return "COOLING_DOWN"
	case PowerWarmingUp:
		return "WARMING_UP"
	}
	return fmt.Sprintf("Power(%d)", int(p))
}

// MarshalText renders the power state name in JSON.
func (p Power) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Input types.
type Input int

const (
	InputRGB     Input = 1
	InputVideo   Input = 2
	InputDigital Input = 3
	InputStorage Input = 4
	InputNetwork Input = 5
)

var inputNames = map[string]Input{
	"RGB":     InputRGB,
	"VIDEO":   InputVideo,
	"DIGITAL": InputDigital,
	"STORAGE": InputStorage,
	"NETWORK": InputNetwork,
}

// ParseInput looks up an input by name (case-insensitive).
func ParseInput(name string) (Input, bool) {
	in, ok := inputNames[strings.ToUpper(strings.TrimSpace(name))]
	return in, ok
}

// InputNames returns the known input names.
func InputNames() []string {
	return []string{"RGB", "VIDEO", "DIGITAL", "STORAGE", "NETWORK"}
}

func (in Input) String() string {
	for n, v := range inputNames {
		if v == in {
			return n
		}
	}
	return fmt.Sprintf("Input(%d)", int(in))
}

// GetPower queries the power state.
func (c *Client) GetPower(ctx context.Context) (Power, error) {
	payload, err := c.Do(ctx, query(cmdPower))
	if err != nil {
		return 0, err
	}
	return ParsePower(payload)
}

// SetPower switches the projector on or off.
func (c *Client) SetPower(ctx context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	_, err := c.Do(ctx, set(cmdPower, v))
	return err
}

// GetInput returns the active input as a two-digit code, e.g. "31".
func (c *Client) GetInput(ctx context.Context) (string, error) {
	return c.Do(ctx, query(cmdInput))
}

// SetInput selects an input; channel defaults to 1 when zero.
func (c *Client) SetInput(ctx context.Context, in Input, channel int) error {
	if channel <= 0 {
		channel = 1
	}
	if channel > 9 {
		return fmt.Errorf("channel %d out of range", channel)
	}
	_, err := c.Do(ctx, set(cmdInput, fmt.Sprintf("%d%d", in, channel)))
	return err
}

// Mute targets for AVMT.
const (
	MuteVideo = "1"
	MuteAudio = "2"
	MuteBoth  = "3"
)

// SetMute mutes or unmutes the given target.
func (c *Client) SetMute(ctx context.Context, target string, muted bool) error {
	v := "0"
	if muted {
		v = "1"
	}
	_, err := c.Do(ctx, set(cmdMute, target+v))
	return err
}

// MuteState is the decoded AVMT reply.
type MuteState struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// GetMute queries the mute state.
func (c *Client) GetMute(ctx context.Context) (MuteState, error) {
	payload, err := c.Do(ctx, query(cmdMute))
	if err != nil {
		return MuteState{}, err
	}
	return ParseMute(payload), nil
}

// GetErrors queries the error status.
func (c *Client) GetErrors(ctx context.Context) (ErrorStatus, error) {
	payload, err := c.Do(ctx, query(cmdErrors))
	if err != nil {
		return ErrorStatus{}, err
	}
	return ParseErrors(payload)
}

// GetLamps queries lamp hours and state.
func (c *Client) GetLamps(ctx context.Context) ([]Lamp, error) {
	payload, err := c.Do(ctx, query(cmdLamp))
	if err != nil {
		return nil, err
	}
	return ParseLamps(payload)
}

// GetInputs lists the available input codes.
func (c *Client) GetInputs(ctx context.Context) ([]string, error) {
	payload, err := c.Do(ctx, query(cmdInputs))
	if err != nil {
		return nil, err
	}
	return strings.Fields(payload), nil
}

// GetName returns the projector name.
func (c *Client) GetName(ctx context.Context) (string, error) {
	return c.Do(ctx, query(cmdName))
}

// GetManufacturer returns the manufacturer name.
func (c *Client) GetManufacturer(ctx context.Context) (string, error) {
	return c.Do(ctx, query(cmdManufacturer))
}

// GetProduct returns the product name.
func (c *Client) GetProduct(ctx context.Context) (string, error) {
	return c.Do(ctx, query(cmdProduct))
}

// GetInfo returns the free-form info string.
func (c *Client) GetInfo(ctx context.Context) (string, error) {
	return c.Do(ctx, query(cmdInfo))
}

// GetClass returns the PJLink class the projector implements.
func (c *Client) GetClass(ctx context.Context) (string, error) {
	return c.Do(ctx, query(cmdClass))
}
