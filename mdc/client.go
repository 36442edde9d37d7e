package mdc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"observatory/logging"
)

// DefaultTimeout bounds a single request/reply exchange.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when a display does not answer in time.
var ErrTimeout = errors.New("Timeout")

// NakError is returned when a display rejects a command.
type NakError struct {
	Command Command
	Code    byte
}

func (e *NakError) Error() string {
	return fmt.Sprintf("Received error: %d", e.Code)
}

// Client talks to one display. Each call opens a fresh TCP connection,
// writes one frame and reads one reply; there is no connection reuse.
type Client struct {
	addr    string
	id      byte
	timeout time.Duration
	dialer  net.Dialer
}

// NewClient creates a client for the display at addr (host:port) with the given display id.
func NewClient(addr string, id byte, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: addr, id: id, timeout: timeout}
}

// Address returns the display address.
func (c *Client) Address() string {
	return c.addr
}

// Send performs one request/reply exchange. A nak reply is returned as *NakError.
func (c *Client) Send(ctx context.Context, cmd Command, data ...byte) (*Reply, error) {
	frame, err := Encode(cmd, c.id, data...)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	logging.DebugConnect("mdc", c.addr)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		logging.DebugConnectError("mdc", c.addr, err)
		return nil, translate(err)
	}
	defer conn.Close()

	// Unblock reads if the caller gives up early.
	stop := context.AfterFunc(dialCtx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	logging.DebugTX("mdc", frame)
	if _, err := conn.Write(frame); err != nil {
		return nil, translate(err)
	}

	resp, err := readFrame(conn)
	if err != nil {
		logging.DebugError("mdc", cmd.String(), err)
		return nil, translate(err)
	}
	logging.DebugRX("mdc", resp)

	reply, err := Decode(resp)
	if err != nil {
		return nil, err
	}
	if !reply.OK() {
		code, _ := reply.At(0)
		return reply, &NakError{Command: cmd, Code: code}
	}
	return reply, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != Header {
		return nil, ErrBadHeader
	}
	frame := make([]byte, 4+int(header[3])+1)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func translate(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.New("Connection closed")
	}
	return err
}

// Status is the decoded reply to CmdStatus.
type Status struct {
	Power  bool   `json:"power"`
	Volume int    `json:"volume"`
	Muted  bool   `json:"isMuted"`
	Source Source `json:"source"`
}

// ErrIncorrectResult is returned when a reply carries too few data bytes.
var ErrIncorrectResult = errors.New("Incorrect result")

// Status queries power, volume, mute and source in one exchange.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	reply, err := c.Send(ctx, CmdStatus)
	if err != nil {
		return nil, err
	}
	if len(reply.Data) < 4 {
		return nil, ErrIncorrectResult
	}
	return &Status{
		Power:  reply.Data[0] != PowerOff,
		Volume: int(reply.Data[1]),
		Muted:  reply.Data[2] != 0x00,
		Source: Source(reply.Data[3]),
	}, nil
}

// Model is the decoded reply to CmdModel.
type Model struct {
	Species byte `json:"species"`
	Code    byte `json:"code"`
}

// Model queries the display model.
func (c *Client) Model(ctx context.Context) (*Model, error) {
	reply, err := c.Send(ctx, CmdModel)
	if err != nil {
		return nil, err
	}
	if len(reply.Data) < 2 {
		return nil, ErrIncorrectResult
	}
	return &Model{Species: reply.Data[0], Code: reply.Data[1]}, nil
}

// setAndConfirm sends a one-byte set command and reports whether the display
// echoed back the requested value.
func (c *Client) setAndConfirm(ctx context.Context, cmd Command, v byte) (bool, error) {
	reply, err := c.Send(ctx, cmd, v)
	if err != nil {
		return false, err
	}
	got, ok := reply.At(0)
	return ok && got == v, nil
}

// SetPower sends PowerOff, PowerOn or PowerReboot.
func (c *Client) SetPower(ctx context.Context, state byte) (bool, error) {
	return c.setAndConfirm(ctx, CmdPower, state)
}

// SetVolume sets the volume (0-100).
func (c *Client) SetVolume(ctx context.Context, volume int) (bool, error) {
	if volume < 0 || volume > 100 {
		return false, fmt.Errorf("volume %d out of range", volume)
	}
	return c.setAndConfirm(ctx, CmdVolume, byte(volume))
}

// SetMute mutes or unmutes audio.
func (c *Client) SetMute(ctx context.Context, muted bool) (bool, error) {
	var v byte
	if muted {
		v = 0x01
	}
	return c.setAndConfirm(ctx, CmdMute, v)
}

// SetSource switches the input source.
func (c *Client) SetSource(ctx context.Context, src Source) (bool, error) {
	return c.setAndConfirm(ctx, CmdSource, byte(src))
}
