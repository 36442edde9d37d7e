// Package mdc implements Samsung's Multiple Display Control protocol.
//
// Every request is a single frame:
//
//	0xAA | command | display id | length | data... | checksum
//
// where the checksum is the sum of every byte after the header, mod 256.
// Displays answer with command 0xFF and an ack/nak status byte followed by
// the echoed command and its result data.
package mdc

import (
	"errors"
	"fmt"
)

// Header is the first byte of every MDC frame.
const Header byte = 0xAA

// ReplyCommand is the command byte displays use for all replies.
const ReplyCommand byte = 0xFF

// Reply status bytes.
const (
	StatusAck byte = 0x41 // 'A'
	StatusNak byte = 0x4E // 'N'
)

// DefaultPort is the TCP port MDC displays listen on.
const DefaultPort = 1515

// Command identifies an MDC operation.
type Command byte

const (
	CmdStatus Command = 0x00
	CmdModel  Command = 0x10
	CmdPower  Command = 0x11
	CmdVolume Command = 0x12
	CmdMute   Command = 0x13
	CmdSource Command = 0x14
)

// String returns a readable command name.
func (c Command) String() string {
	switch c {
	case CmdStatus:
		return "Status"
	case CmdModel:
		return "Model"
	case CmdPower:
		return "Power"
	case CmdVolume:
		return "Volume"
	case CmdMute:
		return "Mute"
	case CmdSource:
		return "Source"
	}
	return fmt.Sprintf("Command(0x%02X)", byte(c))
}

// Power sub-arguments for CmdPower.
const (
	PowerOff    byte = 0x00
	PowerOn     byte = 0x01
	PowerReboot byte = 0x02
)

var (
	ErrShortFrame = errors.New("mdc: short frame")
	ErrBadHeader  = errors.New("mdc: bad header")
	ErrBadLength  = errors.New("mdc: length mismatch")
	ErrChecksum   = errors.New("mdc: checksum mismatch")
	ErrTooLong    = errors.New("mdc: too many data bytes")
)

// Checksum returns the sum of b mod 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode builds a request frame.
func Encode(cmd Command, id byte, data ...byte) ([]byte, error) {
	if len(data) > 0xFF {
		return nil, ErrTooLong
	}
	frame := make([]byte, 0, 5+len(data))
	frame = append(frame, Header, byte(cmd), id, byte(len(data)))
	frame = append(frame, data...)
	frame = append(frame, Checksum(frame[1:]))
	return frame, nil
}

// Reply is a decoded display reply.
type Reply struct {
	ID      byte
	Status  byte
	Command Command // echoed request command
	Data    []byte  // result bytes after the echoed command
}

// OK reports whether the display acknowledged the command.
func (r *Reply) OK() bool {
	return r.Status == StatusAck
}

// At returns the data byte at offset i, as it appears after the echoed command.
func (r *Reply) At(i int) (byte, bool) {
	if i < 0 || i >= len(r.Data) {
		return 0, false
	}
	return r.Data[i], true
}

// Decode parses a complete reply frame and verifies its checksum.
func Decode(frame []byte) (*Reply, error) {
	if len(frame) < 5 {
		return nil, ErrShortFrame
	}
	if frame[0] != Header {
		return nil, ErrBadHeader
	}
	n := int(frame[3])
	if len(frame) != 4+n+1 {
		return nil, fmt.Errorf("%w: header says %d data bytes, frame has %d", ErrBadLength, n, len(frame)-5)
	}
	if want := Checksum(frame[1 : 4+n]); frame[4+n] != want {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, frame[4+n], want)
	}

	r := &Reply{ID: frame[2]}
	body := frame[4 : 4+n]
	if len(body) > 0 {
		r.Status = body[0]
	}
	if len(body) > 1 {
		r.Command = Command(body[1])
	}
	if len(body) > 2 {
		r.Data = append([]byte(nil), body[2:]...)
	}
	return r, nil
}

// EncodeReply builds a reply frame as a display would send it.
// Used by simulators and tests.
func EncodeReply(id byte, status byte, cmd Command, data ...byte) []byte {
	body := append([]byte{status, byte(cmd)}, data...)
	frame := make([]byte, 0, 5+len(body))
	frame = append(frame, Header, ReplyCommand, id, byte(len(body)))
	frame = append(frame, body...)
	return append(frame, Checksum(frame[1:]))
}
