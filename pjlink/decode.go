package pjlink

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePower decodes a POWR payload.
func ParsePower(payload string) (Power, error) {
	n, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil || n < 0 || n > 3 {
		return 0, fmt.Errorf("invalid power state %q", payload)
	}
	return Power(n), nil
}

// ParseMute decodes an AVMT payload: "31" both, "21" audio, "11" video.
func ParseMute(payload string) MuteState {
	switch strings.TrimSpace(payload) {
	case "31":
		return MuteState{Audio: true, Video: true}
	case "21":
		return MuteState{Audio: true}
	case "11":
		return MuteState{Video: true}
	}
	return MuteState{}
}

// Severity of an ERST field.
type Severity int

const (
	SeverityOK      Severity = 0
	SeverityWarning Severity = 1
	SeverityError   Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// MarshalText renders the severity name in JSON.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorStatus is the decoded ERST reply.
type ErrorStatus struct {
	Fan         Severity `json:"fan"`
	Lamp        Severity `json:"lamp"`
	Temperature Severity `json:"temperature"`
	CoverOpen   Severity `json:"coverOpen"`
	Filter      Severity `json:"filter"`
	Other       Severity `json:"other"`
}

// ParseErrors decodes the six-digit ERST payload.
func ParseErrors(payload string) (ErrorStatus, error) {
	payload = strings.TrimSpace(payload)
	if len(payload) != 6 {
		return ErrorStatus{}, fmt.Errorf("invalid error status %q", payload)
	}
	var fields [6]Severity
	for i := 0; i < 6; i++ {
		d := payload[i]
		if d < '0' || d > '2' {
			return ErrorStatus{}, fmt.Errorf("invalid error status %q", payload)
		}
		fields[i] = Severity(d - '0')
	}
	return ErrorStatus{
		Fan:         fields[0],
		Lamp:        fields[1],
		Temperature: fields[2],
		CoverOpen:   fields[3],
		Filter:      fields[4],
		Other:       fields[5],
	}, nil
}

// Lamp is one entry of a LAMP reply.
type Lamp struct {
	Hours int  `json:"hours"`
	On    bool `json:"on"`
}

// ParseLamps decodes "hours on [hours on ...]".
func ParseLamps(payload string) ([]Lamp, error) {
	fields := strings.Fields(payload)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil, fmt.Errorf("invalid lamp status %q", payload)
	}
	lamps := make([]Lamp, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		hours, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("invalid lamp hours %q", fields[i])
		}
		switch fields[i+1] {
		case "0", "1":
		default:
			return nil, fmt.Errorf("invalid lamp state %q", fields[i+1])
		}
		lamps = append(lamps, Lamp{Hours: hours, On: fields[i+1] == "1"})
	}
	return lamps, nil
}
