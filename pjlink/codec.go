// Package pjlink implements the PJLink class 1 projector control protocol.
//
// A PJLink exchange is one TCP connection carrying one command: the projector
// greets with "PJLINK 1 <token>" (or "PJLINK 0" when unauthenticated), the
// client answers with md5(token+password) prefixed to the command, and the
// projector replies with a single "%1XXXX=<payload>" line.
package pjlink

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPort is the TCP port PJLink devices listen on.
const DefaultPort = 4352

// Terminator ends every PJLink line.
const Terminator = '\r'

// Device-reported failures.
var (
	ErrIncorrectPassword = errors.New("Incorrect password")
	ErrUndefinedCommand  = errors.New("Undefined command")
	ErrOutOfParameter    = errors.New("Out of parameter")
	ErrUnavailableTime   = errors.New("Unavailable time")
	ErrDeviceFailure     = errors.New("Projector/Display failure")
	ErrConnectionClosed  = errors.New("Connection closed")
	ErrConnectionTimeout = errors.New("Connection timeout")
)

// UnknownResponseError carries a line that matched no known reply shape.
type UnknownResponseError struct {
	Raw string
}

func (e *UnknownResponseError) Error() string {
	return "Unknown response: " + e.Raw
}

var (
	authRe     = regexp.MustCompile(`^PJLINK 1 (.*)$`)
	noAuthRe   = regexp.MustCompile(`^PJLINK 0$`)
	authErrRe  = regexp.MustCompile(`^PJLINK ERRA$`)
	okRe       = regexp.MustCompile(`^%.*=OK$`)
	responseRe = regexp.MustCompile(`^%.*=(.*)$`)
)

var errorCodes = map[string]error{
	"ERR1": ErrUndefinedCommand,
	"ERR2": ErrOutOfParameter,
	"ERR3": ErrUnavailableTime,
	"ERR4": ErrDeviceFailure,
	"ERRA": ErrIncorrectPassword,
}

// Digest computes the hex MD5 of token+password as sent in the auth reply.
func Digest(token, password string) string {
	sum := md5.Sum([]byte(token + password))
	return hex.EncodeToString(sum[:])
}

// Encode renders a command line. digest is empty for unauthenticated sessions.
func Encode(digest string, class int, body string) string {
	return fmt.Sprintf("%s%%%d%s%c", digest, class, body, Terminator)
}

// Greeting is the parsed first line of a session.
type Greeting struct {
	Auth  bool
	Token string
}

// ParseGreeting recognises "PJLINK 1 <token>" and "PJLINK 0".
func ParseGreeting(line string) (Greeting, bool) {
	line = strings.TrimSuffix(line, string(Terminator))
	if m := authRe.FindStringSubmatch(line); m != nil {
		return Greeting{Auth: true, Token: m[1]}, true
	}
	if noAuthRe.MatchString(line) {
		return Greeting{}, true
	}
	return Greeting{}, false
}

// Classify maps a reply line to its payload or a device error.
// An "=OK" reply yields an empty payload.
func Classify(line string) (string, error) {
	trimmed := strings.TrimSuffix(line, string(Terminator))

	switch {
	case okRe.MatchString(trimmed):
		return "", nil
	case authErrRe.MatchString(trimmed):
		return "", ErrIncorrectPassword
	}

	if m := responseRe.FindStringSubmatch(trimmed); m != nil {
		if err, ok := errorCodes[m[1]]; ok {
			return "", err
		}
		return m[1], nil
	}
	return "", &UnknownResponseError{Raw: line}
}
