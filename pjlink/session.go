package pjlink

import "fmt"

// State is a position in the per-connection session state machine.
type State int

const (
	StateConnecting State = iota
	StateAwaitingChallenge
	StateAuthenticating
	StateAwaitingResult
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting-challenge"
	case StateAuthenticating:
		return "authenticating"
	case StateAwaitingResult:
		return "awaiting-result"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session drives one command over one connection. It performs no I/O:
// the caller feeds inbound lines to Receive and writes whatever it returns.
type Session struct {
	class    int
	password string
	command  string // body without class prefix, e.g. "POWR ?"

	state  State
	token  string
	result string
	err    error
}

// NewSession prepares a session for command. password may be empty.
func NewSession(class int, password, command string) *Session {
	if class <= 0 {
		class = 1
	}
	return &Session{class: class, password: password, command: command}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Connected moves the session to await the projector's greeting.
func (s *Session) Connected() {
	if s.state == StateConnecting {
		s.state = StateAwaitingChallenge
	}
}

// Receive consumes one inbound line. It returns the line to write back, if any.
func (s *Session) Receive(line string) (out string) {
	switch s.state {
	case StateAwaitingChallenge:
		if g, ok := ParseGreeting(line); ok {
			s.state = StateAuthenticating
			digest := ""
			if g.Auth {
				s.token = g.Token
				digest = Digest(g.Token, s.password)
			}
			s.state = StateAwaitingResult
			return Encode(digest, s.class, s.command)
		}
		// Anything other than a greeting is treated as the final answer,
		// which covers "PJLINK ERRA" sent straight after connect.
		s.finish(Classify(line))
	case StateAwaitingResult:
		s.finish(Classify(line))
	}
	return ""
}

// Closed records that the peer closed the connection.
func (s *Session) Closed() {
	if !s.Finished() {
		s.fail(ErrConnectionClosed)
	}
}

// TimedOut records that the idle timeout fired.
func (s *Session) TimedOut() {
	if !s.Finished() {
		s.fail(ErrConnectionTimeout)
	}
}

// Fail ends the session with a transport error.
func (s *Session) Fail(err error) {
	if !s.Finished() {
		s.fail(err)
	}
}

// Finished reports whether a result has been produced.
func (s *Session) Finished() bool {
	return s.state == StateDone || s.state == StateFailed
}

// Result returns the payload or error once finished.
func (s *Session) Result() (string, error) {
	return s.result, s.err
}

func (s *Session) finish(payload string, err error) {
	if err != nil {
		s.fail(err)
		return
	}
	s.result = payload
	s.state = StateDone
}

func (s *Session) fail(err error) {
	s.err = err
	s.state = StateFailed
}
