// Package call owns the single active call session and the incoming
// offer slot, and drives the session lifecycle state machine.
package call

import (
	"fmt"
	"slices"
)

// Status represents a call session lifecycle state.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusRinging    Status = "RINGING"
	StatusConnecting Status = "CONNECTING"
	StatusConnected  Status = "CONNECTED"
	StatusEnded      Status = "ENDED"
)

// validTransitions defines allowed session state transitions. ENDED is
// terminal; the store resets to IDLE by dropping the descriptor.
var validTransitions = map[Status][]Status{
	StatusIdle:       {StatusRinging, StatusConnecting},
	StatusRinging:    {StatusConnecting, StatusConnected, StatusEnded},
	StatusConnecting: {StatusConnected, StatusEnded},
	StatusConnected:  {StatusEnded},
	StatusEnded:      {StatusIdle},
}

// Direction distinguishes who initiated the session.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Participant is the remote party, copied at session start. Never a
// live reference into SDK-owned objects, which may be invalidated.
type Participant struct {
	ID     string
	Name   string
	Avatar string
}

// Session is the descriptor of the one active (or establishing) call.
type Session struct {
	SessionID   string
	Participant Participant
	Direction   Direction
	Status      Status
}

func (s *Session) transition(to Status) error {
	if !slices.Contains(validTransitions[s.Status], to) {
		return fmt.Errorf("invalid call transition from %s to %s", s.Status, to)
	}
	s.Status = to
	return nil
}

// StatusChange is the bus payload published on session state changes.
type StatusChange struct {
	SessionID string
	From      Status
	To        Status
}
