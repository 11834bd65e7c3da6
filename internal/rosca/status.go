package rosca

import (
	"fmt"
	"strings"
)

// Status is the lifecycle phase of a group.
type Status uint8

const (
	StatusForming Status = iota
	StatusActive
	StatusCompleted
	StatusCancelled
)

var statusNames = [...]string{
	StatusForming:   "forming",
	StatusActive:    "active",
	StatusCompleted: "completed",
	StatusCancelled: "cancelled",
}

// transitions is the only place status edges are defined.
var transitions = map[Status][]Status{
	StatusForming: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusCancelled},
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves s to the target status or fails with ErrInvalidTransition.
func (s *Status) Transition(to Status) error {
	if !CanTransition(*s, to) {
		return newError(CodeInvalidTransition, "cannot transition from %s to %s", *s, to)
	}
	*s = to
	return nil
}

// ParseStatus converts the textual form back into a Status.
func ParseStatus(raw string) (Status, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", raw)
}

func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
