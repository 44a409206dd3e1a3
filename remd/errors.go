package remd

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig marks configuration errors detected before any work starts.
	ErrConfig = errors.New("configuration error")

	// ErrProtocol marks malformed data crossing the communicator boundary.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout marks a communicator receive that exceeded its timeout.
	ErrTimeout = errors.New("communication timeout")

	// ErrWrongRole is returned when a leader-only operation is called on a
	// worker communicator or vice versa.
	ErrWrongRole = errors.New("operation not valid for this role")
)

// Role is the fixed role of a process within its group.
type Role int

const (
	Worker Role = iota
	Leader
)

func (r Role) String() string {
	if r == Leader {
		return "leader"
	}
	return "worker"
}

// ProtocolShapeError reports malformed data received from the communicator:
// an element that is not a single State, or an energy block of the wrong
// shape. It is never recoverable.
type ProtocolShapeError struct {
	Role       Role
	Field      string // "states" (the default) or "energies"
	Rank       int    // sending rank for energies, -1 when unknown
	Index      int
	Observed   string   // Go type of the offending element
	Nested     bool     // element is itself a collection
	Len        int      // length of the nested collection
	InnerTypes []string // up to four element types of the nested collection
	Reason     string
}

func (e *ProtocolShapeError) Error() string {
	var b strings.Builder
	switch {
	case e.Field == fieldEnergies:
		fmt.Fprintf(&b, "[energy-shape-error] %s: energies[%d]", e.Role, e.Index)
		if e.Rank >= 0 {
			fmt.Fprintf(&b, " from rank %d", e.Rank)
		}
	case e.Nested:
		fmt.Fprintf(&b, "[state-shape-error] %s: states[%d] is a %s (len=%d) instead of *remd.State; sample types=%v",
			e.Role, e.Index, e.Observed, e.Len, e.InnerTypes)
	default:
		fmt.Fprintf(&b, "[state-shape-error] %s: states[%d] of type %s", e.Role, e.Index, e.Observed)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *ProtocolShapeError) Unwrap() error { return ErrProtocol }

// BiasAssignmentError reports a failure to apply a received bias factor.
type BiasAssignmentError struct {
	Role  Role
	Index int
	Step  int
	Value float64
	Type  string
	Err   error
}

func (e *BiasAssignmentError) Error() string {
	return fmt.Sprintf("[bias-assignment-error] %s: step=%d states[%d] type=%s alpha=%v: %v",
		e.Role, e.Step, e.Index, e.Type, e.Value, e.Err)
}

func (e *BiasAssignmentError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
