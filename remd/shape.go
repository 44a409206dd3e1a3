package remd

import (
	"fmt"
	"reflect"
)

// Element is one value received across the communicator boundary before
// validation. A well-formed element is a non-nil *State; decoders surface
// anything else as-is so that ValidateStates can reject it.
type Element any

// StateElements wraps states as boundary elements.
func StateElements(states []*State) []Element {
	out := make([]Element, len(states))
	for i, s := range states {
		out[i] = s
	}
	return out
}

// ValidateStates checks that every element is a single State exposing a
// settable bias factor, and returns them typed. The first violation is
// returned as a *ProtocolShapeError; nothing is flattened or coerced.
func ValidateStates(role Role, elems []Element) ([]*State, error) {
	states := make([]*State, len(elems))
	for i, e := range elems {
		switch v := e.(type) {
		case *State:
			if v == nil {
				return nil, &ProtocolShapeError{Role: role, Index: i, Observed: "*remd.State(nil)",
					Reason: "no settable bias factor"}
			}
			states[i] = v
		case []*State:
			inner := make([]Element, len(v))
			for j := range v {
				inner[j] = v[j]
			}
			return nil, nestedShapeError(role, i, e, inner)
		case []Element:
			return nil, nestedShapeError(role, i, e, v)
		case []any:
			inner := make([]Element, len(v))
			for j := range v {
				inner[j] = v[j]
			}
			return nil, nestedShapeError(role, i, e, inner)
		default:
			if rv := reflect.ValueOf(e); rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
				return nil, &ProtocolShapeError{Role: role, Index: i, Observed: typeName(e), Nested: true, Len: rv.Len()}
			}
			return nil, &ProtocolShapeError{Role: role, Index: i, Observed: typeName(e),
				Reason: "no settable bias factor"}
		}
	}
	return states, nil
}

// ValidateAlphas checks that one bias factor was received per state.
func ValidateAlphas(role Role, states []*State, alphas []float64) error {
	if len(alphas) == len(states) {
		return nil
	}
	idx := min(len(alphas), len(states))
	return &ProtocolShapeError{Role: role, Index: idx, Observed: "[]float64",
		Reason: fmt.Sprintf("received %d bias factors for %d states", len(alphas), len(states))}
}

func nestedShapeError(role Role, idx int, e Element, inner []Element) *ProtocolShapeError {
	sample := inner[:min(4, len(inner))]
	types := make([]string, len(sample))
	for j, x := range sample {
		types[j] = typeName(x)
	}
	return &ProtocolShapeError{Role: role, Index: idx, Observed: typeName(e), Nested: true,
		Len: len(inner), InnerTypes: types}
}

func typeName(e any) string {
	if e == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", e)
}
