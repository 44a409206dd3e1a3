package comm

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/remd-sim/remd-sim/remd"
)

const kindHello = "hello"

// frame is the unit written on a TCP link. States travel as individually
// encoded elements so the receiver can tell a single state from a nested
// collection before decoding it.
type frame struct {
	Kind     string               `msgpack:"kind"`
	Rank     int                  `msgpack:"rank"`
	Elements []msgpack.RawMessage `msgpack:"elements,omitempty"`
	Alphas   []float64            `msgpack:"alphas,omitempty"`
	Energies [][]float64          `msgpack:"energies,omitempty"`
}

func encodeStates(states []*remd.State) ([]msgpack.RawMessage, error) {
	out := make([]msgpack.RawMessage, len(states))
	for i, s := range states {
		b, err := msgpack.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encoding states[%d]: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func decodeElements(raw []msgpack.RawMessage) ([]remd.Element, error) {
	out := make([]remd.Element, len(raw))
	for i, r := range raw {
		e, err := decodeElement(r)
		if err != nil {
			return nil, fmt.Errorf("decoding element %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// decodeElement decodes one element by its leading msgpack code: a map is a
// State, an array is surfaced as a nested collection, nil as a nil State,
// and anything else as the generic decoded value.
func decodeElement(raw msgpack.RawMessage) (remd.Element, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case code == msgpcode.Nil:
		return (*remd.State)(nil), nil
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		var s remd.State
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
		return &s, nil
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		var nested []*remd.State
		if err := msgpack.Unmarshal(raw, &nested); err == nil {
			return nested, nil
		}
		var generic []any
		if err := msgpack.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		return generic, nil
	default:
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
