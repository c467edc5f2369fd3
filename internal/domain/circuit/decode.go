package circuit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors for this package.
var (
	ErrMalformed = errors.New("malformed status payload")
)

// maxPayloadBytes bounds how much of a status body is read.
const maxPayloadBytes = 4 << 20

type wireStatus struct {
	Circuits *[]json.RawMessage `json:"circuits"`
}

type wireCircuit struct {
	RTT *json.RawMessage `json:"rtt"`
}

// Decode validates and decodes a status payload of the form
// {"circuits":[{"rtt":<number-or-string>}, ...]}.
//
// A missing or null "circuits" key, a non-object body, or an element without a
// usable rtt yields ErrMalformed. An empty array is a valid, empty status.
func Decode(r io.Reader) (Status, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxPayloadBytes+1))
	if err != nil {
		return Status{}, fmt.Errorf("read status body: %w", err)
	}
	if len(body) > maxPayloadBytes {
		return Status{}, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformed, maxPayloadBytes)
	}
	return DecodeBytes(body)
}

// DecodeBytes is Decode over an in-memory body.
func DecodeBytes(body []byte) (Status, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Status{}, fmt.Errorf("%w: body is not a JSON object", ErrMalformed)
	}

	var ws wireStatus
	if err := json.Unmarshal(trimmed, &ws); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ws.Circuits == nil {
		return Status{}, fmt.Errorf("%w: missing circuits", ErrMalformed)
	}

	raw := *ws.Circuits
	out := Status{Circuits: make([]Circuit, 0, len(raw))}
	for i, elem := range raw {
		c, err := decodeCircuit(elem)
		if err != nil {
			return Status{}, fmt.Errorf("circuits[%d]: %w", i, err)
		}
		c.Ordinal = i + 1
		out.Circuits = append(out.Circuits, c)
	}
	return out, nil
}

func decodeCircuit(elem json.RawMessage) (Circuit, error) {
	elem = bytes.TrimSpace(elem)
	if len(elem) == 0 || elem[0] != '{' {
		return Circuit{}, fmt.Errorf("%w: circuit is not an object", ErrMalformed)
	}
	var wc wireCircuit
	if err := json.Unmarshal(elem, &wc); err != nil {
		return Circuit{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wc.RTT == nil {
		return Circuit{}, fmt.Errorf("%w: missing rtt", ErrMalformed)
	}
	var rtt RTT
	if err := rtt.UnmarshalJSON(*wc.RTT); err != nil {
		return Circuit{}, err
	}
	if rtt.IsZero() {
		return Circuit{}, fmt.Errorf("%w: null rtt", ErrMalformed)
	}
	return Circuit{RTT: rtt}, nil
}

// Encode writes s in the status payload shape.
func Encode(w io.Writer, s Status) error {
	type wireOut struct {
		RTT RTT `json:"rtt"`
	}
	out := struct {
		Circuits []wireOut `json:"circuits"`
	}{Circuits: make([]wireOut, 0, len(s.Circuits))}
	for _, c := range s.Circuits {
		out.Circuits = append(out.Circuits, wireOut{RTT: c.RTT})
	}
	return json.NewEncoder(w).Encode(out)
}
