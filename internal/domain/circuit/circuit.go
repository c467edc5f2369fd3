// Package circuit contains the circuit status records shown on the dashboard
// and the validated decode step for the status payload.
package circuit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RTT is a round-trip-time value exactly as the status endpoint reported it.
// The endpoint may send a JSON number or a JSON string; both are kept verbatim.
type RTT struct {
	text   string
	quoted bool
}

// NumberRTT builds an RTT from a millisecond value.
func NumberRTT(ms float64) RTT {
	return RTT{text: strconv.FormatFloat(ms, 'f', -1, 64)}
}

// TextRTT builds an RTT from free text such as "pending" or "85ms".
func TextRTT(s string) RTT {
	return RTT{text: s, quoted: true}
}

// String returns the display text.
func (r RTT) String() string { return r.text }

// IsZero reports whether no value was set.
func (r RTT) IsZero() bool { return r.text == "" && !r.quoted }

// Millis interprets the value as milliseconds. Plain numbers are taken as
// milliseconds; strings may also carry a Go duration ("85ms", "1.2s").
func (r RTT) Millis() (float64, bool) {
	s := strings.TrimSpace(r.text)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if d, err := time.ParseDuration(s); err == nil {
		return float64(d) / float64(time.Millisecond), true
	}
	return 0, false
}

// MarshalJSON writes the value back in the shape it arrived in.
func (r RTT) MarshalJSON() ([]byte, error) {
	if r.quoted {
		return json.Marshal(r.text)
	}
	if r.text == "" {
		return []byte("null"), nil
	}
	return []byte(r.text), nil
}

// UnmarshalJSON accepts a JSON number or string. null leaves r untouched;
// anything else is malformed.
func (r *RTT) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("%w: empty rtt", ErrMalformed)
	}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: rtt: %v", ErrMalformed, err)
		}
		*r = RTT{text: s, quoted: true}
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("%w: rtt: %v", ErrMalformed, err)
		}
		*r = RTT{text: n.String()}
		return nil
	default:
		return fmt.Errorf("%w: rtt must be a number or string, got %s", ErrMalformed, truncate(b))
	}
}

// Circuit is one displayed record. It has no identity beyond its position.
type Circuit struct {
	Ordinal int `json:"ordinal"`
	RTT     RTT `json:"rtt"`
}

// Label is the card heading, e.g. "Circuit #1".
func (c Circuit) Label() string {
	return "Circuit #" + strconv.Itoa(c.Ordinal)
}

// Status is a decoded status payload. Circuits keeps the order of the payload.
type Status struct {
	Circuits []Circuit
}

// RTTs maps ordinals to milliseconds for the circuits with a numeric RTT.
func (s Status) RTTs() map[int]float64 {
	out := make(map[int]float64, len(s.Circuits))
	for _, c := range s.Circuits {
		if ms, ok := c.RTT.Millis(); ok {
			out[c.Ordinal] = ms
		}
	}
	return out
}

func truncate(b []byte) string {
	const maxLen = 32
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}
