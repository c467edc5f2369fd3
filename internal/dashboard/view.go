// Package dashboard keeps the circuit status view up to date by polling the
// status endpoint, and renders that view as HTML or text.
package dashboard

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/torturbo/internal/domain/circuit"
)

// State describes what the view currently holds.
type State string

const (
	// StatePending means no response has been applied yet.
	StatePending State = "pending"
	// StateReady means the latest applied response was a valid payload.
	StateReady State = "ready"
	// StateFailed means the latest applied response was an error.
	StateFailed State = "failed"
)

// View is the single piece of display state. It is replaced as a whole on
// every applied response and never merged.
type View struct {
	State     State
	Circuits  []circuit.Circuit // nil unless State is StateReady
	Err       error
	RequestID string
	Seq       uint64
	UpdatedAt time.Time
}

// ShowPlaceholder reports whether the view renders as the loading placeholder.
// Failures render the same way as "no data yet".
func (v View) ShowPlaceholder() bool {
	return v.State != StateReady
}

// ErrorText returns the error message or "".
func (v View) ErrorText() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// Fingerprint hashes what the view displays. Views that differ only in
// request id or time share a fingerprint.
func (v View) Fingerprint() string {
	d := xxhash.New()
	_, _ = d.WriteString(string(v.State))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(v.ErrorText())
	for _, c := range v.Circuits {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.Itoa(c.Ordinal))
		_, _ = d.WriteString("=")
		raw, err := c.RTT.MarshalJSON()
		if err != nil {
			raw = []byte(c.RTT.String())
		}
		_, _ = d.Write(raw)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// clone returns a copy whose circuit slice does not alias v.
func (v View) clone() View {
	if v.Circuits != nil {
		cs := make([]circuit.Circuit, len(v.Circuits))
		copy(cs, v.Circuits)
		v.Circuits = cs
	}
	return v
}

func pendingView() View {
	return View{State: StatePending}
}
