// Package parse implements a streaming marker-driven state machine used to
// split raw terminal output into command and output regions without ever
// delaying or altering the bytes shown to the user.
package parse

import (
	"bytes"

	"github.com/m4xw311/conch/errors"
)

// State names a parser state. The shell layer defines its own set.
type State string

// Event labels a state change so callers can tell which marker fired
// without caring about the marker bytes themselves.
type Event string

// Transition moves the machine from its current state to Next when Marker
// is found in the stream, emitting Event.
type Transition struct {
	Marker string
	Next   State
	Event  Event
}

// Step is one emission from the machine: either content bytes attributed to
// the state they were read under, or a state change.
type Step struct {
	Change bool
	Event  Event  // set when Change is true
	State  State  // state the content belongs to
	Bytes  []byte // content; nil for state changes
}

// Machine is a streaming byte classifier. It scans input for the markers
// registered against the current state, emits everything before a match as
// content of that state, and switches states on the match. Bytes that could
// still turn out to be the beginning of a marker are withheld until more
// input resolves them, so marker fragments never leak into content.
type Machine struct {
	state       State
	transitions map[State][]Transition
	buf         []byte
	// maxPending bounds the withheld tail at the longest registered marker;
	// a candidate prefix can never be longer than that, so anything past it
	// is flushed as plain content.
	maxPending int
}

// NewMachine builds a machine starting in start. It fails if any marker is
// empty or if the same marker is registered twice from one state, since two
// equal markers matching at the same offset would have no defined winner.
func NewMachine(start State, transitions map[State][]Transition) (*Machine, error) {
	longest := 0
	for state, trs := range transitions {
		seen := make(map[string]bool, len(trs))
		for _, tr := range trs {
			if tr.Marker == "" {
				return nil, errors.Kindf(errors.KindParse, "state %q: empty marker", state)
			}
			if seen[tr.Marker] {
				return nil, errors.Kindf(errors.KindParse, "state %q: marker %q registered twice", state, tr.Marker)
			}
			seen[tr.Marker] = true
			if len(tr.Marker) > longest {
				longest = len(tr.Marker)
			}
		}
	}
	return &Machine{
		state:       start,
		transitions: transitions,
		maxPending:  longest,
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Pending returns how many bytes are currently withheld as a possible
// marker prefix.
func (m *Machine) Pending() int {
	return len(m.buf)
}

// Feed consumes one chunk and returns the steps it resolves. A single pass:
// each byte is scanned once against the current state's markers, plus a
// bounded rescan of the withheld tail carried over from the previous call.
func (m *Machine) Feed(chunk []byte) []Step {
	m.buf = append(m.buf, chunk...)

	var steps []Step
	for {
		trs := m.transitions[m.state]
		best, bestOff := m.bestMatch(trs)

		if best >= 0 {
			// A match commits only when nothing unresolved could still
			// preempt it. A marker still completing at an earlier offset
			// would win on position; one completing at the same offset
			// would win on length. Either way the tail is withheld until
			// more input confirms or rejects it, so chunk boundaries never
			// change which marker fires.
			if p, open := m.openPrefixThrough(trs, bestOff); open {
				if p > 0 {
					steps = append(steps, Step{State: m.state, Bytes: copyBytes(m.buf[:p])})
					m.consume(p)
				}
				return steps
			}
			tr := trs[best]
			if bestOff > 0 {
				steps = append(steps, Step{State: m.state, Bytes: copyBytes(m.buf[:bestOff])})
			}
			steps = append(steps, Step{Change: true, Event: tr.Event})
			m.consume(bestOff + len(tr.Marker))
			m.state = tr.Next
			continue
		}

		hold := m.pendingLen(trs)
		if emit := len(m.buf) - hold; emit > 0 {
			steps = append(steps, Step{State: m.state, Bytes: copyBytes(m.buf[:emit])})
			m.consume(emit)
		}
		return steps
	}
}

// Flush resolves the end of the stream: with no more input coming, withheld
// prefixes are rejected, so complete matches commit and the rest is emitted
// as content of the current state.
func (m *Machine) Flush() []Step {
	var steps []Step
	for len(m.buf) > 0 {
		trs := m.transitions[m.state]
		best, bestOff := m.bestMatch(trs)
		if best < 0 {
			steps = append(steps, Step{State: m.state, Bytes: copyBytes(m.buf)})
			m.buf = m.buf[:0]
			break
		}
		tr := trs[best]
		if bestOff > 0 {
			steps = append(steps, Step{State: m.state, Bytes: copyBytes(m.buf[:bestOff])})
		}
		steps = append(steps, Step{Change: true, Event: tr.Event})
		m.consume(bestOff + len(tr.Marker))
		m.state = tr.Next
	}
	return steps
}

// bestMatch finds the winning marker occurrence for the current state:
// earliest offset wins, ties on offset go to the longest marker.
// Registration order never decides.
func (m *Machine) bestMatch(trs []Transition) (int, int) {
	best, bestOff := -1, 0
	for i, tr := range trs {
		off := bytes.Index(m.buf, []byte(tr.Marker))
		if off < 0 {
			continue
		}
		if best < 0 || off < bestOff ||
			(off == bestOff && len(tr.Marker) > len(trs[best].Marker)) {
			best, bestOff = i, off
		}
	}
	return best, bestOff
}

// openPrefixThrough reports the earliest offset p, no later than limit, at
// which the buffer tail is a proper prefix of some current-state marker.
// Such a tail is neither confirmed nor rejected yet.
func (m *Machine) openPrefixThrough(trs []Transition, limit int) (int, bool) {
	start := len(m.buf) - m.maxPending + 1
	if start < 0 {
		start = 0
	}
	for p := start; p <= limit; p++ {
		tail := m.buf[p:]
		for _, tr := range trs {
			if len(tr.Marker) > len(tail) && tr.Marker[:len(tail)] == string(tail) {
				return p, true
			}
		}
	}
	return 0, false
}

// pendingLen returns the length of the longest buffer suffix that is a
// proper prefix of any marker for the current state. Bounded by the longest
// marker, so the scan below stays constant-time in practice.
func (m *Machine) pendingLen(trs []Transition) int {
	maxHold := m.maxPending - 1
	if maxHold > len(m.buf) {
		maxHold = len(m.buf)
	}
	for hold := maxHold; hold > 0; hold-- {
		tail := m.buf[len(m.buf)-hold:]
		for _, tr := range trs {
			if len(tr.Marker) > hold && tr.Marker[:hold] == string(tail) {
				return hold
			}
		}
	}
	return 0
}

func (m *Machine) consume(n int) {
	m.buf = append(m.buf[:0], m.buf[n:]...)
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
