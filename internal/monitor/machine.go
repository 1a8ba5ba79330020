// Package monitor debounces per-tick call detection into recording
// start and stop decisions.
package monitor

import (
	"fmt"

	"github.com/petems/focusnote/internal/detect"
)

type Phase int

const (
	Idle Phase = iota
	Confirming
	Recording
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Confirming:
		return "confirming"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ResetPolicy decides what a missed tick does to the confirmation counter.
type ResetPolicy int

const (
	// ResetOnMiss clears the counter and returns to Idle.
	ResetOnMiss ResetPolicy = iota
	// DecayOnMiss takes one tick off the counter and returns to Idle at zero.
	DecayOnMiss
)

func (p ResetPolicy) String() string {
	if p == DecayOnMiss {
		return "decay"
	}
	return "reset"
}

func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch s {
	case "", "reset":
		return ResetOnMiss, nil
	case "decay":
		return DecayOnMiss, nil
	default:
		return ResetOnMiss, fmt.Errorf("unknown reset policy %q", s)
	}
}

// CallState is the machine's only mutable record. Owner is set only while
// Recording; Candidate is the platform last seen while Confirming.
type CallState struct {
	Phase         Phase           `json:"phase"`
	Owner         detect.Platform `json:"owner,omitempty"`
	Candidate     detect.Platform `json:"candidate,omitempty"`
	ActiveTicks   int             `json:"active_ticks"`
	InactiveTicks int             `json:"inactive_ticks"`
}

type Action int

const (
	None Action = iota
	StartRecording
	StopRecording
)

func (a Action) String() string {
	switch a {
	case StartRecording:
		return "start"
	case StopRecording:
		return "stop"
	default:
		return "none"
	}
}

// Transition is the outcome of one Step.
type Transition struct {
	From     Phase
	To       Phase
	Action   Action
	Platform detect.Platform
}

// Machine is not safe for concurrent use; the monitor owns it.
type Machine struct {
	confirm  int
	inactive int
	policy   ResetPolicy
	state    CallState
}

func NewMachine(confirmTicks, inactiveTicks int, policy ResetPolicy) *Machine {
	if confirmTicks < 1 {
		confirmTicks = 1
	}
	if inactiveTicks < 1 {
		inactiveTicks = 1
	}
	return &Machine{confirm: confirmTicks, inactive: inactiveTicks, policy: policy}
}

func (m *Machine) State() CallState { return m.state }

// Step advances the machine by one tick.
func (m *Machine) Step(snap detect.Snapshot) Transition {
	from := m.state.Phase

	switch from {
	case Recording:
		if snap.Active(m.state.Owner) {
			m.state.InactiveTicks = 0
			return Transition{From: from, To: Recording, Platform: m.state.Owner}
		}
		m.state.InactiveTicks++
		if m.state.InactiveTicks < m.inactive {
			return Transition{From: from, To: Recording, Platform: m.state.Owner}
		}
		owner := m.state.Owner
		m.state = CallState{}
		return Transition{From: from, To: Idle, Action: StopRecording, Platform: owner}

	default:
		winner, ok := snap.Winner()
		if !ok {
			m.miss()
			return Transition{From: from, To: m.state.Phase}
		}

		m.state.Phase = Confirming
		m.state.Candidate = winner
		m.state.ActiveTicks++
		m.state.InactiveTicks = 0
		if m.state.ActiveTicks < m.confirm {
			return Transition{From: from, To: Confirming, Platform: winner}
		}

		m.state = CallState{Phase: Recording, Owner: winner}
		return Transition{From: from, To: Recording, Action: StartRecording, Platform: winner}
	}
}

func (m *Machine) miss() {
	if m.state.Phase != Confirming || m.policy == ResetOnMiss {
		m.state = CallState{}
		return
	}
	m.state.ActiveTicks--
	if m.state.ActiveTicks <= 0 {
		m.state = CallState{}
	}
}

// Abort returns the machine to Idle. The monitor calls it when a recording
// failed to start or ended on its own.
func (m *Machine) Abort() {
	m.state = CallState{}
}
