package domain

import "fmt"

// TxState is a stage of a production transaction. Each transaction passes
// through the states once; COMMITTED and ABORTED are terminal.
type TxState string

const (
	StateResolving  TxState = "RESOLVING"
	StateLocking    TxState = "LOCKING"
	StateEvaluating TxState = "EVALUATING"
	StateDeducting  TxState = "DEDUCTING"
	StateRecording  TxState = "RECORDING"
	StateTriggering TxState = "TRIGGERING"
	StateCommitted  TxState = "COMMITTED"
	StateAborted    TxState = "ABORTED"
)

var transitions = map[TxState][]TxState{
	StateResolving:  {StateLocking},
	StateLocking:    {StateEvaluating},
	StateEvaluating: {StateDeducting},
	StateDeducting:  {StateRecording},
	StateRecording:  {StateTriggering},
	StateTriggering: {StateCommitted},
}

func (s TxState) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// CanTransition reports whether next may follow s. Any non-terminal state
// may abort.
func (s TxState) CanTransition(next TxState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateAborted {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StateMachine tracks a single transaction's progress.
type StateMachine struct {
	current TxState
	history []TxState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateResolving, history: []TxState{StateResolving}}
}

func (m *StateMachine) Current() TxState {
	return m.current
}

func (m *StateMachine) History() []TxState {
	out := make([]TxState, len(m.history))
	copy(out, m.history)
	return out
}

func (m *StateMachine) Advance(next TxState) error {
	if !m.current.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", m.current, next)
	}
	m.current = next
	m.history = append(m.history, next)
	return nil
}

// Abort moves to ABORTED unless already terminal.
func (m *StateMachine) Abort() {
	if m.current.Terminal() {
		return
	}
	m.current = StateAborted
	m.history = append(m.history, StateAborted)
}
