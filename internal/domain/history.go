package domain

import "fmt"

// History is an append/truncate-only sequence of states with a cursor.
// The zero value is not usable; use NewHistory.
type History struct {
	states []DocState
	cursor int
}

// NewHistory starts a history at initial.
func NewHistory(initial DocState) *History {
	return &History{states: []DocState{initial}}
}

// RestoreHistory rebuilds a history from persisted states and cursor.
func RestoreHistory(states []DocState, cursor int) (*History, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("restore history: empty")
	}
	if cursor < 0 || cursor >= len(states) {
		return nil, fmt.Errorf("restore history: cursor %d out of range [0,%d)", cursor, len(states))
	}
	cp := make([]DocState, len(states))
	copy(cp, states)
	return &History{states: cp, cursor: cursor}, nil
}

// Current returns the state under the cursor.
func (h *History) Current() DocState {
	return h.states[h.cursor]
}

// Cursor returns the cursor index.
func (h *History) Cursor() int {
	return h.cursor
}

// Len returns the number of states.
func (h *History) Len() int {
	return len(h.states)
}

// States returns a copy of every state, oldest first.
func (h *History) States() []DocState {
	cp := make([]DocState, len(h.states))
	copy(cp, h.states)
	return cp
}

// Push appends s after the cursor, dropping the redo tail. It reports false
// and changes nothing when s equals the current state.
func (h *History) Push(s DocState) bool {
	if s.Equal(h.Current()) {
		return false
	}
	h.states = append(h.states[:h.cursor+1:h.cursor+1], s)
	h.cursor = len(h.states) - 1
	return true
}

// Undo moves the cursor back; false at the start of history.
func (h *History) Undo() bool {
	if h.cursor == 0 {
		return false
	}
	h.cursor--
	return true
}

// Redo moves the cursor forward; false at the end of history.
func (h *History) Redo() bool {
	if h.cursor+1 >= len(h.states) {
		return false
	}
	h.cursor++
	return true
}

// Clone returns an independent copy.
func (h *History) Clone() *History {
	return &History{states: h.States(), cursor: h.cursor}
}

// LiveAssets returns the distinct asset ids referenced anywhere in h.
func (h *History) LiveAssets() []AssetID {
	return LiveAssets(h.states)
}
