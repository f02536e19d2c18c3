package lifecycle

import (
	"testing"
)

var allStates = []State{
	StateUnknown, StateStarting, StateRunning,
	StateStopping, StateStopped, StateFailed,
}

func TestState_String(t *testing.T) {
	for _, s := range allStates {
		if got := s.String(); got != string(s) {
			t.Errorf("State.String() = %q, want %q", got, string(s))
		}
	}
}

func TestState_Valid(t *testing.T) {
	for _, s := range allStates {
		if !s.Valid() {
			t.Errorf("State(%q).Valid() = false, want true", s)
		}
	}
	for _, s := range []State{"", "bogus", "RUNNING", "paused"} {
		if s.Valid() {
			t.Errorf("State(%q).Valid() = true, want false", s)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range allStates {
		want := s == StateStopped || s == StateFailed
		if got := s.IsTerminal(); got != want {
			t.Errorf("State(%q).IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

// ===========================================================================
// ValidTransition Tests
// ===========================================================================

func TestValidTransition_AllValid(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{StateUnknown, StateStarting},
		{StateUnknown, StateFailed},
		{StateStarting, StateRunning},
		{StateStarting, StateFailed},
		{StateStarting, StateStopping},
		{StateRunning, StateStopping},
		{StateRunning, StateFailed},
		{StateStopping, StateStopped},
		{StateStopping, StateFailed},
		{StateStopped, StateStarting},
		{StateFailed, StateStarting},
	}
	for _, tt := range tests {
		name := string(tt.from) + "_to_" + string(tt.to)
		t.Run(name, func(t *testing.T) {
			if !ValidTransition(tt.from, tt.to) {
				t.Errorf("ValidTransition(%q, %q) = false, want true", tt.from, tt.to)
			}
		})
	}
}

func TestValidTransition_Invalid(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{StateUnknown, StateRunning},
		{StateRunning, StateStarting},
		{StateStopped, StateRunning},
		{StateStopping, StateRunning},
		{StateFailed, StateRunning},
		{StateUnknown, StateStopped},
		{StateStopped, StateStopping},
		{State("nonexistent"), StateStarting},
	}
	for _, tt := range tests {
		name := string(tt.from) + "_to_" + string(tt.to)
		t.Run(name, func(t *testing.T) {
			if ValidTransition(tt.from, tt.to) {
				t.Errorf("ValidTransition(%q, %q) = true, want false", tt.from, tt.to)
			}
		})
	}
}

func TestValidTransition_SameState(t *testing.T) {
	for _, s := range allStates {
		if ValidTransition(s, s) {
			t.Errorf("ValidTransition(%q, %q) = true, want false", s, s)
		}
	}
}
