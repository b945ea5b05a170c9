package payment

import "testing"

func TestAttemptTransitions(t *testing.T) {
	tests := []struct {
		name        string
		state       State
		provisional bool
		next        State
		want        bool
	}{
		{"initiated to callback", StateInitiated, false, StateCallbackReceived, true},
		{"initiated to success via sweep", StateInitiated, false, StateSuccess, true},
		{"initiated to ambiguous", StateInitiated, false, StateAmbiguous, true},
		{"callback to success", StateCallbackReceived, false, StateSuccess, true},
		{"callback to initiated", StateCallbackReceived, false, StateInitiated, false},
		{"ambiguous to success", StateAmbiguous, false, StateSuccess, true},
		{"success is terminal", StateSuccess, false, StateFailed, false},
		{"failed is terminal", StateFailed, false, StateSuccess, false},
		{"provisional failure settles late", StateFailed, true, StateSuccess, true},
		{"provisional failure confirmed", StateFailed, true, StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Attempt{State: tt.state, Provisional: tt.provisional}
			if got := a.CanTransition(tt.next); got != tt.want {
				t.Errorf("CanTransition(%s): got %v, want %v", tt.next, got, tt.want)
			}
		})
	}
}

func TestAttemptNeedsSweep(t *testing.T) {
	for _, a := range []*Attempt{
		{State: StateInitiated},
		{State: StateCallbackReceived},
		{State: StateAmbiguous},
		{State: StateFailed, Provisional: true},
	} {
		if !a.NeedsSweep() {
			t.Errorf("%s (provisional=%v) should need a sweep", a.State, a.Provisional)
		}
	}
	for _, a := range []*Attempt{{State: StateSuccess}, {State: StateFailed}} {
		if a.NeedsSweep() {
			t.Errorf("%s should not need a sweep", a.State)
		}
	}
}
