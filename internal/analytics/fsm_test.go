package analytics

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()

	th := Thresholds{Cold: 15.0, Hot: 30.0}

	cases := []struct {
		avg  float64
		want State
	}{
		{10.0, StateTooCold},
		{14.99, StateTooCold},
		{15.0, StateNormal},
		{22.5, StateNormal},
		{30.0, StateNormal},
		{30.01, StateTooHot},
		{99.0, StateTooHot},
	}

	for _, tc := range cases {
		if got := classify(tc.avg, th); got != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.avg, got, tc.want)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		old        State
		next       State
		wantAction Action
		wantChange bool
	}{
		{StateNormal, StateNormal, ActionNone, false},
		{StateTooCold, StateTooCold, ActionNone, false},
		{StateTooHot, StateTooHot, ActionNone, false},
		{StateNormal, StateTooHot, ActionWarnTooHot, true},
		{StateNormal, StateTooCold, ActionWarnTooCold, true},
		{StateTooHot, StateNormal, ActionInfoNormal, true},
		{StateTooCold, StateNormal, ActionInfoNormal, true},
		{StateTooHot, StateTooCold, ActionWarnTooCold, true},
		{StateTooCold, StateTooHot, ActionWarnTooHot, true},
	}

	for _, tc := range cases {
		action, changed := transition(tc.old, tc.next)
		if action != tc.wantAction || changed != tc.wantChange {
			t.Errorf("transition(%v, %v) = (%v, %v), want (%v, %v)",
				tc.old, tc.next, action, changed, tc.wantAction, tc.wantChange)
		}
	}
}
