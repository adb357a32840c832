package policy

import (
	"testing"
	"time"
)

func TestPasses(t *testing.T) {
	cases := []struct {
		name   string
		action Action
		agree  int
		total  int
		pass   bool
	}{
		{name: "boot 2 of 5", action: ActionBoot, agree: 2, total: 5, pass: true},
		{name: "boot 1 of 5", action: ActionBoot, agree: 1, total: 5, pass: false},
		{name: "lock with one other declining", action: ActionLock, agree: 0, total: 2, pass: false},
		{name: "lock with one other agreeing", action: ActionLock, agree: 1, total: 2, pass: true},
		{name: "unlock 2 of 4", action: ActionUnlock, agree: 2, total: 4, pass: false},
		{name: "unlock 3 of 4", action: ActionUnlock, agree: 3, total: 4, pass: true},
		{name: "setmax 1 of 3", action: ActionSetMax, agree: 1, total: 3, pass: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Passes(tc.action, tc.agree, tc.total); got != tc.pass {
				t.Fatalf("Passes(%q, %d, %d) = %v, want %v", tc.action, tc.agree, tc.total, got, tc.pass)
			}
		})
	}
}

func TestSkipsVote(t *testing.T) {
	cases := []struct {
		name      string
		action    Action
		occupants int
		humans    int
		skip      bool
	}{
		{name: "setmax alone", action: ActionSetMax, occupants: 1, humans: 1, skip: true},
		{name: "setmax with bot", action: ActionSetMax, occupants: 2, humans: 1, skip: false},
		{name: "setvad alone", action: ActionSetVAD, occupants: 1, humans: 1, skip: true},
		{name: "unlock with bot", action: ActionUnlock, occupants: 2, humans: 1, skip: true},
		{name: "unlock with company", action: ActionUnlock, occupants: 2, humans: 2, skip: false},
		{name: "boot never", action: ActionBoot, occupants: 1, humans: 1, skip: false},
		{name: "lock never", action: ActionLock, occupants: 1, humans: 1, skip: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SkipsVote(tc.action, tc.occupants, tc.humans); got != tc.skip {
				t.Fatalf("SkipsVote(%q, %d, %d) = %v, want %v", tc.action, tc.occupants, tc.humans, got, tc.skip)
			}
		})
	}
}

func TestVoteDuration(t *testing.T) {
	if got := VoteDuration(ActionUnlock, 10*time.Second); got != 30*time.Second {
		t.Fatalf("unlock duration = %s", got)
	}
	if got := VoteDuration(ActionBoot, 10*time.Second); got != 10*time.Second {
		t.Fatalf("boot duration = %s", got)
	}
}
