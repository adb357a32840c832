// Package policy holds the per-command voting rules.
package policy

import (
	"time"

	"roompool/bot/internal/vote"
)

type Action string
type Rule string

const (
	ActionBoot   Action = "boot"
	ActionSetMax Action = "setmax"
	ActionLock   Action = "lock"
	ActionUnlock Action = "unlock"
	ActionSetVAD Action = "setvad"
)

const (
	// RuleMajority counts the invoker as an implicit yes.
	RuleMajority Rule = "majority"
	// RuleStrictMajority puts every human, invoker included, on the ballot.
	RuleStrictMajority Rule = "strict-majority"
)

const UnlockVoteDuration = 30 * time.Second

func RuleFor(action Action) Rule {
	switch action {
	case ActionUnlock:
		return RuleStrictMajority
	default:
		return RuleMajority
	}
}

// Passes applies the action's rule to a tally.
func Passes(action Action, agree, total int) bool {
	switch RuleFor(action) {
	case RuleStrictMajority:
		return vote.StrictMajority(agree, total)
	default:
		return vote.Majority(agree, total)
	}
}

// VoteDuration returns how long the action's vote stays open, given the
// configured command vote duration.
func VoteDuration(action Action, base time.Duration) time.Duration {
	if action == ActionUnlock {
		return UnlockVoteDuration
	}
	return base
}

// SkipsVote reports whether the action applies without a vote. occupants
// counts everyone in the room, humans only the non-bot members.
func SkipsVote(action Action, occupants, humans int) bool {
	switch action {
	case ActionSetMax, ActionSetVAD:
		return occupants <= 1
	case ActionUnlock:
		return humans <= 1
	default:
		return false
	}
}
