// Package vote runs time-boxed reaction polls among room occupants.
//
// At most one poll is live per resource. A poll posts a prompt, attaches
// one reaction per selection and counts distinct eligible reactors per
// selection until its deadline, an optional early-stop condition, or an
// abort. What the counts mean is up to the caller; Majority and
// StrictMajority are the two rules the commands use.
package vote

import (
	"errors"
	"time"

	"roompool/bot/internal/platform"
)

const (
	Agree    = "✅"
	Disagree = "❌"

	DefaultDuration = 120 * time.Second
)

// DefaultSelections are offered when a ballot names none.
var DefaultSelections = []string{Agree, Disagree}

var (
	ErrVotePending = errors.New("vote: a vote is already pending for this resource")
	ErrClosed      = errors.New("vote: engine closed")
	ErrInvalid     = errors.New("vote: invalid ballot")
)

type State string

const (
	StateOpen     State = "OPEN"
	StateResolved State = "RESOLVED"
	StateExpired  State = "EXPIRED"
)

// Ballot describes one poll.
type Ballot struct {
	// Resource identifies what the poll is about; only one poll per
	// resource can be live.
	Resource string
	Channel  platform.ChannelID
	Subject  string
	// Voters limits who is counted. Nil counts every non-bot reactor.
	Voters     []platform.UserID
	Selections []string
	// Duration defaults to the engine's configured duration.
	Duration time.Duration
	// StopWhen, when set, ends the poll as soon as it returns true.
	StopWhen func(Results) bool
}

// Results holds the distinct voters per selection.
type Results struct {
	State  State                        `json:"state"`
	Counts map[string]int               `json:"counts"`
	Voters map[string][]platform.UserID `json:"voters"`
}

// Count returns the number of distinct voters for selection.
func (r Results) Count(selection string) int {
	return r.Counts[selection]
}

// Majority is the rule for commands that count the invoker as an implicit
// yes: (agree+1)/total > 1/2.
func Majority(agree, total int) bool {
	return 2*(agree+1) > total
}

// StrictMajority requires more than half of total to agree outright.
func StrictMajority(agree, total int) bool {
	return agree >= total/2+1
}
