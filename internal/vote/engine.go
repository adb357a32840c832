package vote

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roompool/bot/internal/clock"
	"roompool/bot/internal/platform"
)

// Messenger is the messaging transport a poll runs over.
type Messenger interface {
	Post(ctx context.Context, channel platform.ChannelID, content string) (platform.Message, error)
	AttachSignal(ctx context.Context, msg platform.Message, token string) error
	// Signals subscribes to reactions on msg until cancel is called.
	Signals(msg platform.Message) (<-chan platform.Signal, func())
	DeleteMessage(ctx context.Context, msg platform.Message) error
}

type Config struct {
	Duration time.Duration
	Clock    clock.Clock
	// Mention renders a voter reference in the prompt.
	Mention func(platform.UserID) string
	Logger  *slog.Logger
}

type Engine struct {
	messenger Messenger
	clock     clock.Clock
	duration  time.Duration
	mention   func(platform.UserID) string
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Session is a live or finished poll.
type Session struct {
	ID       string
	Resource string
	Subject  string
	Deadline time.Time

	abortOnce sync.Once
	abort     chan struct{}
	done      chan struct{}
	results   Results
}

// SessionInfo is a point-in-time view of a live session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Resource string    `json:"resource"`
	Subject  string    `json:"subject"`
	Deadline time.Time `json:"deadline"`
}

func New(messenger Messenger, cfg Config) *Engine {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Mention == nil {
		cfg.Mention = platform.Mention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		messenger: messenger,
		clock:     cfg.Clock,
		duration:  cfg.Duration,
		mention:   cfg.Mention,
		logger:    cfg.Logger,
		sessions:  make(map[string]*Session),
	}
}

// Start opens a poll and returns without waiting for it. It fails with
// ErrVotePending, before anything is posted, when the resource already
// has a live poll.
func (e *Engine) Start(ctx context.Context, b Ballot) (*Session, error) {
	if b.Resource == "" || b.Channel == "" {
		return nil, fmt.Errorf("%w: resource and channel are required", ErrInvalid)
	}
	if len(b.Selections) == 0 {
		b.Selections = DefaultSelections
	}
	if b.Duration <= 0 {
		b.Duration = e.duration
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if _, busy := e.sessions[b.Resource]; busy {
		e.mu.Unlock()
		return nil, ErrVotePending
	}
	s := &Session{
		ID:       uuid.NewString(),
		Resource: b.Resource,
		Subject:  b.Subject,
		Deadline: e.clock.Now().Add(b.Duration),
		abort:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.sessions[b.Resource] = s
	e.mu.Unlock()

	e.logger.Debug("vote: started", "session", s.ID, "resource", b.Resource, "voters", len(b.Voters))
	go e.run(context.WithoutCancel(ctx), s, b)
	return s, nil
}

// Run opens a poll and blocks until it closes. Cancelling ctx aborts it.
func (e *Engine) Run(ctx context.Context, b Ballot) (Results, error) {
	s, err := e.Start(ctx, b)
	if err != nil {
		return Results{}, err
	}
	return s.Wait(ctx)
}

// Wait blocks until the session closes. If ctx ends first the session is
// aborted and its (expired) results are still returned.
func (s *Session) Wait(ctx context.Context) (Results, error) {
	select {
	case <-s.done:
		return s.results, nil
	case <-ctx.Done():
		s.stop()
		<-s.done
		return s.results, ctx.Err()
	}
}

// Done is closed once the session has resolved or expired.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) stop() {
	s.abortOnce.Do(func() { close(s.abort) })
}

// Abort ends the live poll for resource early as expired. It reports
// whether there was one.
func (e *Engine) Abort(resource string) bool {
	e.mu.Lock()
	s := e.sessions[resource]
	e.mu.Unlock()
	if s == nil {
		return false
	}
	s.stop()
	e.logger.Debug("vote: aborted", "session", s.ID, "resource", resource)
	return true
}

// Pending lists live sessions ordered by deadline.
func (e *Engine) Pending() []SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SessionInfo, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, SessionInfo{ID: s.ID, Resource: s.Resource, Subject: s.Subject, Deadline: s.Deadline})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

// Close aborts every live poll, waits for them to finish and refuses new
// ones.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.stop()
		<-s.done
	}
}

func (e *Engine) run(ctx context.Context, s *Session, b Ballot) {
	msg, err := e.messenger.Post(ctx, b.Channel, e.prompt(b))
	if err != nil {
		e.logger.Warn("vote: post prompt", "session", s.ID, "channel", b.Channel, "err", err)
		e.finish(s, Results{State: StateExpired, Counts: map[string]int{}, Voters: map[string][]platform.UserID{}})
		return
	}

	signals, cancel := e.messenger.Signals(msg)
	defer cancel()

	for _, token := range b.Selections {
		if err := e.messenger.AttachSignal(ctx, msg, token); err != nil {
			e.logger.Warn("vote: attach selection", "session", s.ID, "token", token, "err", err)
		}
	}

	expired := make(chan struct{})
	timer := e.clock.AfterFunc(b.Duration, func() { close(expired) })
	defer timer.Stop()

	tally := newTally(b)
	state := StateOpen
	for state == StateOpen {
		select {
		case <-expired:
			state = StateExpired
		case <-s.abort:
			state = StateExpired
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if sig.Message != msg.ID || !tally.add(sig) {
				continue
			}
			if b.StopWhen != nil && b.StopWhen(tally.results(StateOpen)) {
				state = StateResolved
			}
		}
	}

	if err := e.messenger.DeleteMessage(ctx, msg); err != nil {
		e.logger.Debug("vote: delete prompt", "session", s.ID, "err", err)
	}
	results := tally.results(state)
	e.logger.Info("vote: closed", "session", s.ID, "resource", s.Resource, "state", state, "counts", results.Counts)
	e.finish(s, results)
}

// finish releases the resource before waking waiters so a caller that
// reacts to the result can start the next poll at once.
func (e *Engine) finish(s *Session, results Results) {
	e.mu.Lock()
	if e.sessions[s.Resource] == s {
		delete(e.sessions, s.Resource)
	}
	e.mu.Unlock()

	s.results = results
	close(s.done)
}

func (e *Engine) prompt(b Ballot) string {
	if len(b.Voters) == 0 {
		return b.Subject
	}
	mentions := make([]string, len(b.Voters))
	for i, id := range b.Voters {
		mentions[i] = e.mention(id)
	}
	return strings.Join(mentions, " ") + "\n\n" + b.Subject
}

type tally struct {
	selections []string
	allowed    map[platform.UserID]bool
	seen       map[string]map[platform.UserID]bool
	order      map[string][]platform.UserID
}

func newTally(b Ballot) *tally {
	t := &tally{
		selections: b.Selections,
		seen:       make(map[string]map[platform.UserID]bool, len(b.Selections)),
		order:      make(map[string][]platform.UserID, len(b.Selections)),
	}
	for _, token := range b.Selections {
		t.seen[token] = map[platform.UserID]bool{}
	}
	if b.Voters != nil {
		t.allowed = make(map[platform.UserID]bool, len(b.Voters))
		for _, id := range b.Voters {
			t.allowed[id] = true
		}
	}
	return t
}

// add records sig and reports whether it changed the tally.
func (t *tally) add(sig platform.Signal) bool {
	voters, ok := t.seen[sig.Token]
	if !ok || sig.Bot {
		return false
	}
	if t.allowed != nil && !t.allowed[sig.Actor] {
		return false
	}
	if voters[sig.Actor] {
		return false
	}
	voters[sig.Actor] = true
	t.order[sig.Token] = append(t.order[sig.Token], sig.Actor)
	return true
}

func (t *tally) results(state State) Results {
	r := Results{
		State:  state,
		Counts: make(map[string]int, len(t.selections)),
		Voters: make(map[string][]platform.UserID, len(t.selections)),
	}
	for _, token := range t.selections {
		r.Counts[token] = len(t.order[token])
		r.Voters[token] = append([]platform.UserID(nil), t.order[token]...)
	}
	return r
}
