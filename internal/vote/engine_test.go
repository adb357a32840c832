package vote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"roompool/bot/internal/clock"
	"roompool/bot/internal/platform"
)

type fakeMessenger struct {
	mu         sync.Mutex
	posts      []string
	attached   []string
	deleted    []platform.MessageID
	postErr    error
	subs       map[platform.MessageID]chan platform.Signal
	subscribed chan platform.Message
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		subs:       map[platform.MessageID]chan platform.Signal{},
		subscribed: make(chan platform.Message, 8),
	}
}

func (f *fakeMessenger) Post(_ context.Context, channel platform.ChannelID, content string) (platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return platform.Message{}, f.postErr
	}
	f.posts = append(f.posts, content)
	return platform.Message{ID: platform.MessageID("m" + string(rune('0'+len(f.posts)))), Channel: channel}, nil
}

func (f *fakeMessenger) AttachSignal(_ context.Context, _ platform.Message, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, token)
	return nil
}

func (f *fakeMessenger) Signals(msg platform.Message) (<-chan platform.Signal, func()) {
	ch := make(chan platform.Signal)
	f.mu.Lock()
	f.subs[msg.ID] = ch
	f.mu.Unlock()
	f.subscribed <- msg
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, msg.ID)
		f.mu.Unlock()
	}
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msg.ID)
	return nil
}

// react delivers a reaction and returns once the poll has received it.
func (f *fakeMessenger) react(msg platform.Message, token string, actor platform.UserID, bot bool) {
	f.mu.Lock()
	ch := f.subs[msg.ID]
	f.mu.Unlock()
	ch <- platform.Signal{Message: msg.ID, Token: token, Actor: actor, Bot: bot}
}

func (f *fakeMessenger) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func newTestEngine() (*Engine, *fakeMessenger, *clock.FakeClock) {
	fm := newFakeMessenger()
	fc := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(fm, Config{Clock: fc, Duration: 10 * time.Second}), fm, fc
}

func ballot(voters ...platform.UserID) Ballot {
	return Ballot{Resource: "room-1", Channel: "text-1", Subject: "Lock the room?", Voters: voters}
}

func TestQuorumFiveVotersTwoAgreePasses(t *testing.T) {
	e, fm, fc := newTestEngine()
	s, err := e.Start(context.Background(), ballot("u1", "u2", "u3", "u4"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	msg := <-fm.subscribed

	fm.react(msg, Agree, "u1", false)
	fm.react(msg, Agree, "u2", false)
	fm.react(msg, Disagree, "u3", false)

	fc.WaitForTimers(1)
	fc.Advance(10 * time.Second)

	res, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.State != StateExpired {
		t.Fatalf("a poll closed by its deadline should expire, state = %s", res.State)
	}
	if res.Count(Agree) != 2 || res.Count(Disagree) != 1 {
		t.Fatalf("counts = %v", res.Counts)
	}
	if !Majority(res.Count(Agree), 5) {
		t.Fatal("2 of 5 plus the invoker should pass")
	}
}

func TestQuorumFiveVotersOneAgreeFails(t *testing.T) {
	e, fm, fc := newTestEngine()
	s, _ := e.Start(context.Background(), ballot("u1", "u2", "u3", "u4"))
	msg := <-fm.subscribed

	fm.react(msg, Agree, "u1", false)
	fc.WaitForTimers(1)
	fc.Advance(10 * time.Second)

	res, _ := s.Wait(context.Background())
	if Majority(res.Count(Agree), 5) {
		t.Fatal("1 of 5 plus the invoker should fail")
	}
}

func TestSecondStartFailsWithoutPosting(t *testing.T) {
	e, fm, fc := newTestEngine()
	s, err := e.Start(context.Background(), ballot("u1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-fm.subscribed

	if _, err := e.Start(context.Background(), ballot("u1")); !errors.Is(err, ErrVotePending) {
		t.Fatalf("expected ErrVotePending, got %v", err)
	}
	if n := fm.postCount(); n != 1 {
		t.Fatalf("rejected start must not post, posts = %d", n)
	}

	fc.WaitForTimers(1)
	fc.Advance(10 * time.Second)
	_, _ = s.Wait(context.Background())

	if _, err := e.Start(context.Background(), ballot("u1")); err != nil {
		t.Fatalf("resource should be free after close: %v", err)
	}
}

func TestSignalPredicate(t *testing.T) {
	e, fm, fc := newTestEngine()
	s, _ := e.Start(context.Background(), ballot("u1", "u2"))
	msg := <-fm.subscribed

	fm.react(msg, Agree, "u1", false)
	// Ignored: a duplicate, a bot, an ineligible member, a foreign token.
	fm.react(msg, Agree, "u1", false)
	fm.react(msg, Agree, "bot", true)
	fm.react(msg, Agree, "stranger", false)
	fm.react(msg, "👍", "u2", false)
	// Counted: the same voter may pick another selection.
	fm.react(msg, Disagree, "u1", false)

	fc.WaitForTimers(1)
	fc.Advance(10 * time.Second)
	res, _ := s.Wait(context.Background())

	if res.Count(Agree) != 1 || res.Count(Disagree) != 1 {
		t.Fatalf("counts = %v", res.Counts)
	}
	if got := res.Voters[Agree]; len(got) != 1 || got[0] != "u1" {
		t.Fatalf("agree voters = %v", got)
	}
}

func TestNilVotersCountsAnyHuman(t *testing.T) {
	e, fm, fc := newTestEngine()
	b := ballot()
	b.Voters = nil
	s, _ := e.Start(context.Background(), b)
	msg := <-fm.subscribed

	fm.react(msg, Agree, "anyone", false)
	fm.react(msg, Agree, "bot", true)
	fc.WaitForTimers(1)
	fc.Advance(10 * time.Second)

	res, _ := s.Wait(context.Background())
	if res.Count(Agree) != 1 {
		t.Fatalf("counts = %v", res.Counts)
	}
}

func TestPromptMentionsVotersAndAttachesSelections(t *testing.T) {
	e, fm, fc := newTestEngine()
	s, _ := e.Start(context.Background(), ballot("u1", "u2"))
	<-fm.subscribed
	fc.WaitForTimers(1)
	fc.Advance(10 * time.Second)
	_, _ = s.Wait(context.Background())

	if want := "<@u1> <@u2>\n\nLock the room?"; fm.posts[0] != want {
		t.Fatalf("prompt = %q, want %q", fm.posts[0], want)
	}
	if strings.Join(fm.attached, "") != Agree+Disagree {
		t.Fatalf("attached = %v", fm.attached)
	}
	if len(fm.deleted) != 1 {
		t.Fatalf("prompt should be deleted at close, deleted = %v", fm.deleted)
	}
}

func TestPostFailureResolvesEmpty(t *testing.T) {
	e, fm, _ := newTestEngine()
	fm.postErr = errors.New("missing access")

	res, err := e.Run(context.Background(), ballot("u1"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateExpired || res.Count(Agree) != 0 || res.Count(Disagree) != 0 {
		t.Fatalf("expected empty expired results, got %+v", res)
	}
	if len(e.Pending()) != 0 {
		t.Fatal("registry entry should be released")
	}
}

func TestStopWhenResolvesEarly(t *testing.T) {
	e, fm, _ := newTestEngine()
	b := ballot("u1", "u2", "u3")
	b.StopWhen = func(r Results) bool { return r.Count(Agree) >= 2 }
	s, _ := e.Start(context.Background(), b)
	msg := <-fm.subscribed

	fm.react(msg, Agree, "u1", false)
	fm.react(msg, Agree, "u2", false)

	res, _ := s.Wait(context.Background())
	if res.State != StateResolved || res.Count(Agree) != 2 {
		t.Fatalf("unexpected results %+v", res)
	}
}

func TestStopWhenUnmetExpires(t *testing.T) {
	e, fm, fc := newTestEngine()
	b := ballot("u1", "u2", "u3")
	b.StopWhen = func(r Results) bool { return r.Count(Agree) >= 2 }
	s, _ := e.Start(context.Background(), b)
	<-fm.subscribed

	fc.WaitForTimers(1)
	fc.Advance(10 * time.Second)
	res, _ := s.Wait(context.Background())
	if res.State != StateExpired {
		t.Fatalf("state = %s", res.State)
	}
}

func TestAbort(t *testing.T) {
	e, fm, _ := newTestEngine()
	s, _ := e.Start(context.Background(), ballot("u1"))
	<-fm.subscribed

	if !e.Abort("room-1") {
		t.Fatal("expected a live session to abort")
	}
	res, _ := s.Wait(context.Background())
	if res.State != StateExpired {
		t.Fatalf("state = %s", res.State)
	}
	if e.Abort("room-1") {
		t.Fatal("nothing left to abort")
	}
}

func TestRunContextCancelAborts(t *testing.T) {
	e, fm, _ := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fm.subscribed
		cancel()
	}()

	res, err := e.Run(ctx, ballot("u1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.State != StateExpired {
		t.Fatalf("state = %s", res.State)
	}
}

func TestCloseAbortsAndRefuses(t *testing.T) {
	e, fm, _ := newTestEngine()
	s, _ := e.Start(context.Background(), ballot("u1"))
	<-fm.subscribed

	e.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("Close should wait for live sessions")
	}
	if _, err := e.Start(context.Background(), ballot("u1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPending(t *testing.T) {
	e, fm, _ := newTestEngine()
	_, _ = e.Start(context.Background(), ballot("u1"))
	<-fm.subscribed

	pending := e.Pending()
	if len(pending) != 1 || pending[0].Resource != "room-1" || pending[0].ID == "" {
		t.Fatalf("pending = %+v", pending)
	}
	e.Close()
}

func TestStartValidatesBallot(t *testing.T) {
	e, _, _ := newTestEngine()
	if _, err := e.Start(context.Background(), Ballot{Channel: "c"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestMajorityRules(t *testing.T) {
	tests := []struct {
		agree, total     int
		majority, strict bool
	}{
		{2, 5, true, false},
		{1, 5, false, false},
		{3, 5, true, true},
		{0, 1, true, false},
		{1, 2, true, false},
		{2, 2, true, true},
		{0, 2, false, false},
	}
	for _, tt := range tests {
		if got := Majority(tt.agree, tt.total); got != tt.majority {
			t.Errorf("Majority(%d, %d) = %v", tt.agree, tt.total, got)
		}
		if got := StrictMajority(tt.agree, tt.total); got != tt.strict {
			t.Errorf("StrictMajority(%d, %d) = %v", tt.agree, tt.total, got)
		}
	}
}
