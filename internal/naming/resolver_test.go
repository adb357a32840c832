package naming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roompool/bot/internal/platform"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	puts    []string
}

func newFakeCache(entries map[string]string) *fakeCache {
	if entries == nil {
		entries = map[string]string{}
	}
	return &fakeCache{entries: entries}
}

func (c *fakeCache) Get(label string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	short, ok := c.entries[label]
	return short, ok
}

func (c *fakeCache) Put(_ context.Context, label, short string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[label] = short
	c.puts = append(c.puts, label)
	return nil
}

type fakeLookup struct {
	lookupFn func(ctx context.Context, label string) ([]string, error)
}

func (f *fakeLookup) Lookup(ctx context.Context, label string) ([]string, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, label)
	}
	return nil, nil
}

func occupants(activities ...string) []platform.Occupant {
	out := make([]platform.Occupant, len(activities))
	for i, a := range activities {
		out[i] = platform.Occupant{ID: platform.UserID(string(rune('a' + i))), Activity: a}
	}
	return out
}

func TestResolveFallsBackToIndexedPrefix(t *testing.T) {
	r := NewResolver(newFakeCache(nil), nil, Config{Prefix: "Voice Channel"})
	room := platform.Room{Occupants: occupants("", "")}
	if got := r.Resolve(context.Background(), room, 3); got != "Voice Channel 3" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveIgnoresBotActivity(t *testing.T) {
	r := NewResolver(newFakeCache(nil), nil, Config{Prefix: "Voice Channel"})
	room := platform.Room{Occupants: []platform.Occupant{
		{ID: "bot", Bot: true, Activity: "Music"},
		{ID: "u1"},
	}}
	if got := r.Resolve(context.Background(), room, 1); got != "Voice Channel 1" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveUsesCachedName(t *testing.T) {
	lookup := &fakeLookup{lookupFn: func(context.Context, string) ([]string, error) {
		t.Fatal("lookup must not be called on a cache hit")
		return nil, nil
	}}
	r := NewResolver(newFakeCache(map[string]string{"Dota 2": "DotA2"}), lookup, Config{Prefix: "Voice Channel"})

	got := r.Resolve(context.Background(), platform.Room{Occupants: occupants("Dota 2")}, 1)
	if got != "DotA2" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolveAcceptsMatchingCandidate(t *testing.T) {
	cache := newFakeCache(nil)
	var learned []string
	lookup := &fakeLookup{lookupFn: func(_ context.Context, label string) ([]string, error) {
		return []string{"pcgaming", "GlobalOffensive"}, nil
	}}
	r := NewResolver(cache, lookup, Config{
		Prefix:  "Voice Channel",
		Learned: func(label, short string) { learned = append(learned, label+"="+short) },
	})

	got := r.Resolve(context.Background(), platform.Room{Occupants: occupants("Counter-Strike: Global Offensive")}, 1)
	if got != "GlobalOffensive" {
		t.Fatalf("Resolve = %q", got)
	}
	if short, ok := cache.Get("Counter-Strike: Global Offensive"); !ok || short != "GlobalOffensive" {
		t.Fatalf("accepted candidate not cached: %q %v", short, ok)
	}
	if len(learned) != 1 || learned[0] != "Counter-Strike: Global Offensive=GlobalOffensive" {
		t.Fatalf("learned = %v", learned)
	}
}

func TestResolveRejectedCandidateUsesRawLabel(t *testing.T) {
	cache := newFakeCache(nil)
	lookup := &fakeLookup{lookupFn: func(context.Context, string) ([]string, error) {
		return []string{"Xyz"}, nil
	}}
	r := NewResolver(cache, lookup, Config{Prefix: "Voice Channel"})

	room := platform.Room{Occupants: occupants("Some Game", "Some Game", "Some Game", "Other")}
	if got := r.Resolve(context.Background(), room, 1); got != "Some Game" {
		t.Fatalf("Resolve = %q", got)
	}
	if len(cache.puts) != 0 {
		t.Fatalf("rejected candidate must not be cached, puts=%v", cache.puts)
	}
}

func TestResolveLookupErrorUsesRawLabel(t *testing.T) {
	cache := newFakeCache(nil)
	lookup := &fakeLookup{lookupFn: func(context.Context, string) ([]string, error) {
		return nil, errors.New("quota exceeded")
	}}
	r := NewResolver(cache, lookup, Config{Prefix: "Voice Channel"})

	if got := r.Resolve(context.Background(), platform.Room{Occupants: occupants("Valheim")}, 1); got != "Valheim" {
		t.Fatalf("Resolve = %q", got)
	}
	if len(cache.puts) != 0 {
		t.Fatalf("unexpected cache writes: %v", cache.puts)
	}
}

func TestResolveSharesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	lookup := &fakeLookup{lookupFn: func(context.Context, string) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"Valheim"}, nil
	}}
	r := NewResolver(newFakeCache(nil), lookup, Config{Prefix: "Voice Channel"})

	room := platform.Room{Occupants: occupants("Valheim")}
	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), room, 1)
		}(i)
	}

	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected one shared lookup, got %d", n)
	}
	for _, got := range results {
		if got != "Valheim" {
			t.Fatalf("unexpected result %q", got)
		}
	}
}

func TestResolveLookupOutlivesCancelledCaller(t *testing.T) {
	lookup := &fakeLookup{lookupFn: func(ctx context.Context, _ string) ([]string, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("lookup has no deadline")
		}
		return []string{"Valheim"}, nil
	}}
	cache := newFakeCache(nil)
	r := NewResolver(cache, lookup, Config{Prefix: "Voice Channel"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	room := platform.Room{Occupants: occupants("Valheim")}
	if got := r.Resolve(ctx, room, 1); got != "Valheim" {
		t.Fatalf("Resolve = %q, want the looked-up name", got)
	}
	if _, ok := cache.Get("Valheim"); !ok {
		t.Fatal("accepted name should be cached")
	}
}

func TestDominantActivity(t *testing.T) {
	tests := []struct {
		name       string
		activities []string
		want       string
	}{
		{"none", []string{"", ""}, ""},
		{"majority", []string{"Some Game", "Other", "Some Game", "Some Game"}, "Some Game"},
		{"tie goes to first seen", []string{"A", "B", "B", "A"}, "A"},
		{"single", []string{"", "Rust"}, "Rust"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DominantActivity(occupants(tt.activities...)); got != tt.want {
				t.Fatalf("DominantActivity = %q, want %q", got, tt.want)
			}
		})
	}
}
