// Package throttle keeps room renames within the platform's per-room
// rename rate limit.
//
// Each room gets a window when it is first renamed. The first
// ImmediateRenames requests inside the window are applied at once; later
// ones only replace the queued name, which is applied once when the window
// closes. The window is never extended by further requests.
package throttle

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"roompool/bot/internal/clock"
	"roompool/bot/internal/platform"
)

const (
	// DefaultCooldown is the platform window plus a second of slack.
	DefaultCooldown  = 10*time.Minute + time.Second
	ImmediateRenames = 3
)

// Rooms is the part of the room transport the throttle drives.
type Rooms interface {
	RenameRoom(ctx context.Context, room platform.RoomID, name string) error
	DeleteRoom(ctx context.Context, room platform.RoomID) error
	CreateRoom(ctx context.Context, group platform.GroupID, name string, capacity int) (platform.RoomID, error)
}

type Config struct {
	Cooldown time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

type Throttle struct {
	rooms    Rooms
	clock    clock.Clock
	cooldown time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	windows map[platform.RoomID]*window
}

type window struct {
	count     int
	queued    string
	hasQueued bool
	expires   time.Time
	timer     *clock.Timer
}

// WindowStatus is a point-in-time view of one open window.
type WindowStatus struct {
	Room    platform.RoomID `json:"room"`
	Count   int             `json:"count"`
	Queued  string          `json:"queued,omitempty"`
	Expires time.Time       `json:"expires"`
}

func New(rooms Rooms, cfg Config) *Throttle {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Throttle{
		rooms:    rooms,
		clock:    cfg.Clock,
		cooldown: cfg.Cooldown,
		logger:   cfg.Logger,
		windows:  make(map[platform.RoomID]*window),
	}
}

// Request asks for room to be called name.
//
// An empty room is deleted and recreated under the new name instead of
// being renamed, which the rate limit does not cover. Asking for the name
// the room already has drops any queued rename.
func (t *Throttle) Request(ctx context.Context, room platform.Room, name string) error {
	if room.Empty() {
		return t.recreate(ctx, room, name)
	}

	t.mu.Lock()
	w := t.windows[room.ID]
	if name == room.Name {
		if w != nil {
			w.queued, w.hasQueued = "", false
		}
		t.mu.Unlock()
		return nil
	}

	if w == nil {
		w = &window{expires: t.clock.Now().Add(t.cooldown)}
		t.windows[room.ID] = w
		id := room.ID
		w.timer = t.clock.AfterFunc(t.cooldown, func() { t.expire(id, w) })
	}

	if w.count >= ImmediateRenames {
		w.queued, w.hasQueued = name, true
		t.mu.Unlock()
		t.logger.Debug("throttle: rename deferred", "room", room.ID, "name", name)
		return nil
	}
	w.count++
	t.mu.Unlock()

	if err := t.rooms.RenameRoom(ctx, room.ID, name); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			t.logger.Debug("throttle: room vanished before rename", "room", room.ID)
			return nil
		}
		t.logger.Warn("throttle: rename failed", "room", room.ID, "name", name, "err", err)
		return err
	}
	t.logger.Debug("throttle: renamed", "room", room.ID, "name", name)
	return nil
}

func (t *Throttle) recreate(ctx context.Context, room platform.Room, name string) error {
	t.mu.Lock()
	if w := t.windows[room.ID]; w != nil {
		w.timer.Stop()
		delete(t.windows, room.ID)
	}
	t.mu.Unlock()

	if err := t.rooms.DeleteRoom(ctx, room.ID); err != nil && !errors.Is(err, platform.ErrNotFound) {
		t.logger.Warn("throttle: delete before recreate failed", "room", room.ID, "err", err)
		return err
	}
	id, err := t.rooms.CreateRoom(ctx, room.Group, name, room.Capacity)
	if err != nil {
		t.logger.Warn("throttle: recreate failed", "group", room.Group, "name", name, "err", err)
		return err
	}
	t.logger.Debug("throttle: recreated empty room", "old", room.ID, "new", id, "name", name)
	return nil
}

func (t *Throttle) expire(id platform.RoomID, w *window) {
	t.mu.Lock()
	if t.windows[id] != w {
		t.mu.Unlock()
		return
	}
	delete(t.windows, id)
	queued, ok := w.queued, w.hasQueued
	t.mu.Unlock()

	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.rooms.RenameRoom(ctx, id, queued); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			t.logger.Debug("throttle: room vanished before queued rename", "room", id)
			return
		}
		t.logger.Warn("throttle: queued rename failed", "room", id, "name", queued, "err", err)
		return
	}
	t.logger.Debug("throttle: applied queued rename", "room", id, "name", queued)
}

// Windows lists the open windows ordered by expiry.
func (t *Throttle) Windows() []WindowStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]WindowStatus, 0, len(t.windows))
	for id, w := range t.windows {
		out = append(out, WindowStatus{Room: id, Count: w.count, Queued: w.queued, Expires: w.expires})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Expires.Equal(out[j].Expires) {
			return out[i].Room < out[j].Room
		}
		return out[i].Expires.Before(out[j].Expires)
	})
	return out
}

// Close stops every window timer. Queued renames are dropped.
func (t *Throttle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, w := range t.windows {
		w.timer.Stop()
		delete(t.windows, id)
	}
}
