// Package reconcile keeps each managed group's rooms in shape: occupied
// rooms carry a name derived from their occupants and exactly one vacant
// landing room is left for newcomers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"roompool/bot/internal/platform"
)

// Directory is the read side of the platform.
type Directory interface {
	Groups(ctx context.Context) ([]platform.GroupID, error)
	GroupRooms(ctx context.Context, group platform.GroupID) ([]platform.Room, error)
}

// Rooms is the part of the room transport reconciliation mutates through.
type Rooms interface {
	DeleteRoom(ctx context.Context, room platform.RoomID) error
	CreateRoom(ctx context.Context, group platform.GroupID, name string, capacity int) (platform.RoomID, error)
}

type Resolver interface {
	Resolve(ctx context.Context, room platform.Room, fallbackIndex int) string
}

type Throttle interface {
	Request(ctx context.Context, room platform.Room, name string) error
}

type Config struct {
	// Prefix names rooms without an activity and the landing room.
	Prefix string
	Logger *slog.Logger
}

type Engine struct {
	dir      Directory
	rooms    Rooms
	resolver Resolver
	throttle Throttle
	prefix   string
	logger   *slog.Logger

	mu          sync.Mutex
	reconciling map[platform.GroupID]bool
	listeners   []func(platform.RoomID)
}

func New(dir Directory, rooms Rooms, resolver Resolver, throttle Throttle, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		dir:         dir,
		rooms:       rooms,
		resolver:    resolver,
		throttle:    throttle,
		prefix:      cfg.Prefix,
		logger:      cfg.Logger,
		reconciling: make(map[platform.GroupID]bool),
	}
}

// OnRoomDeleted registers fn to be called with the id of every room a
// pass deletes.
func (e *Engine) OnRoomDeleted(fn func(platform.RoomID)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Reconcile runs one pass over group. A call made while a pass for the
// same group is running returns immediately without doing anything.
func (e *Engine) Reconcile(ctx context.Context, group platform.GroupID) error {
	if !e.acquire(group) {
		e.logger.Debug("reconcile: pass already running", "group", group)
		return nil
	}
	defer e.release(group)

	rooms, err := e.dir.GroupRooms(ctx, group)
	if err != nil {
		e.logger.Error("reconcile: list rooms", "group", group, "err", err)
		return err
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].Position < rooms[j].Position })

	var occupied, vacant []platform.Room
	for _, room := range rooms {
		if room.Empty() {
			vacant = append(vacant, room)
		} else {
			occupied = append(occupied, room)
		}
	}

	for i, room := range occupied {
		name := e.resolver.Resolve(ctx, room, i+1)
		if err := e.throttle.Request(ctx, room, name); err != nil {
			e.logger.Debug("reconcile: name request failed", "room", room.ID, "name", name, "err", err)
		}
	}

	landing := e.LandingName(len(occupied))
	remaining := 0
	kept := false
	for _, room := range vacant {
		if !kept && room.Name == landing {
			kept = true
			remaining++
			continue
		}
		if err := e.rooms.DeleteRoom(ctx, room.ID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			e.logger.Warn("reconcile: delete vacant room", "room", room.ID, "name", room.Name, "err", err)
			remaining++
			continue
		}
		e.logger.Debug("reconcile: deleted vacant room", "room", room.ID, "name", room.Name)
		e.notifyDeleted(room.ID)
	}

	if remaining == 0 {
		id, err := e.rooms.CreateRoom(ctx, group, landing, 0)
		if err != nil {
			e.logger.Error("reconcile: create landing room", "group", group, "name", landing, "err", err)
			return nil
		}
		e.logger.Debug("reconcile: created landing room", "group", group, "room", id, "name", landing)
	}

	e.logger.Debug("reconcile: pass complete", "group", group, "occupied", len(occupied), "vacant", len(vacant))
	return nil
}

// ReconcileAll runs a pass over every group the directory manages.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	groups, err := e.dir.Groups(ctx)
	if err != nil {
		return err
	}
	// A failing group does not stop the others; the first error is returned.
	var g errgroup.Group
	for _, group := range groups {
		g.Go(func() error {
			if err := e.Reconcile(ctx, group); err != nil {
				return fmt.Errorf("reconcile group %s: %w", group, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// HandleOccupancy reconciles the groups a join, leave or move touched.
// Updates that leave the actor in the same room are ignored.
func (e *Engine) HandleOccupancy(ctx context.Context, ev platform.OccupancyEvent) {
	if !ev.Changed() {
		return
	}
	for _, group := range ev.Groups() {
		_ = e.Reconcile(ctx, group)
	}
}

// HandlePresence renames the actor's room after an activity change. It
// does not take the group lock and never creates or deletes rooms.
func (e *Engine) HandlePresence(ctx context.Context, ev platform.PresenceEvent) {
	if ev.Room == nil {
		return
	}

	rooms, err := e.dir.GroupRooms(ctx, ev.Room.Group)
	if err != nil {
		e.logger.Warn("reconcile: list rooms for presence", "group", ev.Room.Group, "err", err)
		return
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].Position < rooms[j].Position })

	index := 0
	for _, room := range rooms {
		if room.Empty() {
			continue
		}
		index++
		if room.ID != ev.Room.ID {
			continue
		}
		name := e.resolver.Resolve(ctx, room, index)
		if err := e.throttle.Request(ctx, room, name); err != nil {
			e.logger.Debug("reconcile: presence rename failed", "room", room.ID, "err", err)
		}
		return
	}
}

// LandingName is the name of the vacant room that follows occupied rooms.
func (e *Engine) LandingName(occupied int) string {
	return e.prefix + " " + strconv.Itoa(occupied+1)
}

// Reconciling lists the groups with a pass in flight.
func (e *Engine) Reconciling() []platform.GroupID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]platform.GroupID, 0, len(e.reconciling))
	for group := range e.reconciling {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) acquire(group platform.GroupID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reconciling[group] {
		return false
	}
	e.reconciling[group] = true
	return true
}

func (e *Engine) release(group platform.GroupID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.reconciling, group)
}

func (e *Engine) notifyDeleted(room platform.RoomID) {
	e.mu.Lock()
	listeners := append(([]func(platform.RoomID))(nil), e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(room)
	}
}
