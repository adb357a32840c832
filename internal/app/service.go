// Package app ties the engines together: it receives platform events,
// routes them to reconciliation and the command handler, and reports
// their state over HTTP.
package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"roompool/bot/internal/commands"
	"roompool/bot/internal/platform"
	"roompool/bot/internal/throttle"
	"roompool/bot/internal/vote"
)

type reconciler interface {
	Reconcile(ctx context.Context, group platform.GroupID) error
	ReconcileAll(ctx context.Context) error
	HandleOccupancy(ctx context.Context, ev platform.OccupancyEvent)
	HandlePresence(ctx context.Context, ev platform.PresenceEvent)
	OnRoomDeleted(fn func(platform.RoomID))
	Reconciling() []platform.GroupID
}

type renameWindows interface {
	Windows() []throttle.WindowStatus
}

type voteRegistry interface {
	Pending() []vote.SessionInfo
	Abort(resource string) bool
}

type commandHandler interface {
	Handle(ctx context.Context, req commands.Request) (string, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Reconciler reconciler
	Throttle   renameWindows
	Votes      voteRegistry
	Commands   commandHandler
	// Names is the name cache backend checked by /api/ready.
	Names  Pinger
	Logger *slog.Logger
}

type Service struct {
	reconciler reconciler
	throttle   renameWindows
	votes      voteRegistry
	commands   commandHandler
	names      Pinger
	logger     *slog.Logger
	started    time.Time
}

// New wires the engines. A vote running in a room that reconciliation
// deletes is aborted.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Service{
		reconciler: deps.Reconciler,
		throttle:   deps.Throttle,
		votes:      deps.Votes,
		commands:   deps.Commands,
		names:      deps.Names,
		logger:     deps.Logger,
		started:    time.Now(),
	}
	s.reconciler.OnRoomDeleted(s.roomDeleted)
	return s
}

func (s *Service) roomDeleted(room platform.RoomID) {
	if s.votes.Abort(string(room)) {
		s.logger.Info("app: vote aborted, room deleted", "room", room)
	}
}

func (s *Service) HandleOccupancy(ctx context.Context, ev platform.OccupancyEvent) {
	s.reconciler.HandleOccupancy(ctx, ev)
}

func (s *Service) HandlePresence(ctx context.Context, ev platform.PresenceEvent) {
	s.reconciler.HandlePresence(ctx, ev)
}

// HandleGroupsAvailable reconciles groups that just became visible,
// typically every managed category of a guild after connecting.
func (s *Service) HandleGroupsAvailable(ctx context.Context, groups []platform.GroupID) {
	g, ctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		g.Go(func() error {
			if err := s.reconciler.Reconcile(ctx, group); err != nil {
				s.logger.Error("app: initial reconcile failed", "group", group, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) HandleCommand(ctx context.Context, req commands.Request) (string, error) {
	reply, err := s.commands.Handle(ctx, req)
	if err != nil {
		s.logger.Info("app: command rejected", "command", req.Name, "user", req.Invoker, "err", err)
		return "", err
	}
	s.logger.Info("app: command handled", "command", req.Name, "user", req.Invoker)
	return reply, nil
}

// ReconcileAll runs a pass over every managed group.
func (s *Service) ReconcileAll(ctx context.Context) error {
	return s.reconciler.ReconcileAll(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	if s.names == nil {
		return nil
	}
	return s.names.Ping(ctx)
}

// Status is a point-in-time view of the engines.
type Status struct {
	Uptime      string                  `json:"uptime"`
	Reconciling []platform.GroupID      `json:"reconciling"`
	Renames     []throttle.WindowStatus `json:"renames"`
	Votes       []vote.SessionInfo      `json:"votes"`
}

func (s *Service) Status() Status {
	status := Status{
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Reconciling: s.reconciler.Reconciling(),
		Renames:     s.throttle.Windows(),
		Votes:       s.votes.Pending(),
	}
	if status.Reconciling == nil {
		status.Reconciling = []platform.GroupID{}
	}
	if status.Renames == nil {
		status.Renames = []throttle.WindowStatus{}
	}
	if status.Votes == nil {
		status.Votes = []vote.SessionInfo{}
	}
	return status
}
