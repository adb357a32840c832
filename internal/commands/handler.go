// Package commands implements the slash commands occupants use to change
// their room. Mutations other people are affected by go to a vote among
// the room's occupants first.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"roompool/bot/internal/clock"
	"roompool/bot/internal/platform"
	"roompool/bot/internal/policy"
	"roompool/bot/internal/vote"
)

const defaultCooldown = 3 * time.Second

// Directory is the read side the commands need.
type Directory interface {
	// OccupantRoom returns the room user is connected to in the server
	// that owns channel, or platform.ErrNotFound.
	OccupantRoom(ctx context.Context, channel platform.ChannelID, user platform.UserID) (platform.Room, error)
	GroupRooms(ctx context.Context, group platform.GroupID) ([]platform.Room, error)
}

// Rooms is the room transport the commands mutate through.
type Rooms interface {
	SetCapacity(ctx context.Context, room platform.RoomID, capacity int) error
	SetEntryRestricted(ctx context.Context, room platform.RoomID, user platform.UserID, allowed bool) error
	LockRoom(ctx context.Context, room platform.RoomID, keep []platform.UserID) error
	UnlockRoom(ctx context.Context, room platform.RoomID) error
	SetVoiceDetection(ctx context.Context, room platform.RoomID, enabled bool, exempt platform.RoleID) error
	MoveOccupant(ctx context.Context, group platform.GroupID, user platform.UserID, room platform.RoomID) error
}

type Messenger interface {
	DirectMessage(ctx context.Context, user platform.UserID, content string) error
}

// Voter runs a ballot to completion.
type Voter interface {
	Run(ctx context.Context, b vote.Ballot) (vote.Results, error)
}

// Request is one command invocation.
type Request struct {
	Name    string
	Invoker platform.UserID
	// Channel and Group locate the text channel the command was sent from.
	Channel platform.ChannelID
	Group   platform.GroupID

	Target  platform.UserID
	Max     int
	State   string
	Exclude platform.RoleID
	Command string
}

type Config struct {
	// VoteDuration is how long command votes stay open.
	VoteDuration time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

type Handler struct {
	dir       Directory
	rooms     Rooms
	messenger Messenger
	voter     Voter
	duration  time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	lastUsed map[string]time.Time
}

func New(dir Directory, rooms Rooms, messenger Messenger, voter Voter, cfg Config) *Handler {
	if cfg.VoteDuration <= 0 {
		cfg.VoteDuration = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		dir:       dir,
		rooms:     rooms,
		messenger: messenger,
		voter:     voter,
		duration:  cfg.VoteDuration,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		lastUsed:  make(map[string]time.Time),
	}
}

// Handle runs req and returns the reply for the invoker. Errors of type
// *Rejection carry a user-facing message; see ReplyFor.
func (h *Handler) Handle(ctx context.Context, req Request) (string, error) {
	cmd, ok := lookupCommand(req.Name)
	if !ok {
		return "", rejection("unknown_command", "That's not a valid command!")
	}
	if err := h.checkCooldown(cmd, req.Invoker); err != nil {
		return "", err
	}

	h.logger.Info("commands: invoked", "command", req.Name, "invoker", req.Invoker, "group", req.Group)

	var (
		reply string
		err   error
	)
	switch req.Name {
	case "ping":
		reply = "Pong!"
	case "help":
		reply, err = h.help(req)
	case "boot":
		reply, err = h.boot(ctx, req)
	case "setmax":
		reply, err = h.setMax(ctx, req)
	case "lock":
		reply, err = h.lock(ctx, req)
	case "unlock":
		reply, err = h.unlock(ctx, req)
	case "setvad":
		reply, err = h.setVAD(ctx, req)
	}

	var rej *Rejection
	if err != nil && !errors.As(err, &rej) {
		h.logger.Error("commands: failed", "command", req.Name, "invoker", req.Invoker, "err", err)
	}
	return reply, err
}

func (h *Handler) help(req Request) (string, error) {
	if req.Command == "" {
		names := make([]string, len(Catalog))
		for i, c := range Catalog {
			names[i] = c.Name
		}
		return "Here's a list of all my commands:\n" + strings.Join(names, ", ") +
			"\n\nYou can send `/help [command name]` to get info on a specific command!", nil
	}

	cmd, ok := lookupCommand(req.Command)
	if !ok {
		return "", rejection("unknown_command", "That's not a valid command!")
	}
	cooldown := cmd.Cooldown
	if cooldown == 0 {
		cooldown = defaultCooldown
	}
	return fmt.Sprintf("**Name:** %s\n**Description:** %s\n**Cooldown:** %d second(s)",
		cmd.Name, cmd.Description, int(cooldown/time.Second)), nil
}

func (h *Handler) boot(ctx context.Context, req Request) (string, error) {
	room, err := h.invokerRoom(ctx, req)
	if err != nil {
		return "", err
	}
	if req.Target == "" {
		return "", rejection("invalid_target", "No user mentioned.")
	}
	if req.Target == req.Invoker {
		return "", rejection("invalid_target", "Why?")
	}
	if !room.Has(req.Target) {
		return "", rejection("invalid_target", "That user is not in your voice channel.")
	}

	subject := fmt.Sprintf("%s has requested that %s be kicked from %s? Please vote using the reactions below.",
		platform.Mention(req.Invoker), platform.Mention(req.Target), room.Name)
	if err := h.gate(ctx, req, room, policy.ActionBoot, subject); err != nil {
		return "", err
	}

	if err := h.rooms.SetEntryRestricted(ctx, room.ID, req.Target, false); err != nil {
		return "", h.mutationError("deny entry", room, err)
	}
	if err := h.messenger.DirectMessage(ctx, req.Target, "You have been removed from "+room.Name); err != nil {
		h.logger.Warn("commands: notify booted user", "user", req.Target, "err", err)
	}

	landing := h.vacantRoom(ctx, room.Group)
	if err := h.rooms.MoveOccupant(ctx, room.Group, req.Target, landing); err != nil {
		return "", h.mutationError("move booted user", room, err)
	}
	return "User removed.", nil
}

func (h *Handler) setMax(ctx context.Context, req Request) (string, error) {
	room, err := h.invokerRoom(ctx, req)
	if err != nil {
		return "", err
	}
	if req.Max < 0 || req.Max >= 100 {
		return "", rejection("invalid_limit", fmt.Sprintf("Invalid user limit: %d", req.Max))
	}
	if req.Max > 0 && req.Max < len(room.Occupants) {
		return "", rejection("invalid_limit", "User limit is lower than the current user count.")
	}
	if room.Capacity == req.Max {
		return "", rejection("invalid_limit", fmt.Sprintf("User limit is already %d", req.Max))
	}

	subject := fmt.Sprintf("Set user limit of %s to %d? Please vote using the reactions below.", room.Name, req.Max)
	if err := h.gate(ctx, req, room, policy.ActionSetMax, subject); err != nil {
		return "", err
	}
	if err := h.rooms.SetCapacity(ctx, room.ID, req.Max); err != nil {
		return "", h.mutationError("set capacity", room, err)
	}
	return "New user limit set.", nil
}

func (h *Handler) lock(ctx context.Context, req Request) (string, error) {
	room, err := h.invokerRoom(ctx, req)
	if err != nil {
		return "", err
	}
	if room.Restricted {
		return "", rejection("already_locked", "This channel is already locked.")
	}
	if len(room.Occupants) <= 1 {
		return "", rejection("alone", "You are the only one here, so locking doesn't make sense.")
	}

	subject := fmt.Sprintf("%s has requested to lock %s. Please vote using the reactions below.",
		platform.Mention(req.Invoker), room.Name)
	if err := h.gate(ctx, req, room, policy.ActionLock, subject); err != nil {
		return "", err
	}

	// Re-read so members who joined during the vote are kept.
	current, err := h.dir.OccupantRoom(ctx, req.Channel, req.Invoker)
	if err == nil && current.ID == room.ID {
		room = current
	}
	keep := make([]platform.UserID, len(room.Occupants))
	for i, o := range room.Occupants {
		keep[i] = o.ID
	}
	if err := h.rooms.LockRoom(ctx, room.ID, keep); err != nil {
		return "", h.mutationError("lock", room, err)
	}
	return "Channel locked.", nil
}

func (h *Handler) unlock(ctx context.Context, req Request) (string, error) {
	room, err := h.invokerRoom(ctx, req)
	if err != nil {
		return "", err
	}
	if !room.Restricted {
		return "", rejection("not_locked", "This channel is not locked.")
	}

	humans := room.Humans()
	if !policy.SkipsVote(policy.ActionUnlock, len(room.Occupants), len(humans)) {
		voters := make([]platform.UserID, len(humans))
		for i, o := range humans {
			voters[i] = o.ID
		}
		b := vote.Ballot{
			Resource: string(room.ID),
			Channel:  req.Channel,
			Subject:  fmt.Sprintf("Unlock %s? Please vote using the reactions below.", room.Name),
			Voters:   voters,
			Duration: policy.VoteDuration(policy.ActionUnlock, h.duration),
			StopWhen: stopAtMajority(len(voters)),
		}
		results, err := h.voter.Run(ctx, b)
		if err != nil {
			return "", h.voteError(err)
		}
		if !policy.Passes(policy.ActionUnlock, results.Count(vote.Agree), len(humans)) {
			return "", rejection("rejected", "Not enough votes to unlock the channel.")
		}
	}

	if err := h.rooms.UnlockRoom(ctx, room.ID); err != nil {
		return "", h.mutationError("unlock", room, err)
	}
	return "Channel unlocked.", nil
}

func (h *Handler) setVAD(ctx context.Context, req Request) (string, error) {
	room, err := h.invokerRoom(ctx, req)
	if err != nil {
		return "", err
	}
	state := strings.ToLower(req.State)
	if state != "on" && state != "off" {
		return "", rejection("invalid_state", "State must be \"on\" or \"off\".")
	}
	exclude := req.Exclude
	if state != "off" {
		exclude = ""
	}

	subject := fmt.Sprintf("Set voice activation %q for %s? Please vote using the reactions below.", state, room.Name)
	if err := h.gate(ctx, req, room, policy.ActionSetVAD, subject); err != nil {
		return "", err
	}
	if err := h.rooms.SetVoiceDetection(ctx, room.ID, state == "on", exclude); err != nil {
		return "", h.mutationError("set voice activation", room, err)
	}
	return fmt.Sprintf("Voice activation set to %q", state), nil
}

// gate runs the vote for action unless the room's occupancy lets it
// through directly. A nil return means the action may proceed.
func (h *Handler) gate(ctx context.Context, req Request, room platform.Room, action policy.Action, subject string) error {
	total := len(room.Occupants)
	if policy.SkipsVote(action, total, len(room.Humans())) {
		return nil
	}

	voters := make([]platform.UserID, 0, total)
	for _, o := range room.Humans() {
		if o.ID != req.Invoker {
			voters = append(voters, o.ID)
		}
	}

	results, err := h.voter.Run(ctx, vote.Ballot{
		Resource: string(room.ID),
		Channel:  req.Channel,
		Subject:  subject,
		Voters:   voters,
		Duration: policy.VoteDuration(action, h.duration),
		StopWhen: stopAtMajority(len(voters)),
	})
	if err != nil {
		return h.voteError(err)
	}
	if !policy.Passes(action, results.Count(vote.Agree), total) {
		h.logger.Info("commands: vote failed", "command", req.Name, "room", room.ID, "agree", results.Count(vote.Agree), "total", total)
		return errRejected
	}
	return nil
}

// stopAtMajority ends a vote once any selection holds a strict majority
// of the ballot, as no later reaction could change the outcome.
func stopAtMajority(voters int) func(vote.Results) bool {
	needed := voters/2 + 1
	return func(r vote.Results) bool {
		for _, n := range r.Counts {
			if n >= needed {
				return true
			}
		}
		return false
	}
}

func (h *Handler) invokerRoom(ctx context.Context, req Request) (platform.Room, error) {
	room, err := h.dir.OccupantRoom(ctx, req.Channel, req.Invoker)
	if errors.Is(err, platform.ErrNotFound) {
		return platform.Room{}, errNotConnected
	}
	if err != nil {
		return platform.Room{}, fmt.Errorf("find invoker room: %w", err)
	}
	if room.Group != req.Group {
		return platform.Room{}, errWrongGroup
	}
	return room, nil
}

// vacantRoom returns the group's landing room, "" when there is none.
// Moving to "" disconnects the member.
func (h *Handler) vacantRoom(ctx context.Context, group platform.GroupID) platform.RoomID {
	rooms, err := h.dir.GroupRooms(ctx, group)
	if err != nil {
		h.logger.Warn("commands: list rooms", "group", group, "err", err)
		return ""
	}
	for _, r := range rooms {
		if r.Empty() {
			return r.ID
		}
	}
	return ""
}

func (h *Handler) voteError(err error) error {
	if errors.Is(err, vote.ErrVotePending) {
		return errVotePending
	}
	return fmt.Errorf("run vote: %w", err)
}

func (h *Handler) mutationError(op string, room platform.Room, err error) error {
	if errors.Is(err, platform.ErrNotFound) {
		return errRoomGone
	}
	if errors.Is(err, platform.ErrForbidden) {
		return rejection("forbidden", "I do not have permission to change "+room.Name+".")
	}
	return fmt.Errorf("%s %s: %w", op, room.ID, err)
}

func (h *Handler) checkCooldown(cmd Command, user platform.UserID) error {
	cooldown := cmd.Cooldown
	if cooldown == 0 {
		cooldown = defaultCooldown
	}
	key := cmd.Name + "/" + string(user)
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastUsed[key]; ok {
		if left := last.Add(cooldown).Sub(now); left > 0 {
			secs := int(math.Ceil(left.Seconds()))
			return rejection("cooldown", fmt.Sprintf("Please wait %d more second(s) before reusing the `%s` command.", secs, cmd.Name))
		}
	}
	h.lastUsed[key] = now
	return nil
}
