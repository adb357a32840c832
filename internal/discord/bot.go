// Package discord binds the engines to a Discord bot: gateway events are
// translated into platform events and the REST API backs the room and
// messaging transports.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"roompool/bot/internal/commands"
	"roompool/bot/internal/platform"
)

const eventTimeout = time.Minute

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildPresences |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions

// Events receives what the gateway reports.
type Events interface {
	HandleOccupancy(ctx context.Context, ev platform.OccupancyEvent)
	HandlePresence(ctx context.Context, ev platform.PresenceEvent)
	HandleGroupsAvailable(ctx context.Context, groups []platform.GroupID)
	HandleCommand(ctx context.Context, req commands.Request) (string, error)
}

type Config struct {
	Token string
	// GuildID scopes slash command registration to one guild.
	GuildID string
	// Manages filters the categories the bot maintains. Nil manages every
	// category it has permission to.
	Manages func(group string) bool
	Logger  *slog.Logger
}

type Bot struct {
	session *discordgo.Session
	guildID string
	manages func(string) bool
	logger  *slog.Logger

	mu     sync.Mutex
	events Events
	subs   map[platform.MessageID][]*subscriber
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = intents
	session.StateEnabled = true
	return newBot(session, cfg), nil
}

func newBot(session *discordgo.Session, cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Manages == nil {
		cfg.Manages = func(string) bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		session: session,
		guildID: cfg.GuildID,
		manages: cfg.Manages,
		logger:  cfg.Logger,
		subs:    make(map[platform.MessageID][]*subscriber),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Open registers the gateway handlers, connects and delivers events to ev.
func (b *Bot) Open(ev Events) error {
	b.mu.Lock()
	b.events = ev
	b.mu.Unlock()

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.AddHandler(b.onPresenceUpdate)
	b.session.AddHandler(b.onReactionAdd)
	b.session.AddHandler(b.onInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	b.cancel()
	return b.session.Close()
}

func (b *Bot) eventHandler() Events {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events
}

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, eventTimeout)
}

func (b *Bot) selfID() string {
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("discord: connected", "user", r.User.Username, "guilds", len(r.Guilds))
	if err := b.registerCommands(); err != nil {
		b.logger.Error("discord: register commands", "err", err)
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	ev := b.eventHandler()
	if ev == nil {
		return
	}
	groups := b.guildGroups(g.ID)
	b.logger.Debug("discord: guild available", "guild", g.ID, "groups", len(groups))
	if len(groups) == 0 {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	ev.HandleGroupsAvailable(ctx, groups)
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	ev := b.eventHandler()
	if ev == nil || vs.VoiceState == nil {
		return
	}

	event := platform.OccupancyEvent{
		Actor:   platform.UserID(vs.UserID),
		Current: b.roomRef(vs.ChannelID),
	}
	if vs.BeforeUpdate != nil {
		event.Previous = b.roomRef(vs.BeforeUpdate.ChannelID)
	}
	if !event.Changed() {
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()
	ev.HandleOccupancy(ctx, event)
}

func (b *Bot) onPresenceUpdate(s *discordgo.Session, p *discordgo.PresenceUpdate) {
	ev := b.eventHandler()
	if ev == nil || p.User == nil {
		return
	}

	vs, err := s.State.VoiceState(p.GuildID, p.User.ID)
	if err != nil || vs.ChannelID == "" {
		return
	}
	ref := b.roomRef(vs.ChannelID)
	if ref == nil || ref.Group == "" {
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()
	ev.HandlePresence(ctx, platform.PresenceEvent{
		Actor:    platform.UserID(p.User.ID),
		Room:     ref,
		Activity: gameActivity(p.Activities),
	})
}

// roomRef locates a voice channel. The group is left empty when the
// channel's category is not managed, so the engines ignore it.
func (b *Bot) roomRef(channelID string) *platform.RoomRef {
	if channelID == "" {
		return nil
	}
	ref := &platform.RoomRef{ID: platform.RoomID(channelID)}
	ch, err := b.session.State.Channel(channelID)
	if err != nil || ch.Type != discordgo.ChannelTypeGuildVoice || ch.ParentID == "" {
		return ref
	}
	if b.canManage(ch.ParentID) {
		ref.Group = platform.GroupID(ch.ParentID)
	}
	return ref
}

// canManage mirrors the permissions reconciliation needs on a category.
func (b *Bot) canManage(categoryID string) bool {
	if !b.manages(categoryID) {
		return false
	}
	self := b.selfID()
	if self == "" {
		return false
	}
	perms, err := b.session.State.UserChannelPermissions(self, categoryID)
	if err != nil {
		return false
	}
	const need = discordgo.PermissionManageChannels | discordgo.PermissionVoiceConnect
	return perms&need == need
}

func gameActivity(activities []*discordgo.Activity) string {
	for _, a := range activities {
		if a != nil && a.Type == discordgo.ActivityTypeGame && a.Name != "" {
			return a.Name
		}
	}
	return ""
}
