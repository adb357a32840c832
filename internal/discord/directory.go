package discord

import (
	"context"
	"sort"

	"github.com/bwmarrin/discordgo"

	"roompool/bot/internal/platform"
)

// Groups lists the managed categories of every guild in the state cache.
func (b *Bot) Groups(ctx context.Context) ([]platform.GroupID, error) {
	b.session.State.RLock()
	guildIDs := make([]string, 0, len(b.session.State.Guilds))
	for _, g := range b.session.State.Guilds {
		guildIDs = append(guildIDs, g.ID)
	}
	b.session.State.RUnlock()

	var groups []platform.GroupID
	for _, id := range guildIDs {
		groups = append(groups, b.guildGroups(id)...)
	}
	return groups, nil
}

func (b *Bot) guildGroups(guildID string) []platform.GroupID {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return nil
	}

	b.session.State.RLock()
	var categories []string
	for _, ch := range guild.Channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			categories = append(categories, ch.ID)
		}
	}
	b.session.State.RUnlock()

	var groups []platform.GroupID
	for _, id := range categories {
		if b.canManage(id) {
			groups = append(groups, platform.GroupID(id))
		}
	}
	return groups
}

// GroupRooms returns the voice channels under a category in position
// order, with their current occupants.
func (b *Bot) GroupRooms(ctx context.Context, group platform.GroupID) ([]platform.Room, error) {
	category, err := b.session.State.Channel(string(group))
	if err != nil {
		return nil, mapError("find category", err)
	}
	guild, err := b.session.State.Guild(category.GuildID)
	if err != nil {
		return nil, mapError("find guild", err)
	}

	b.session.State.RLock()
	var channels []*discordgo.Channel
	for _, ch := range guild.Channels {
		if ch.Type == discordgo.ChannelTypeGuildVoice && ch.ParentID == string(group) {
			channels = append(channels, ch)
		}
	}
	occupancy := voiceOccupancy(guild)
	b.session.State.RUnlock()

	sort.SliceStable(channels, func(i, j int) bool { return channels[i].Position < channels[j].Position })

	rooms := make([]platform.Room, 0, len(channels))
	for _, ch := range channels {
		rooms = append(rooms, b.room(guild.ID, ch, occupancy[ch.ID]))
	}
	return rooms, nil
}

// Room returns one voice channel with its occupants.
func (b *Bot) Room(ctx context.Context, id platform.RoomID) (platform.Room, error) {
	ch, err := b.session.State.Channel(string(id))
	if err != nil {
		return platform.Room{}, mapError("find room", err)
	}
	guild, err := b.session.State.Guild(ch.GuildID)
	if err != nil {
		return platform.Room{}, mapError("find guild", err)
	}

	b.session.State.RLock()
	occupancy := voiceOccupancy(guild)
	b.session.State.RUnlock()

	return b.room(guild.ID, ch, occupancy[ch.ID]), nil
}

// OccupantRoom finds the voice channel user is in, within the guild that
// owns channel.
func (b *Bot) OccupantRoom(ctx context.Context, channel platform.ChannelID, user platform.UserID) (platform.Room, error) {
	ch, err := b.session.State.Channel(string(channel))
	if err != nil {
		return platform.Room{}, mapError("find channel", err)
	}
	vs, err := b.session.State.VoiceState(ch.GuildID, string(user))
	if err != nil || vs.ChannelID == "" {
		return platform.Room{}, platform.ErrNotFound
	}
	return b.Room(ctx, platform.RoomID(vs.ChannelID))
}

// voiceOccupancy groups connected user ids by channel. Callers hold the
// state read lock.
func voiceOccupancy(guild *discordgo.Guild) map[string][]string {
	out := make(map[string][]string)
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != "" {
			out[vs.ChannelID] = append(out[vs.ChannelID], vs.UserID)
		}
	}
	return out
}

func (b *Bot) room(guildID string, ch *discordgo.Channel, userIDs []string) platform.Room {
	room := platform.Room{
		ID:         platform.RoomID(ch.ID),
		Group:      platform.GroupID(ch.ParentID),
		Name:       ch.Name,
		Position:   ch.Position,
		Capacity:   ch.UserLimit,
		Restricted: connectDenied(ch, guildID),
	}
	for _, id := range userIDs {
		occupant := platform.Occupant{ID: platform.UserID(id)}
		if member, err := b.session.State.Member(guildID, id); err == nil && member.User != nil {
			occupant.Bot = member.User.Bot
		}
		if id == b.selfID() {
			occupant.Bot = true
		}
		if presence, err := b.session.State.Presence(guildID, id); err == nil {
			occupant.Activity = gameActivity(presence.Activities)
		}
		room.Occupants = append(room.Occupants, occupant)
	}
	return room
}

// connectDenied reports whether @everyone (the role sharing the guild id)
// is denied Connect on ch.
func connectDenied(ch *discordgo.Channel, guildID string) bool {
	for _, o := range ch.PermissionOverwrites {
		if o.ID == guildID && o.Type == discordgo.PermissionOverwriteTypeRole {
			return o.Deny&discordgo.PermissionVoiceConnect != 0
		}
	}
	return false
}
