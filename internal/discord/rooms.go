package discord

import (
	"context"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"roompool/bot/internal/platform"
)

func (b *Bot) CreateRoom(ctx context.Context, group platform.GroupID, name string, capacity int) (platform.RoomID, error) {
	category, err := b.session.State.Channel(string(group))
	if err != nil {
		return "", mapError("find category", err)
	}
	ch, err := b.session.GuildChannelCreateComplex(category.GuildID, discordgo.GuildChannelCreateData{
		Name:      name,
		Type:      discordgo.ChannelTypeGuildVoice,
		ParentID:  string(group),
		UserLimit: capacity,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("create room", err)
	}
	return platform.RoomID(ch.ID), nil
}

func (b *Bot) DeleteRoom(ctx context.Context, room platform.RoomID) error {
	_, err := b.session.ChannelDelete(string(room), discordgo.WithContext(ctx))
	return mapError("delete room", err)
}

func (b *Bot) RenameRoom(ctx context.Context, room platform.RoomID, name string) error {
	_, err := b.session.ChannelEdit(string(room), &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	return mapError("rename room", err)
}

// SetCapacity patches user_limit directly; ChannelEdit omits a zero
// limit, which is how a limit is removed.
func (b *Bot) SetCapacity(ctx context.Context, room platform.RoomID, capacity int) error {
	endpoint := discordgo.EndpointChannel(string(room))
	body := map[string]int{"user_limit": capacity}
	_, err := b.session.RequestWithBucketID(http.MethodPatch, endpoint, body, endpoint, discordgo.WithContext(ctx))
	return mapError("set capacity", err)
}

func (b *Bot) SetEntryRestricted(ctx context.Context, room platform.RoomID, user platform.UserID, allowed bool) error {
	ch, err := b.session.State.Channel(string(room))
	if err != nil {
		return mapError("find room", err)
	}
	var allow, deny int64
	if allowed {
		allow = discordgo.PermissionVoiceConnect
	} else {
		deny = discordgo.PermissionVoiceConnect
	}
	return b.editOverwrite(ctx, ch, string(user), discordgo.PermissionOverwriteTypeMember, allow, deny, discordgo.PermissionVoiceConnect)
}

// LockRoom lets the members in keep (and the bot) connect and denies
// Connect to every role.
func (b *Bot) LockRoom(ctx context.Context, room platform.RoomID, keep []platform.UserID) error {
	ch, err := b.session.State.Channel(string(room))
	if err != nil {
		return mapError("find room", err)
	}
	members := make([]string, 0, len(keep)+1)
	for _, id := range keep {
		members = append(members, string(id))
	}
	if self := b.selfID(); self != "" {
		members = append(members, self)
	}
	for _, id := range members {
		if err := b.editOverwrite(ctx, ch, id, discordgo.PermissionOverwriteTypeMember,
			discordgo.PermissionVoiceConnect, 0, discordgo.PermissionVoiceConnect); err != nil {
			return err
		}
	}
	for _, role := range b.guildRoles(ch.GuildID) {
		if err := b.editOverwrite(ctx, ch, role, discordgo.PermissionOverwriteTypeRole,
			0, discordgo.PermissionVoiceConnect, discordgo.PermissionVoiceConnect); err != nil {
			return err
		}
	}
	return nil
}

// UnlockRoom grants Connect back to the roles that carry an overwrite
// and returns @everyone to the category default.
func (b *Bot) UnlockRoom(ctx context.Context, room platform.RoomID) error {
	ch, err := b.session.State.Channel(string(room))
	if err != nil {
		return mapError("find room", err)
	}
	b.session.State.RLock()
	var roles []string
	for _, o := range ch.PermissionOverwrites {
		if o.Type == discordgo.PermissionOverwriteTypeRole {
			roles = append(roles, o.ID)
		}
	}
	b.session.State.RUnlock()

	for _, role := range roles {
		allow := int64(discordgo.PermissionVoiceConnect)
		if role == ch.GuildID {
			allow = 0
		}
		if err := b.editOverwrite(ctx, ch, role, discordgo.PermissionOverwriteTypeRole,
			allow, 0, discordgo.PermissionVoiceConnect); err != nil {
			return err
		}
	}
	return nil
}

// SetVoiceDetection allows or denies Use Voice Activity for every role;
// exempt keeps it allowed.
func (b *Bot) SetVoiceDetection(ctx context.Context, room platform.RoomID, enabled bool, exempt platform.RoleID) error {
	ch, err := b.session.State.Channel(string(room))
	if err != nil {
		return mapError("find room", err)
	}
	for _, role := range b.guildRoles(ch.GuildID) {
		var allow, deny int64
		if enabled || role == string(exempt) {
			allow = discordgo.PermissionVoiceUseVAD
		} else {
			deny = discordgo.PermissionVoiceUseVAD
		}
		if err := b.editOverwrite(ctx, ch, role, discordgo.PermissionOverwriteTypeRole,
			allow, deny, discordgo.PermissionVoiceUseVAD); err != nil {
			return err
		}
	}
	return nil
}

// MoveOccupant moves user into room, or disconnects them when room is "".
func (b *Bot) MoveOccupant(ctx context.Context, group platform.GroupID, user platform.UserID, room platform.RoomID) error {
	category, err := b.session.State.Channel(string(group))
	if err != nil {
		return mapError("find category", err)
	}
	var target *string
	if room != "" {
		id := string(room)
		target = &id
	}
	err = b.session.GuildMemberMove(category.GuildID, string(user), target, discordgo.WithContext(ctx))
	return mapError("move member", err)
}

// editOverwrite rewrites the bits in mask on target's overwrite and keeps
// every other bit it already had.
func (b *Bot) editOverwrite(ctx context.Context, ch *discordgo.Channel, target string, kind discordgo.PermissionOverwriteType, allow, deny, mask int64) error {
	b.session.State.RLock()
	var curAllow, curDeny int64
	for _, o := range ch.PermissionOverwrites {
		if o.ID == target {
			curAllow, curDeny = o.Allow, o.Deny
			break
		}
	}
	b.session.State.RUnlock()

	newAllow, newDeny := mergeBits(curAllow, curDeny, allow, deny, mask)
	if newAllow == 0 && newDeny == 0 {
		err := b.session.ChannelPermissionDelete(ch.ID, target, discordgo.WithContext(ctx))
		if err = mapError("clear overwrite", err); err != nil && !isNotFound(err) {
			return err
		}
		return nil
	}
	err := b.session.ChannelPermissionSet(ch.ID, target, kind, newAllow, newDeny, discordgo.WithContext(ctx))
	return mapError("set overwrite", err)
}

func mergeBits(curAllow, curDeny, allow, deny, mask int64) (int64, int64) {
	return curAllow&^mask | allow&mask, curDeny&^mask | deny&mask
}

func (b *Bot) guildRoles(guildID string) []string {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	b.session.State.RLock()
	defer b.session.State.RUnlock()
	roles := make([]string, 0, len(guild.Roles))
	for _, r := range guild.Roles {
		roles = append(roles, r.ID)
	}
	return roles
}
