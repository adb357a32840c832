package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"roompool/bot/internal/platform"
)

type subscriber struct {
	ch   chan platform.Signal
	done chan struct{}
}

func (b *Bot) Post(ctx context.Context, channel platform.ChannelID, content string) (platform.Message, error) {
	msg, err := b.session.ChannelMessageSend(string(channel), content, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, mapError("post message", err)
	}
	return platform.Message{ID: platform.MessageID(msg.ID), Channel: platform.ChannelID(msg.ChannelID)}, nil
}

func (b *Bot) AttachSignal(ctx context.Context, msg platform.Message, token string) error {
	err := b.session.MessageReactionAdd(string(msg.Channel), string(msg.ID), token, discordgo.WithContext(ctx))
	return mapError("add reaction", err)
}

func (b *Bot) DeleteMessage(ctx context.Context, msg platform.Message) error {
	err := b.session.ChannelMessageDelete(string(msg.Channel), string(msg.ID), discordgo.WithContext(ctx))
	return mapError("delete message", err)
}

func (b *Bot) DirectMessage(ctx context.Context, user platform.UserID, content string) error {
	dm, err := b.session.UserChannelCreate(string(user), discordgo.WithContext(ctx))
	if err != nil {
		return mapError("open dm", err)
	}
	if _, err := b.session.ChannelMessageSend(dm.ID, content, discordgo.WithContext(ctx)); err != nil {
		return mapError("send dm", err)
	}
	return nil
}

// Signals subscribes to reactions on msg. The channel is never closed;
// cancel stops delivery.
func (b *Bot) Signals(msg platform.Message) (<-chan platform.Signal, func()) {
	sub := &subscriber{ch: make(chan platform.Signal), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[msg.ID] = append(b.subs[msg.ID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[msg.ID]
		for i, s := range subs {
			if s == sub {
				close(sub.done)
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(b.subs, msg.ID)
		} else {
			b.subs[msg.ID] = subs
		}
	}
	return sub.ch, cancel
}

func (b *Bot) subscribers(id platform.MessageID) []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*subscriber(nil), b.subs[id]...)
}

func (b *Bot) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil {
		return
	}
	subs := b.subscribers(platform.MessageID(r.MessageID))
	if len(subs) == 0 {
		return
	}
	sig := platform.Signal{
		Message: platform.MessageID(r.MessageID),
		Token:   reactionToken(r.Emoji),
		Actor:   platform.UserID(r.UserID),
		Bot:     b.isBot(r.GuildID, r.UserID, r.Member),
	}
	b.deliver(subs, sig)
}

// deliver hands sig to every subscriber, skipping those that cancel
// while it waits.
func (b *Bot) deliver(subs []*subscriber, sig platform.Signal) {
	for _, sub := range subs {
		select {
		case sub.ch <- sig:
		case <-sub.done:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bot) isBot(guildID, userID string, member *discordgo.Member) bool {
	if userID == b.selfID() {
		return true
	}
	if member != nil && member.User != nil {
		return member.User.Bot
	}
	if guildID == "" {
		return false
	}
	if m, err := b.session.State.Member(guildID, userID); err == nil && m.User != nil {
		return m.User.Bot
	}
	return false
}

// reactionToken renders a reaction the way AttachSignal accepts it:
// the unicode character for standard emoji, name:id for custom ones.
func reactionToken(e discordgo.Emoji) string {
	if e.ID == "" {
		return e.Name
	}
	return fmt.Sprintf("%s:%s", e.Name, e.ID)
}
