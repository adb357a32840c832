package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"roompool/bot/internal/commands"
	"roompool/bot/internal/platform"
)

var optionTypes = map[commands.OptionKind]discordgo.ApplicationCommandOptionType{
	commands.OptionUser:    discordgo.ApplicationCommandOptionUser,
	commands.OptionInteger: discordgo.ApplicationCommandOptionInteger,
	commands.OptionString:  discordgo.ApplicationCommandOptionString,
	commands.OptionRole:    discordgo.ApplicationCommandOptionRole,
}

// applicationCommands converts the catalog into registration payloads.
func applicationCommands(catalog []commands.Command) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(catalog))
	for _, c := range catalog {
		cmd := &discordgo.ApplicationCommand{Name: c.Name, Description: c.Description}
		for _, o := range c.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:        optionTypes[o.Kind],
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			}
			for _, choice := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: choice, Value: choice})
			}
			cmd.Options = append(cmd.Options, opt)
		}
		out = append(out, cmd)
	}
	return out
}

// registerCommands replaces the application's command set. Without a
// guild id the commands are registered globally.
func (b *Bot) registerCommands() error {
	self := b.selfID()
	if self == "" {
		return fmt.Errorf("register commands: no application id")
	}
	cmds, err := b.session.ApplicationCommandBulkOverwrite(self, b.guildID, applicationCommands(commands.Catalog))
	if err != nil {
		return mapError("register commands", err)
	}
	b.logger.Info("discord: commands registered", "count", len(cmds), "guild", b.guildID)
	return nil
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ev := b.eventHandler()
	if ev == nil {
		return
	}

	// Votes outlive the three second acknowledgement window.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		b.logger.Error("discord: acknowledge interaction", "err", err)
		return
	}

	req := b.commandRequest(i)
	go func() {
		reply, err := ev.HandleCommand(b.ctx, req)
		if err != nil {
			b.logger.Debug("discord: command rejected", "command", req.Name, "user", req.Invoker, "err", err)
			reply = commands.ReplyFor(err)
		}
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
			b.logger.Error("discord: reply to interaction", "command", req.Name, "err", err)
		}
	}()
}

func (b *Bot) commandRequest(i *discordgo.InteractionCreate) commands.Request {
	data := i.ApplicationCommandData()
	req := commands.Request{
		Name:    data.Name,
		Channel: platform.ChannelID(i.ChannelID),
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		req.Invoker = platform.UserID(i.Member.User.ID)
	case i.User != nil:
		req.Invoker = platform.UserID(i.User.ID)
	}
	if ch, err := b.session.State.Channel(i.ChannelID); err == nil {
		req.Group = platform.GroupID(ch.ParentID)
	}
	applyOptions(&req, data.Options)
	return req
}

func applyOptions(req *commands.Request, options []*discordgo.ApplicationCommandInteractionDataOption) {
	for _, o := range options {
		switch o.Name {
		case "user":
			req.Target = platform.UserID(optionID(o))
		case "maxusers":
			req.Max = int(o.IntValue())
		case "state":
			req.State = o.StringValue()
		case "exclude":
			req.Exclude = platform.RoleID(optionID(o))
		case "command":
			req.Command = o.StringValue()
		}
	}
}

// optionID reads the snowflake carried by user and role options.
func optionID(o *discordgo.ApplicationCommandInteractionDataOption) string {
	id, _ := o.Value.(string)
	return id
}
