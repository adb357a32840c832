package commands

import "time"

type OptionKind string

const (
	OptionUser    OptionKind = "user"
	OptionInteger OptionKind = "integer"
	OptionString  OptionKind = "string"
	OptionRole    OptionKind = "role"
)

type Option struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
	Choices     []string
}

// Command describes one slash command for registration and /help.
type Command struct {
	Name        string
	Description string
	Options     []Option
	Cooldown    time.Duration
}

// Catalog lists every command in registration order.
var Catalog = []Command{
	{
		Name:        "boot",
		Description: "Boot a user from the voice channel",
		Options: []Option{
			{Name: "user", Description: "The user to boot", Kind: OptionUser, Required: true},
		},
		Cooldown: 120 * time.Second,
	},
	{
		Name:        "setmax",
		Description: "Set the maximum number of users that can connect to your voice channel. '0' will reset it.",
		Options: []Option{
			{Name: "maxusers", Description: "Max users limit", Kind: OptionInteger, Required: true},
		},
		Cooldown: 20 * time.Second,
	},
	{
		Name:        "lock",
		Description: "Lock the voice channel so only the current occupants can join",
		Cooldown:    20 * time.Second,
	},
	{
		Name:        "unlock",
		Description: "Unlock the voice channel so everyone can join again",
		Cooldown:    20 * time.Second,
	},
	{
		Name:        "setvad",
		Description: "Allow or disallow Voice Activation. When disallowing, a role to exclude can be passed.",
		Options: []Option{
			{Name: "state", Description: "Turn VAD on or off", Kind: OptionString, Required: true, Choices: []string{"on", "off"}},
			{Name: "exclude", Description: "Role to exclude from the VAD setting", Kind: OptionRole},
		},
		Cooldown: 20 * time.Second,
	},
	{
		Name:        "help",
		Description: "List all of my commands or info about a specific command.",
		Options: []Option{
			{Name: "command", Description: "The command you want help with", Kind: OptionString},
		},
		Cooldown: 5 * time.Second,
	},
	{
		Name:        "ping",
		Description: "Replies with Pong!",
	},
}

func lookupCommand(name string) (Command, bool) {
	for _, c := range Catalog {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}
