// Package platform holds the data shapes exchanged with the chat platform.
// Engines depend on these types and on small interfaces they declare
// themselves; the discord package is the only code that knows the
// transport's own event and model types.
package platform

import "errors"

type (
	GroupID   string
	RoomID    string
	UserID    string
	RoleID    string
	ChannelID string
	MessageID string
)

var (
	// ErrNotFound means the room, message or member no longer exists.
	// Engines treat it as a benign outcome of racing the platform.
	ErrNotFound = errors.New("platform: not found")
	// ErrForbidden means the bot lacks the permission for the call.
	ErrForbidden = errors.New("platform: forbidden")
)

// Occupant is a member currently connected to a room.
type Occupant struct {
	ID  UserID
	Bot bool
	// Activity is the label of what the member is playing, empty when
	// the member reports no activity.
	Activity string
}

// Room is a snapshot of one voice room inside a group.
type Room struct {
	ID         RoomID
	Group      GroupID
	Name       string
	Position   int
	Capacity   int
	Restricted bool
	Occupants  []Occupant
}

func (r Room) Empty() bool { return len(r.Occupants) == 0 }

// Humans returns the non-bot occupants in snapshot order.
func (r Room) Humans() []Occupant {
	humans := make([]Occupant, 0, len(r.Occupants))
	for _, occupant := range r.Occupants {
		if !occupant.Bot {
			humans = append(humans, occupant)
		}
	}
	return humans
}

// Has reports whether user is connected to the room.
func (r Room) Has(user UserID) bool {
	for _, occupant := range r.Occupants {
		if occupant.ID == user {
			return true
		}
	}
	return false
}

// RoomRef locates a room without carrying its occupancy.
type RoomRef struct {
	ID    RoomID
	Group GroupID
}

// OccupancyEvent is delivered when a member joins, leaves or moves
// between rooms. Previous is nil on join and Current is nil on leave.
type OccupancyEvent struct {
	Actor    UserID
	Previous *RoomRef
	Current  *RoomRef
}

// Changed reports whether the event moved the actor between rooms.
// Mute, deafen and similar updates arrive with Previous == Current.
func (e OccupancyEvent) Changed() bool {
	if e.Previous == nil || e.Current == nil {
		return e.Previous != nil || e.Current != nil
	}
	return e.Previous.ID != e.Current.ID
}

// Groups returns the distinct groups touched by the event, current
// group first.
func (e OccupancyEvent) Groups() []GroupID {
	var groups []GroupID
	if e.Current != nil && e.Current.Group != "" {
		groups = append(groups, e.Current.Group)
	}
	if e.Previous != nil && e.Previous.Group != "" {
		if len(groups) == 0 || groups[0] != e.Previous.Group {
			groups = append(groups, e.Previous.Group)
		}
	}
	return groups
}

// PresenceEvent is delivered when a member's activity changes. Room is
// the member's current room, nil when they are not connected anywhere.
type PresenceEvent struct {
	Actor    UserID
	Room     *RoomRef
	Activity string
}

// Message is a posted chat message.
type Message struct {
	ID      MessageID
	Channel ChannelID
}

// Signal is a reaction placed on a message.
type Signal struct {
	Message MessageID
	Token   string
	Actor   UserID
	Bot     bool
}

// Mention renders a user reference the way the chat platform expands it
// in message content.
func Mention(id UserID) string {
	return "<@" + string(id) + ">"
}
