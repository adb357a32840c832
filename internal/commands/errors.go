package commands

import (
	"errors"
	"fmt"
)

// Rejection is a command outcome the invoker should see verbatim.
type Rejection struct {
	Code    string
	Message string
}

func (e *Rejection) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func rejection(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// ReplyFor turns a handler error into the text shown to the invoker.
func ReplyFor(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Message
	}
	return "Something went wrong while running that command."
}

var (
	errNotConnected = rejection("not_connected", "You must be in a voice channel to use this command.")
	errWrongGroup   = rejection("wrong_group", "You cannot manage a voice channel in a different category.")
	errVotePending  = rejection("vote_pending", "There is already a vote pending on that channel.")
	errRejected     = rejection("rejected", "Request rejected by channel members.")
	errRoomGone     = rejection("room_gone", "That voice channel no longer exists.")
)
