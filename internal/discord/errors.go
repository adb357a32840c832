package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"roompool/bot/internal/platform"
)

// mapError folds REST failures the engines treat specially into the
// platform sentinels, keeping the original error in the chain.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, platform.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, platform.ErrForbidden, err)
		}
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%s: %w: %w", op, platform.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, platform.ErrNotFound)
}
