package telegram

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "flowwatch/internal/transport"
)

var unreachable = []error{
	tele.ErrChatNotFound,
	tele.ErrBlockedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrUserIsDeactivated,
}

var unreachableText = []string{
	"chat not found",
	"bot was blocked by the user",
	"bot was kicked",
	"user is deactivated",
	"bot is not a member",
	"group chat was upgraded",
}

var goneText = []string{
	"message to edit not found",
	"message to delete not found",
	"message can't be edited",
	"message can't be deleted",
}

// classify wraps Telegram API errors with the transport sentinel they
// correspond to. Unknown errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range unreachable {
		if errors.Is(err, e) {
			return fmt.Errorf("%w: %w", kit.ErrUnreachable, err)
		}
	}
	if errors.Is(err, tele.ErrMessageNotModified) {
		return fmt.Errorf("%w: %w", kit.ErrMessageNotModified, err)
	}
	if errors.Is(err, tele.ErrNotFoundToDelete) {
		return fmt.Errorf("%w: %w", kit.ErrMessageGone, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "message is not modified") {
		return fmt.Errorf("%w: %w", kit.ErrMessageNotModified, err)
	}
	for _, s := range unreachableText {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %w", kit.ErrUnreachable, err)
		}
	}
	for _, s := range goneText {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %w", kit.ErrMessageGone, err)
		}
	}
	return err
}
