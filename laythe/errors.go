package laythe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ErrNotFound marks a referenced warn/user/role that does not exist.
// Handlers render it locally with a fallback message.
var ErrNotFound = errors.New("not found")

// ValidationError is malformed user input caught at the handler
// boundary. It is turned into a user-facing message and never
// propagated further.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// PermissionError indicates the caller or the bot lacks a required
// capability, carrying the missing permission names so the shared
// handler boundary can render them.
type PermissionError struct {
	// Missing holds the human-readable names of the missing permissions.
	Missing []string

	// Bot is true when the bot itself lacks the permission, as opposed
	// to the invoking user.
	Bot bool
}

func (e *PermissionError) Error() string {
	who := "user"
	if e.Bot {
		who = "bot"
	}
	return fmt.Sprintf(
		"%s missing permissions: %s",
		who,
		strings.Join(e.Missing, ", "),
	)
}

var permissionNames = map[int64]string{
	discordgo.PermissionKickMembers:           "Kick Members",
	discordgo.PermissionBanMembers:            "Ban Members",
	discordgo.PermissionManageRoles:           "Manage Roles",
	discordgo.PermissionManageMessages:        "Manage Messages",
	discordgo.PermissionManageChannels:        "Manage Channels",
	discordgo.PermissionManageServer:          "Manage Server",
	discordgo.PermissionManageWebhooks:        "Manage Webhooks",
	discordgo.PermissionModerateMembers:       "Timeout Members",
	discordgo.PermissionAdministrator:         "Administrator",
	discordgo.PermissionSendMessages:          "Send Messages",
	discordgo.PermissionEmbedLinks:            "Embed Links",
	discordgo.PermissionAttachFiles:           "Attach Files",
	discordgo.PermissionReadMessageHistory:    "Read Message History",
	discordgo.PermissionUseExternalEmojis:     "Use External Emojis",
	discordgo.PermissionViewChannel:           "View Channel",
	discordgo.PermissionVoiceMuteMembers:      "Mute Members",
}

// newPermissionError builds a PermissionError from a permission
// bitmask, naming each missing bit.
func newPermissionError(missing int64, bot bool) *PermissionError {
	var names []string
	for bit, name := range permissionNames {
		if missing&bit != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		names = []string{fmt.Sprintf("0x%x", missing)}
	}
	return &PermissionError{Missing: names, Bot: bot}
}

// discordErrToDomain converts discordgo REST errors into the local
// taxonomy where possible: 403s become PermissionError, 404s become
// ErrNotFound. Anything else passes through unchanged.
func discordErrToDomain(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Response == nil {
		return err
	}
	switch restErr.Response.StatusCode {
	case 403:
		return &PermissionError{Missing: []string{"(reported by Discord)"}, Bot: true}
	case 404:
		return fmt.Errorf("%w: %s", ErrNotFound, restErr.Message.Message)
	default:
		return err
	}
}
