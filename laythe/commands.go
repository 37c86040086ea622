package laythe

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandLevel       = "level"
	DiscordSlashCommandLeaderboard = "leaderboard"
	DiscordSlashCommandLevelReset  = "levelreset"
	DiscordSlashCommandWarn        = "warn"
	DiscordSlashCommandPurge       = "purge"
	DiscordSlashCommandMute        = "mute"
	DiscordSlashCommandUnmute      = "unmute"
	DiscordSlashCommandKick        = "kick"
	DiscordSlashCommandBan         = "ban"
	DiscordSlashCommandSetting     = "setting"

	commandOptionUser     = "user"
	commandOptionReason   = "reason"
	commandOptionWarnID   = "id"
	commandOptionCount    = "count"
	commandOptionDays     = "days"
	commandOptionField    = "field"
	commandOptionValue    = "value"
	commandOptionAll      = "all"
	commandOptionPage     = "page"
	commandOptionMinutes  = "minutes"
	commandOptionAfter    = "after"
	leaderboardPageSize   = 10
	purgeMaxMessages      = 100
	defaultPurgeFetchSize = 100
)

// applicationCommands returns the full set of slash commands sent to the
// bulk overwrite endpoint on startup.
func applicationCommands() []*discordgo.ApplicationCommand {
	permModerate := int64(discordgo.PermissionModerateMembers)
	permManageMessages := int64(discordgo.PermissionManageMessages)
	permKick := int64(discordgo.PermissionKickMembers)
	permBan := int64(discordgo.PermissionBanMembers)
	permManageServer := int64(discordgo.PermissionManageServer)
	dmDisabled := false

	return []*discordgo.ApplicationCommand{
		{
			Name:         DiscordSlashCommandLevel,
			Description:  "Show a member's level and experience",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        commandOptionUser,
					Description: "Member to look up (defaults to you)",
				},
			},
		},
		{
			Name:         DiscordSlashCommandLeaderboard,
			Description:  "Show the server experience leaderboard",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        commandOptionPage,
					Description: "Page to show",
					MinValue:    &minPageValue,
				},
			},
		},
		{
			Name:                     DiscordSlashCommandLevelReset,
			Description:              "Reset experience for a member, or the whole server",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permManageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        commandOptionUser,
					Description: "Member to reset",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        commandOptionAll,
					Description: "Reset every member in the server",
				},
			},
		},
		{
			Name:                     DiscordSlashCommandWarn,
			Description:              "Manage member warnings",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Warn a member",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        commandOptionUser,
							Description: "Member to warn",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandOptionReason,
							Description: "Reason for the warning",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a warning by ID",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        commandOptionWarnID,
							Description: "Warning ID",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List warnings for the server or a member",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        commandOptionUser,
							Description: "Member to filter by",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "show",
					Description: "Show a warning by ID",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        commandOptionWarnID,
							Description: "Warning ID",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:                     DiscordSlashCommandPurge,
			Description:              "Bulk delete recent messages in this channel",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permManageMessages,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        commandOptionCount,
					Description: "Number of messages to delete (max 100)",
					Required:    true,
					MinValue:    &minPageValue,
					MaxValue:    purgeMaxMessages,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        commandOptionUser,
					Description: "Only delete messages from this member",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionAfter,
					Description: "Only delete messages after this message ID",
				},
			},
		},
		{
			Name:                     DiscordSlashCommandMute,
			Description:              "Mute a member (mute role, or a timeout if none is set)",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        commandOptionUser,
					Description: "Member to mute",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        commandOptionMinutes,
					Description: "Timeout length in minutes, when no mute role is set",
					MinValue:    &minPageValue,
					MaxValue:    muteTimeoutMaxMinutes,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionReason,
					Description: "Reason",
				},
			},
		},
		{
			Name:                     DiscordSlashCommandUnmute,
			Description:              "Remove the configured mute role from a member",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permModerate,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        commandOptionUser,
					Description: "Member to unmute",
					Required:    true,
				},
			},
		},
		{
			Name:                     DiscordSlashCommandKick,
			Description:              "Kick a member from the server",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permKick,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        commandOptionUser,
					Description: "Member to kick",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionReason,
					Description: "Reason",
				},
			},
		},
		{
			Name:                     DiscordSlashCommandBan,
			Description:              "Ban a user from the server",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permBan,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        commandOptionUser,
					Description: "User to ban",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        commandOptionDays,
					Description: "Days of message history to delete (0-7)",
					MaxValue:    7,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionReason,
					Description: "Reason",
				},
			},
		},
		{
			Name:                     DiscordSlashCommandSetting,
			Description:              "View or modify server settings",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &dmDisabled,
			DefaultMemberPermissions: &permManageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show the current server settings",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "modify",
					Description: "Change a server setting",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandOptionField,
							Description: "Setting to change",
							Required:    true,
							Choices:     settingFieldChoices(),
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandOptionValue,
							Description: "New value (omit to be prompted for one)",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "reset",
					Description: "Reset all server settings to their defaults",
				},
			},
		},
	}
}

var minPageValue = float64(1)

// InteractionHandler defines the interface for responding to Discord
// interactions. Implementations wrap a live gateway session, or a mock
// in tests.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions
// received via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	mu          *sync.RWMutex
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
	return err
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// editReply edits the deferred interaction response with plain text
// content, truncated to the discord message limit.
func editReply(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	content = shortenString(content, discordMaxMessageLength)
	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{Content: &content},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error editing interaction reply", tint.Err(err),
		)
	}
}

// editReplyEmbed edits the deferred interaction response with an embed.
func editReplyEmbed(
	ctx context.Context,
	handler InteractionHandler,
	embed *discordgo.MessageEmbed,
) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{Embeds: &embeds},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error editing interaction reply", tint.Err(err),
		)
	}
}
