package laythe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleWarnCommand dispatches the warn subcommands.
func (lt *Laythe) handleWarnCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		editReply(ctx, handler, "Missing subcommand.")
		return
	}
	sub := options[0]
	switch sub.Name {
	case "add":
		lt.warnAdd(ctx, handler, sub)
	case "remove":
		lt.warnRemove(ctx, handler, sub)
	case "list":
		lt.warnList(ctx, handler, sub)
	case "show":
		lt.warnShow(ctx, handler, sub)
	default:
		editReply(ctx, handler, fmt.Sprintf("Unknown subcommand: %s", sub.Name))
	}
}

func (lt *Laythe) warnAdd(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := subcommandOptions(sub)

	target := resolvedUserOption(i, options[commandOptionUser])
	reason := options[commandOptionReason].StringValue()
	mod := getDiscordUser(i)

	if target.ID == mod.ID {
		editReply(ctx, handler, "You can't warn yourself.")
		return
	}
	if target.Bot {
		editReply(ctx, handler, "Bots can't be warned.")
		return
	}

	warn := NewWarn(i.GuildID, target.ID, mod.ID, reason)
	if err := lt.writeDB.AddWarn(ctx, warn); err != nil {
		logger.ErrorContext(ctx, "error saving warn", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	logger.InfoContext(ctx, "added warn", "warn", warn)

	count, err := lt.db.CountWarns(ctx, i.GuildID, target.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error counting warns", tint.Err(err))
		editReply(
			ctx, handler, fmt.Sprintf(
				"Warned %s (warning #%d).", target.Mention(), warn.ID,
			),
		)
		return
	}

	actionNote := lt.applyWarnAction(ctx, handler, target, count)

	reply := fmt.Sprintf(
		"Warned %s (warning #%d, %d total).",
		target.Mention(), warn.ID, count,
	)
	if actionNote != "" {
		reply += " " + actionNote
	}
	editReply(ctx, handler, reply)

	lt.logModAction(ctx, i.GuildID, &discordgo.MessageEmbed{
		Title:       "Member warned",
		Description: reason,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: target.Mention(), Inline: true},
			{Name: "Moderator", Value: mod.Mention(), Inline: true},
			{Name: "Warning", Value: fmt.Sprintf("#%d (%d total)", warn.ID, count), Inline: true},
		},
		Timestamp: time.Unix(warn.Date, 0).UTC().Format(time.RFC3339),
	})
}

// applyWarnAction checks the guild's configured warn thresholds against
// the member's warn count and applies the matching action, if any.
// Returns a short note describing what was done.
func (lt *Laythe) applyWarnAction(
	ctx context.Context,
	handler InteractionHandler,
	target *discordgo.User,
	count int64,
) string {
	i := handler.GetInteraction()
	logger := handler.Logger()

	setting, err := lt.db.GetSetting(ctx, i.GuildID, false)
	if err != nil {
		logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
		return ""
	}
	raw, ok := setting.WarnActions.GetInt(count)
	if !ok {
		return ""
	}
	action := WarnAction(raw)

	switch action {
	case WarnActionMute:
		muteRole := setting.MuteRole.String()
		if muteRole == "" {
			return "Mute threshold reached, but no mute role is configured."
		}
		if err = lt.discord.session.GuildMemberRoleAdd(
			i.GuildID, target.ID, muteRole,
		); err != nil {
			logger.ErrorContext(ctx, "error muting member", tint.Err(err))
			return "Mute threshold reached, but muting failed."
		}
		return fmt.Sprintf("Muted for reaching %d warnings.", count)
	case WarnActionKick:
		if err = lt.discord.session.GuildMemberDeleteWithReason(
			i.GuildID, target.ID,
			fmt.Sprintf("Reached %d warnings", count),
		); err != nil {
			logger.ErrorContext(ctx, "error kicking member", tint.Err(err))
			return "Kick threshold reached, but kicking failed."
		}
		return fmt.Sprintf("Kicked for reaching %d warnings.", count)
	case WarnActionBan:
		if err = lt.discord.session.GuildBanCreateWithReason(
			i.GuildID, target.ID,
			fmt.Sprintf("Reached %d warnings", count), 0,
		); err != nil {
			logger.ErrorContext(ctx, "error banning member", tint.Err(err))
			return "Ban threshold reached, but banning failed."
		}
		return fmt.Sprintf("Banned for reaching %d warnings.", count)
	default:
		return ""
	}
}

func (lt *Laythe) warnRemove(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := subcommandOptions(sub)

	id := options[commandOptionWarnID].IntValue()
	warn, err := lt.db.GetWarnByID(ctx, i.GuildID, uint(id))
	if err != nil {
		logger.ErrorContext(ctx, "error looking up warn", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if warn == nil {
		editReply(ctx, handler, fmt.Sprintf("No warning found with ID %d.", id))
		return
	}

	removed, err := lt.writeDB.RemoveWarn(ctx, warn)
	if err != nil {
		logger.ErrorContext(ctx, "error removing warn", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if !removed {
		editReply(ctx, handler, fmt.Sprintf("No warning found with ID %d.", id))
		return
	}
	logger.InfoContext(ctx, "removed warn", "warn", warn)
	editReply(
		ctx, handler, fmt.Sprintf(
			"Removed warning #%d for <@%s>.", warn.ID, warn.UserID,
		),
	)
}

func (lt *Laythe) warnList(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := subcommandOptions(sub)

	var userID string
	if opt, ok := options[commandOptionUser]; ok {
		userID = resolvedUserOption(i, opt).ID
	}

	warns, err := lt.db.ListWarns(ctx, i.GuildID, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error listing warns", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if len(warns) == 0 {
		editReply(ctx, handler, "No warnings found.")
		return
	}

	var sb strings.Builder
	for _, w := range warns {
		fmt.Fprintf(
			&sb,
			"`#%d` <@%s> by <@%s> <t:%d:R>: %s\n",
			w.ID, w.UserID, w.ModID, w.Date,
			shortenString(w.Reason, 80),
		)
		if sb.Len() > discordMaxMessageLength-200 {
			fmt.Fprintf(&sb, "… and %d more", len(warns))
			break
		}
	}

	editReplyEmbed(
		ctx, handler, &discordgo.MessageEmbed{
			Title:       fmt.Sprintf("Warnings (%d)", len(warns)),
			Description: sb.String(),
		},
	)
}

func (lt *Laythe) warnShow(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := subcommandOptions(sub)

	id := options[commandOptionWarnID].IntValue()
	warn, err := lt.db.GetWarnByID(ctx, i.GuildID, uint(id))
	if err != nil {
		logger.ErrorContext(ctx, "error looking up warn", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if warn == nil {
		editReply(ctx, handler, fmt.Sprintf("No warning found with ID %d.", id))
		return
	}

	editReplyEmbed(
		ctx, handler, &discordgo.MessageEmbed{
			Title:       fmt.Sprintf("Warning #%d", warn.ID),
			Description: warn.Reason,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Member", Value: fmt.Sprintf("<@%s>", warn.UserID), Inline: true},
				{Name: "Moderator", Value: fmt.Sprintf("<@%s>", warn.ModID), Inline: true},
				{Name: "Issued", Value: fmt.Sprintf("<t:%d:F>", warn.Date), Inline: true},
			},
		},
	)
}
