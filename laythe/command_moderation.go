package laythe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// bulkDeleteMaxAge is the age past which Discord refuses bulk deletion.
const bulkDeleteMaxAge = 14 * 24 * time.Hour

const (
	// muteTimeoutMaxMinutes is the longest timeout discord accepts (7 days).
	muteTimeoutMaxMinutes = float64(7 * 24 * 60)

	// muteTimeoutDefault applies when no mute role is configured and no
	// duration was given.
	muteTimeoutDefault = time.Hour
)

// handlePurgeCommand deletes up to 100 recent messages from the current
// channel, optionally filtered to a single author or to messages after a
// given message ID. Messages older than the bulk delete window are
// skipped.
func (lt *Laythe) handlePurgeCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := discordInteractionOptions(i)

	count := options[commandOptionCount].IntValue()
	if count < 1 {
		editReply(ctx, handler, "Nothing to delete.")
		return
	}
	if count > purgeMaxMessages {
		count = purgeMaxMessages
	}

	var authorID string
	if opt, ok := options[commandOptionUser]; ok {
		authorID = resolvedUserOption(i, opt).ID
	}

	var afterID string
	if opt, ok := options[commandOptionAfter]; ok {
		afterID = opt.StringValue()
		if _, snErr := ParseSnowflake(afterID); snErr != nil {
			editReply(ctx, handler, "That doesn't look like a message ID.")
			return
		}
	}

	messages, err := lt.discord.session.ChannelMessages(
		i.ChannelID, defaultPurgeFetchSize, "", afterID, "",
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching messages", tint.Err(err))
		editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
		return
	}

	cutoff := time.Now().UTC().Add(-bulkDeleteMaxAge)
	ids := make([]string, 0, count)
	for _, m := range messages {
		if int64(len(ids)) >= count {
			break
		}
		if authorID != "" && (m.Author == nil || m.Author.ID != authorID) {
			continue
		}
		if ts, tsErr := ParseSnowflake(m.ID); tsErr == nil && ts.Before(cutoff) {
			continue
		}
		ids = append(ids, m.ID)
	}

	if len(ids) == 0 {
		editReply(ctx, handler, "No matching messages recent enough to delete.")
		return
	}

	if err = lt.discord.session.ChannelMessagesBulkDelete(
		i.ChannelID, ids,
	); err != nil {
		logger.ErrorContext(ctx, "error bulk deleting messages", tint.Err(err))
		editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
		return
	}

	logger.InfoContext(
		ctx, "purged messages",
		"channel_id", i.ChannelID,
		"count", len(ids),
		"author_filter", authorID,
	)
	editReply(ctx, handler, fmt.Sprintf("Deleted %d messages.", len(ids)))
}

// handleMuteCommand assigns the configured mute role.
func (lt *Laythe) handleMuteCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := discordInteractionOptions(i)

	target := resolvedUserOption(i, options[commandOptionUser])
	reason := ""
	if opt, ok := options[commandOptionReason]; ok {
		reason = opt.StringValue()
	}

	setting, err := lt.db.GetSetting(ctx, i.GuildID, false)
	if err != nil {
		logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	muteRole := setting.MuteRole.String()
	if muteRole != "" {
		if err = lt.discord.session.GuildMemberRoleAdd(
			i.GuildID, target.ID, muteRole,
		); err != nil {
			logger.ErrorContext(ctx, "error adding mute role", tint.Err(err))
			editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
			return
		}
		editReply(ctx, handler, fmt.Sprintf("Muted %s.", target.Mention()))
	} else {
		// no mute role - fall back to a timeout
		duration := muteTimeoutDefault
		if opt, ok := options[commandOptionMinutes]; ok {
			duration = time.Duration(opt.IntValue()) * time.Minute
		}
		until := time.Now().UTC().Add(duration)
		if err = lt.discord.session.GuildMemberTimeout(
			i.GuildID, target.ID, &until,
		); err != nil {
			logger.ErrorContext(ctx, "error timing out member", tint.Err(err))
			editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
			return
		}
		editReply(
			ctx, handler,
			fmt.Sprintf("Timed out %s until <t:%d:f>.", target.Mention(), until.Unix()),
		)
	}
	lt.logModAction(ctx, i.GuildID, &discordgo.MessageEmbed{
		Title:       "Member muted",
		Description: reason,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: target.Mention(), Inline: true},
			{Name: "Moderator", Value: getDiscordUser(i).Mention(), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleUnmuteCommand removes the configured mute role.
func (lt *Laythe) handleUnmuteCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := discordInteractionOptions(i)

	target := resolvedUserOption(i, options[commandOptionUser])

	setting, err := lt.db.GetSetting(ctx, i.GuildID, false)
	if err != nil {
		logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	muteRole := setting.MuteRole.String()
	if muteRole != "" {
		if err = lt.discord.session.GuildMemberRoleRemove(
			i.GuildID, target.ID, muteRole,
		); err != nil {
			logger.ErrorContext(ctx, "error removing mute role", tint.Err(err))
			editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
			return
		}
	} else if err = lt.discord.session.GuildMemberTimeout(
		i.GuildID, target.ID, nil,
	); err != nil {
		logger.ErrorContext(ctx, "error clearing timeout", tint.Err(err))
		editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
		return
	}

	editReply(ctx, handler, fmt.Sprintf("Unmuted %s.", target.Mention()))
}

// handleKickCommand removes a member from the guild.
func (lt *Laythe) handleKickCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := discordInteractionOptions(i)

	target := resolvedUserOption(i, options[commandOptionUser])
	reason := ""
	if opt, ok := options[commandOptionReason]; ok {
		reason = opt.StringValue()
	}

	if target.ID == getDiscordUser(i).ID {
		editReply(ctx, handler, "You can't kick yourself.")
		return
	}

	if err := lt.discord.session.GuildMemberDeleteWithReason(
		i.GuildID, target.ID, reason,
	); err != nil {
		logger.ErrorContext(ctx, "error kicking member", tint.Err(err))
		editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
		return
	}

	editReply(ctx, handler, fmt.Sprintf("Kicked %s.", target.Mention()))
	lt.logModAction(ctx, i.GuildID, &discordgo.MessageEmbed{
		Title:       "Member kicked",
		Description: reason,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: target.Mention(), Inline: true},
			{Name: "Moderator", Value: getDiscordUser(i).Mention(), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleBanCommand bans a user, optionally deleting recent message
// history.
func (lt *Laythe) handleBanCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := discordInteractionOptions(i)

	target := resolvedUserOption(i, options[commandOptionUser])
	reason := ""
	if opt, ok := options[commandOptionReason]; ok {
		reason = opt.StringValue()
	}
	days := int64(0)
	if opt, ok := options[commandOptionDays]; ok {
		days = opt.IntValue()
	}

	if target.ID == getDiscordUser(i).ID {
		editReply(ctx, handler, "You can't ban yourself.")
		return
	}

	if err := lt.discord.session.GuildBanCreateWithReason(
		i.GuildID, target.ID, reason, int(days),
	); err != nil {
		logger.ErrorContext(ctx, "error banning user", tint.Err(err))
		editReply(ctx, handler, discordErrToReply(err, lt.RuntimeConfig()))
		return
	}

	editReply(ctx, handler, fmt.Sprintf("Banned %s.", target.Mention()))
	lt.logModAction(ctx, i.GuildID, &discordgo.MessageEmbed{
		Title:       "Member banned",
		Description: reason,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: target.Mention(), Inline: true},
			{Name: "Moderator", Value: getDiscordUser(i).Mention(), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// discordErrToReply maps a discord API error to a user-facing message.
func discordErrToReply(err error, config RuntimeConfig) string {
	domainErr := discordErrToDomain(err)
	var permErr *PermissionError
	if errors.As(domainErr, &permErr) {
		return permErr.Error()
	}
	if errors.Is(domainErr, ErrNotFound) {
		return "That member could not be found."
	}
	return config.DiscordErrorMessage
}
