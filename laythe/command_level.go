package laythe

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// resolvedUserOption returns the discord user for a user-type command
// option, preferring the resolved user data attached to the interaction.
func resolvedUserOption(
	i *discordgo.InteractionCreate,
	opt *discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.User {
	id, _ := opt.Value.(string)
	if data := i.ApplicationCommandData(); data.Resolved != nil {
		if u, ok := data.Resolved.Users[id]; ok {
			return u
		}
	}
	return &discordgo.User{ID: id}
}

// handleLevelCommand replies with the target member's level, cumulative
// experience and server rank.
func (lt *Laythe) handleLevelCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	setting, err := lt.db.GetSetting(ctx, i.GuildID, false)
	if err != nil {
		logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if !setting.Flags.UseLevel() {
		editReply(ctx, handler, "Leveling is not enabled on this server.")
		return
	}

	target := getDiscordUser(i)
	options := discordInteractionOptions(i)
	if opt, ok := options[commandOptionUser]; ok {
		target = resolvedUserOption(i, opt)
	}

	level, err := lt.db.GetLevel(ctx, i.GuildID, target.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error loading level", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}

	rank := int64(0)
	ranked, err := lt.db.Rank(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error computing rank", tint.Err(err))
	} else {
		for _, r := range ranked {
			if r.UserID == target.ID {
				rank = r.Rank
				break
			}
		}
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Level %d", level.Level),
		Author: &discordgo.MessageEmbedAuthor{
			Name:    target.Username,
			IconURL: target.AvatarURL("64"),
		},
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Experience",
				Value: fmt.Sprintf(
					"%d / %.0f",
					level.Exp,
					RequiredExp(level.Level+1),
				),
				Inline: true,
			},
			{
				Name:   "Progress",
				Value:  fmt.Sprintf("%d%%", ProgressPercent(level.Exp, level.Level)),
				Inline: true,
			},
		},
	}
	if rank > 0 {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:   "Rank",
				Value:  fmt.Sprintf("#%d", rank),
				Inline: true,
			},
		)
	}
	editReplyEmbed(ctx, handler, embed)
}

// handleLeaderboardCommand replies with a page of the guild's ranked
// leaderboard. Ties share a rank.
func (lt *Laythe) handleLeaderboardCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	setting, err := lt.db.GetSetting(ctx, i.GuildID, false)
	if err != nil {
		logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if !setting.Flags.UseLevel() {
		editReply(ctx, handler, "Leveling is not enabled on this server.")
		return
	}

	page := int64(1)
	options := discordInteractionOptions(i)
	if opt, ok := options[commandOptionPage]; ok {
		page = opt.IntValue()
	}

	ranked, err := lt.db.Rank(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error computing leaderboard", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if len(ranked) == 0 {
		editReply(ctx, handler, "Nobody has earned experience yet.")
		return
	}

	pages := chunkItems(leaderboardPageSize, ranked...)
	if page < 1 {
		page = 1
	}
	if int(page) > len(pages) {
		page = int64(len(pages))
	}

	var sb strings.Builder
	for _, r := range pages[int(page)-1] {
		fmt.Fprintf(
			&sb,
			"`#%d` <@%s> - level %d (%d exp)\n",
			r.Rank, r.UserID, r.Level.Level, r.Exp,
		)
	}

	editReplyEmbed(
		ctx, handler, &discordgo.MessageEmbed{
			Title:       "Leaderboard",
			Description: sb.String(),
			Footer: &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("Page %d of %d", page, len(pages)),
			},
		},
	)
}

// handleLevelResetCommand wipes experience for one member, or the
// entire guild when the all flag is set.
func (lt *Laythe) handleLevelResetCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := discordInteractionOptions(i)

	var targetID string
	if opt, ok := options[commandOptionUser]; ok {
		targetID = resolvedUserOption(i, opt).ID
	}
	resetAll := false
	if opt, ok := options[commandOptionAll]; ok {
		resetAll = opt.BoolValue()
	}

	switch {
	case resetAll:
		if err := lt.writeDB.ResetLevel(ctx, i.GuildID, ""); err != nil {
			logger.ErrorContext(ctx, "error resetting levels", tint.Err(err))
			editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
			return
		}
		editReply(ctx, handler, "Reset experience for every member.")
	case targetID != "":
		if err := lt.writeDB.ResetLevel(ctx, i.GuildID, targetID); err != nil {
			logger.ErrorContext(ctx, "error resetting level", tint.Err(err))
			editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
			return
		}
		editReply(ctx, handler, fmt.Sprintf("Reset experience for <@%s>.", targetID))
	default:
		editReply(ctx, handler, "Pick a member, or set `all` to reset everyone.")
	}
}
