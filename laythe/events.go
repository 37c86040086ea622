package laythe

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// expCooldown is the minimum gap between experience-earning
	// messages from the same member.
	expCooldown = 60 * time.Second

	// expMinGain and expMaxGain bound the random experience granted
	// per eligible message.
	expMinGain = 5
	expMaxGain = 25

	// levelOffTopicTag opts a channel out of experience gain when it
	// appears anywhere in the channel topic.
	levelOffTopicTag = "laythe:leveloff"
)

func (lt *Laythe) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		ctx := context.Background()

		if lt.resumeSettingSession(ctx, m) {
			return
		}

		if err := lt.kv.SetMessage(m.Message); err != nil {
			lt.logger.Warn("error caching message", tint.Err(err))
		}

		if lt.paused.Load() {
			return
		}
		lt.grantExp(ctx, m)
	}
}

// grantExp awards experience for an eligible message, levels the member
// up when the cubic curve is crossed, and hands out any configured
// reward roles.
func (lt *Laythe) grantExp(ctx context.Context, m *discordgo.MessageCreate) {
	logger := lt.logger.With(
		"guild_id", m.GuildID,
		"user_id", m.Author.ID,
	)

	setting, err := lt.db.GetSetting(ctx, m.GuildID, false)
	if err != nil {
		logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
		return
	}
	if !setting.Flags.UseLevel() {
		return
	}

	if ch, chErr := lt.discord.session.Channel(m.ChannelID); chErr == nil {
		if strings.Contains(ch.Topic, levelOffTopicTag) {
			return
		}
	}

	if last, ok := lt.kv.LastMessageTime(m.GuildID, m.Author.ID); ok {
		if time.Since(time.Unix(last, 0)) < expCooldown {
			return
		}
	}
	if err = lt.kv.TouchLastMessage(m.GuildID, m.Author.ID); err != nil {
		logger.WarnContext(ctx, "error recording message time", tint.Err(err))
	}

	level, err := lt.db.GetLevel(ctx, m.GuildID, m.Author.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error loading level", tint.Err(err))
		return
	}

	gain := rand.Int63n(expMaxGain-expMinGain+1) + expMinGain
	level.Exp += gain
	newLevel := LevelForExp(level.Exp)
	leveledUp := newLevel > level.Level
	level.Level = newLevel

	if err = lt.writeDB.PutLevel(ctx, level); err != nil {
		logger.ErrorContext(ctx, "error saving level", tint.Err(err))
		return
	}

	if !leveledUp {
		return
	}
	logger.InfoContext(
		ctx, "member leveled up",
		"level", newLevel,
		"exp", level.Exp,
	)

	if sendErr := lt.discord.channelMessageSend(
		m.ChannelID,
		fmt.Sprintf(
			"%s reached level %d!", m.Author.Mention(), newLevel,
		),
	); sendErr != nil {
		logger.WarnContext(ctx, "error sending level-up message", tint.Err(sendErr))
	}

	lt.grantRewardRoles(ctx, setting, m.GuildID, m.Author.ID, newLevel)
}

// grantRewardRoles walks the configured reward thresholds in ascending
// order, granting each role the member has earned but doesn't hold.
// The walk stops at the first threshold above the member's level.
func (lt *Laythe) grantRewardRoles(
	ctx context.Context,
	setting *Setting,
	guildID string,
	userID string,
	memberLevel int64,
) {
	if len(setting.RewardRoles) == 0 {
		return
	}
	logger := lt.logger.With("guild_id", guildID, "user_id", userID)

	held := map[string]bool{}
	if member, err := lt.discord.session.GuildMember(guildID, userID); err == nil {
		for _, roleID := range member.Roles {
			held[roleID] = true
		}
	} else {
		logger.WarnContext(ctx, "error fetching member roles", tint.Err(err))
	}

	for _, key := range setting.RewardRoles.AscendingKeys() {
		threshold, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.WarnContext(
				ctx, "skipping malformed reward threshold", "key", key,
			)
			continue
		}
		if threshold > memberLevel {
			break
		}
		roleNum, _ := setting.RewardRoles.Get(key)
		roleID := strconv.FormatInt(roleNum, 10)
		if held[roleID] {
			continue
		}
		if err = lt.discord.session.GuildMemberRoleAdd(
			guildID, userID, roleID,
		); err != nil {
			logger.ErrorContext(
				ctx, "error granting reward role",
				tint.Err(err),
				"role_id", roleID,
				"threshold", threshold,
			)
			continue
		}
		logger.InfoContext(
			ctx, "granted reward role",
			"role_id", roleID,
			"threshold", threshold,
		)
	}
}

func (lt *Laythe) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	m *discordgo.GuildMemberAdd,
) {
	return func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.User == nil {
			return
		}
		ctx := context.Background()
		logger := lt.logger.With(
			"guild_id", m.GuildID,
			"user_id", m.User.ID,
		)

		if err := lt.kv.SetMember(m.Member); err != nil {
			logger.WarnContext(ctx, "error caching member", tint.Err(err))
		}

		setting, err := lt.db.GetSetting(ctx, m.GuildID, false)
		if err != nil {
			logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
			return
		}

		if setting.Greet != "" && setting.WelcomeChannel != "" {
			if sendErr := lt.discord.channelMessageSend(
				setting.WelcomeChannel.String(),
				renderTemplate(setting.Greet.String(), m.User),
			); sendErr != nil {
				logger.WarnContext(ctx, "error sending greeting", tint.Err(sendErr))
			}
		}

		if setting.GreetDM != "" {
			dm, dmErr := lt.discord.session.UserChannelCreate(m.User.ID)
			if dmErr != nil {
				logger.WarnContext(ctx, "error opening DM channel", tint.Err(dmErr))
			} else if sendErr := lt.discord.channelMessageSend(
				dm.ID,
				renderTemplate(setting.GreetDM.String(), m.User),
			); sendErr != nil {
				logger.WarnContext(ctx, "error sending DM greeting", tint.Err(sendErr))
			}
		}

		lt.logMemberEvent(ctx, setting, "Member joined", m.User)
	}
}

func (lt *Laythe) handlerGuildMemberRemove() func(
	s *discordgo.Session,
	m *discordgo.GuildMemberRemove,
) {
	return func(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
		if m.User == nil {
			return
		}
		ctx := context.Background()
		logger := lt.logger.With(
			"guild_id", m.GuildID,
			"user_id", m.User.ID,
		)

		setting, err := lt.db.GetSetting(ctx, m.GuildID, false)
		if err != nil {
			logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
			return
		}

		if setting.Bye != "" && setting.WelcomeChannel != "" {
			if sendErr := lt.discord.channelMessageSend(
				setting.WelcomeChannel.String(),
				renderTemplate(setting.Bye.String(), m.User),
			); sendErr != nil {
				logger.WarnContext(ctx, "error sending farewell", tint.Err(sendErr))
			}
		}

		lt.logMemberEvent(ctx, setting, "Member left", m.User)

		if delErr := lt.kv.DeleteMember(m.GuildID, m.User.ID); delErr != nil {
			logger.WarnContext(ctx, "error clearing cached member", tint.Err(delErr))
		}
	}
}

func (lt *Laythe) handlerGuildCreate() func(
	s *discordgo.Session,
	g *discordgo.GuildCreate,
) {
	return func(s *discordgo.Session, g *discordgo.GuildCreate) {
		ctx := context.Background()
		logger := lt.logger.With("guild_id", g.ID)

		// creates the settings row on first sight of the guild
		if _, err := lt.db.GetSetting(ctx, g.ID, false); err != nil {
			logger.ErrorContext(ctx, "error ensuring settings row", tint.Err(err))
		}
		if err := lt.kv.SetGuild(g.Guild); err != nil {
			logger.WarnContext(ctx, "error caching guild", tint.Err(err))
		}

		lt.refreshPresence()
	}
}
