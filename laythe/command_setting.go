package laythe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// settingSessionTimeout is how long a modify prompt waits for the
// moderator's next message before expiring.
const settingSessionTimeout = 5 * time.Minute

const (
	settingFieldPrefix           = "prefix"
	settingFieldMuteRole         = "mute_role"
	settingFieldLogChannel       = "log_channel"
	settingFieldWelcomeChannel   = "welcome_channel"
	settingFieldStarboardChannel = "starboard_channel"
	settingFieldGreet            = "greet"
	settingFieldGreetDM          = "greet_dm"
	settingFieldBye              = "bye"
	settingFieldUseLevel         = "use_level"
	settingFieldRewardRole       = "reward_role"
	settingFieldWarnAction       = "warn_action"
)

func settingFieldChoices() []*discordgo.ApplicationCommandOptionChoice {
	fields := []string{
		settingFieldPrefix,
		settingFieldMuteRole,
		settingFieldLogChannel,
		settingFieldWelcomeChannel,
		settingFieldStarboardChannel,
		settingFieldGreet,
		settingFieldGreetDM,
		settingFieldBye,
		settingFieldUseLevel,
		settingFieldRewardRole,
		settingFieldWarnAction,
	}
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(fields))
	for _, f := range fields {
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  f,
				Value: f,
			},
		)
	}
	return choices
}

// settingSession is a pending modify prompt waiting for the moderator's
// next message in the channel where it was started.
type settingSession struct {
	guildID   string
	userID    string
	channelID string
	field     string
	expires   time.Time
}

// settingSessions tracks pending modify prompts, keyed per
// guild/user/channel so a moderator can only have one open at a time.
type settingSessions struct {
	mu       sync.Mutex
	sessions map[string]*settingSession
}

func newSettingSessions() *settingSessions {
	return &settingSessions{sessions: map[string]*settingSession{}}
}

func sessionKey(guildID, userID, channelID string) string {
	return guildID + ":" + userID + ":" + channelID
}

func (s *settingSessions) start(session *settingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey(
		session.guildID, session.userID, session.channelID,
	)] = session
}

// take removes and returns the pending session for the given
// guild/user/channel, if one exists and hasn't expired.
func (s *settingSessions) take(guildID, userID, channelID string) *settingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(guildID, userID, channelID)
	session, ok := s.sessions[key]
	if !ok {
		return nil
	}
	delete(s.sessions, key)
	if time.Now().After(session.expires) {
		return nil
	}
	return session
}

func (s *settingSessions) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, session := range s.sessions {
		if now.After(session.expires) {
			delete(s.sessions, key)
		}
	}
}

// handleSettingCommand dispatches the setting subcommands.
func (lt *Laythe) handleSettingCommand(
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
	case "view":
		lt.settingView(ctx, handler)
	case "modify":
		lt.settingModify(ctx, handler, sub)
	case "reset":
		lt.settingReset(ctx, handler)
	default:
		editReply(ctx, handler, fmt.Sprintf("Unknown subcommand: %s", sub.Name))
	}
}

func channelDisplay(ns NullableString) string {
	if ns == "" {
		return "not set"
	}
	return fmt.Sprintf("<#%s>", ns)
}

func roleDisplay(ns NullableString) string {
	if ns == "" {
		return "not set"
	}
	return fmt.Sprintf("<@&%s>", ns)
}

func templateDisplay(ns NullableString) string {
	if ns == "" {
		return "not set"
	}
	return shortenString(ns.String(), 100)
}

func (lt *Laythe) settingView(
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

	var rewards strings.Builder
	for _, k := range setting.RewardRoles.AscendingKeys() {
		roleID, _ := setting.RewardRoles.Get(k)
		fmt.Fprintf(&rewards, "level %s: <@&%d>\n", k, roleID)
	}
	if rewards.Len() == 0 {
		rewards.WriteString("none")
	}

	var actions strings.Builder
	for _, k := range setting.WarnActions.AscendingKeys() {
		action, _ := setting.WarnActions.Get(k)
		fmt.Fprintf(&actions, "%s warnings: %s\n", k, WarnAction(action))
	}
	if actions.Len() == 0 {
		actions.WriteString("none")
	}

	prefix := setting.CustomPrefix.String()
	if prefix == "" {
		prefix = "default"
	}

	editReplyEmbed(
		ctx, handler, &discordgo.MessageEmbed{
			Title: "Server settings",
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Prefix", Value: prefix, Inline: true},
				{Name: "Leveling", Value: strconv.FormatBool(setting.Flags.UseLevel()), Inline: true},
				{Name: "Mute role", Value: roleDisplay(setting.MuteRole), Inline: true},
				{Name: "Log channel", Value: channelDisplay(setting.LogChannel), Inline: true},
				{Name: "Welcome channel", Value: channelDisplay(setting.WelcomeChannel), Inline: true},
				{Name: "Starboard channel", Value: channelDisplay(setting.StarboardChannel), Inline: true},
				{Name: "Greeting", Value: templateDisplay(setting.Greet), Inline: false},
				{Name: "Greeting DM", Value: templateDisplay(setting.GreetDM), Inline: false},
				{Name: "Farewell", Value: templateDisplay(setting.Bye), Inline: false},
				{Name: "Reward roles", Value: rewards.String(), Inline: false},
				{Name: "Warn actions", Value: actions.String(), Inline: false},
			},
		},
	)
}

func (lt *Laythe) settingModify(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	options := subcommandOptions(sub)

	field := options[commandOptionField].StringValue()

	valueOpt, hasValue := options[commandOptionValue]
	if !hasValue {
		user := getDiscordUser(i)
		lt.settingSessions.start(
			&settingSession{
				guildID:   i.GuildID,
				userID:    user.ID,
				channelID: i.ChannelID,
				field:     field,
				expires:   time.Now().Add(settingSessionTimeout),
			},
		)
		editReply(
			ctx, handler, fmt.Sprintf(
				"Reply in this channel with the new value for `%s` "+
					"within %d minutes. Send `-` to clear it.",
				field, int(settingSessionTimeout.Minutes()),
			),
		)
		return
	}

	summary, err := lt.applySettingValue(
		ctx, i.GuildID, field, valueOpt.StringValue(),
	)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			editReply(ctx, handler, vErr.Message)
			return
		}
		logger.ErrorContext(ctx, "error updating setting", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	editReply(ctx, handler, summary)
}

// settingReset replaces the guild's settings row with defaults.
func (lt *Laythe) settingReset(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if _, err := lt.writeDB.ResetSetting(ctx, i.GuildID); err != nil {
		logger.ErrorContext(ctx, "error resetting settings", tint.Err(err))
		editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
		return
	}
	lt.notifySettingUpdated(ctx, i.GuildID)
	editReply(ctx, handler, "Server settings have been reset to their defaults.")
}

// applySettingValue parses and persists a single setting change, then
// notifies other processes so their caches drop the stale entry.
func (lt *Laythe) applySettingValue(
	ctx context.Context,
	guildID string,
	field string,
	raw string,
) (string, error) {
	raw = strings.TrimSpace(raw)
	clearValue := raw == "-" || raw == ""

	setting, err := lt.db.GetSetting(ctx, guildID, true)
	if err != nil {
		return "", err
	}

	var summary string
	switch field {
	case settingFieldPrefix:
		if clearValue {
			setting.CustomPrefix = ""
			summary = "Cleared the custom prefix."
		} else {
			if len(raw) > 8 {
				return "", newValidationError("Prefixes can be at most 8 characters.")
			}
			setting.CustomPrefix = NullableString(raw)
			summary = fmt.Sprintf("Set the prefix to `%s`.", raw)
		}
	case settingFieldMuteRole:
		if clearValue {
			setting.MuteRole = ""
			summary = "Cleared the mute role."
		} else {
			roleID, parseErr := parseRoleRef(raw)
			if parseErr != nil {
				return "", parseErr
			}
			setting.MuteRole = NullableString(roleID)
			summary = fmt.Sprintf("Set the mute role to <@&%s>.", roleID)
		}
	case settingFieldLogChannel,
		settingFieldWelcomeChannel,
		settingFieldStarboardChannel:
		var channelID string
		if !clearValue {
			channelID, err = parseChannelRef(raw)
			if err != nil {
				return "", err
			}
		}
		value := NullableString(channelID)
		switch field {
		case settingFieldLogChannel:
			setting.LogChannel = value
		case settingFieldWelcomeChannel:
			setting.WelcomeChannel = value
		case settingFieldStarboardChannel:
			setting.StarboardChannel = value
		}
		if clearValue {
			summary = fmt.Sprintf("Cleared `%s`.", field)
		} else {
			summary = fmt.Sprintf("Set `%s` to <#%s>.", field, channelID)
		}
	case settingFieldGreet, settingFieldGreetDM, settingFieldBye:
		value := NullableString(raw)
		if clearValue {
			value = ""
		}
		switch field {
		case settingFieldGreet:
			setting.Greet = value
		case settingFieldGreetDM:
			setting.GreetDM = value
		case settingFieldBye:
			setting.Bye = value
		}
		if clearValue {
			summary = fmt.Sprintf("Cleared `%s`.", field)
		} else {
			summary = fmt.Sprintf("Set `%s`. Placeholders: {mention}, {name}.", field)
		}
	case settingFieldUseLevel:
		enabled, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			return "", newValidationError("Use `true` or `false`.")
		}
		setting.Flags, err = setting.Flags.With("use_level", enabled)
		if err != nil {
			return "", err
		}
		summary = fmt.Sprintf("Leveling is now %s.", enabledWord(enabled))
	case settingFieldRewardRole:
		level, value, parseErr := splitPair(raw)
		if parseErr != nil {
			return "", newValidationError(
				"Use `level:role` to add a reward, or `level:-` to remove one.",
			)
		}
		if _, convErr := strconv.ParseInt(level, 10, 64); convErr != nil {
			return "", newValidationError("The level must be a number.")
		}
		if value == "-" {
			setting.RewardRoles.Delete(level)
			summary = fmt.Sprintf("Removed the reward for level %s.", level)
		} else {
			roleID, roleErr := parseRoleRef(value)
			if roleErr != nil {
				return "", roleErr
			}
			roleNum, convErr := strconv.ParseInt(roleID, 10, 64)
			if convErr != nil {
				return "", newValidationError("That doesn't look like a role.")
			}
			setting.RewardRoles.Set(level, roleNum)
			summary = fmt.Sprintf(
				"Members reaching level %s now receive <@&%s>.", level, roleID,
			)
		}
	case settingFieldWarnAction:
		count, value, parseErr := splitPair(raw)
		if parseErr != nil {
			return "", newValidationError(
				"Use `count:action` (mute, kick or ban), or `count:-` to remove.",
			)
		}
		if _, convErr := strconv.ParseInt(count, 10, 64); convErr != nil {
			return "", newValidationError("The warning count must be a number.")
		}
		if value == "-" {
			setting.WarnActions.Delete(count)
			summary = fmt.Sprintf("Removed the action at %s warnings.", count)
		} else {
			action, actionErr := ParseWarnAction(value)
			if actionErr != nil {
				return "", newValidationError("Actions are mute, kick or ban.")
			}
			setting.WarnActions.Set(count, int64(action))
			summary = fmt.Sprintf(
				"Action at %s warnings is now %s.", count, action,
			)
		}
	default:
		return "", newValidationError(fmt.Sprintf("Unknown setting: %s", field))
	}

	if err = lt.writeDB.PutSetting(ctx, setting); err != nil {
		return "", err
	}
	lt.notifySettingUpdated(ctx, guildID)
	return summary, nil
}

// resumeSettingSession applies a pending modify prompt using the
// moderator's message content. Returns true if a session was consumed.
func (lt *Laythe) resumeSettingSession(
	ctx context.Context,
	m *discordgo.MessageCreate,
) bool {
	if m.Author == nil || m.GuildID == "" {
		return false
	}
	session := lt.settingSessions.take(m.GuildID, m.Author.ID, m.ChannelID)
	if session == nil {
		return false
	}

	logger := lt.logger.With(
		"guild_id", m.GuildID,
		"user_id", m.Author.ID,
		"field", session.field,
	)

	summary, err := lt.applySettingValue(
		ctx, m.GuildID, session.field, m.Content,
	)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			summary = vErr.Message
		} else {
			logger.ErrorContext(ctx, "error applying setting", tint.Err(err))
			summary = lt.RuntimeConfig().DiscordErrorMessage
		}
	}
	if sendErr := lt.discord.channelMessageSend(m.ChannelID, summary); sendErr != nil {
		logger.ErrorContext(ctx, "error sending reply", tint.Err(sendErr))
	}
	return true
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// splitPair splits "key:value" input, tolerating an optional space
// after the colon.
func splitPair(raw string) (string, string, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected key:value, got %q", raw)
	}
	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])
	if key == "" || value == "" {
		return "", "", fmt.Errorf("expected key:value, got %q", raw)
	}
	return key, value, nil
}

// parseChannelRef accepts a raw channel ID or a <#id> mention.
func parseChannelRef(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<#") && strings.HasSuffix(raw, ">") {
		raw = raw[2 : len(raw)-1]
	}
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return "", newValidationError("That doesn't look like a channel.")
	}
	return raw, nil
}

// parseRoleRef accepts a raw role ID or a <@&id> mention.
func parseRoleRef(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<@&") && strings.HasSuffix(raw, ">") {
		raw = raw[3 : len(raw)-1]
	}
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return "", newValidationError("That doesn't look like a role.")
	}
	return raw, nil
}
