package laythe

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func warnAddInteraction(
	t testing.TB,
	mod *discordgo.User,
	target *discordgo.User,
	guildID string,
	reason string,
) *discordgo.InteractionCreate {
	t.Helper()
	return newDiscordInteraction(
		t, mod, guildID, commandData(
			DiscordSlashCommandWarn,
			[]*discordgo.User{target},
			subcommand(
				"add",
				userOption(target),
				stringOption(commandOptionReason, reason),
			),
		),
	)
}

func TestWarnAddSelf(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	i := warnAddInteraction(t, mod, mod, randomSnowflake(), "self report")
	handler := newStubInteractionHandler(t, i)

	lt.handleWarnCommand(ctx, handler)
	assert.Equal(t, "You can't warn yourself.", handler.lastReply(t))

	warns, err := lt.db.ListWarns(ctx, i.GuildID, "")
	require.NoError(t, err)
	assert.Empty(t, warns)
}

func TestWarnAddBot(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	target.Bot = true

	i := warnAddInteraction(t, mod, target, randomSnowflake(), "beeping")
	handler := newStubInteractionHandler(t, i)

	lt.handleWarnCommand(ctx, handler)
	assert.Equal(t, "Bots can't be warned.", handler.lastReply(t))
}

func TestWarnAdd(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	guildID := randomSnowflake()

	i := warnAddInteraction(t, mod, target, guildID, "spamming")
	handler := newStubInteractionHandler(t, i)

	lt.handleWarnCommand(ctx, handler)

	warns, err := lt.db.ListWarns(ctx, guildID, target.ID)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	warn := warns[0]
	assert.Equal(t, target.ID, warn.UserID)
	assert.Equal(t, mod.ID, warn.ModID)
	assert.Equal(t, "spamming", warn.Reason)

	assert.Equal(
		t,
		fmt.Sprintf(
			"Warned %s (warning #%d, 1 total).", target.Mention(), warn.ID,
		),
		handler.lastReply(t),
	)
}

func TestWarnAddMuteThreshold(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	guildID := randomSnowflake()
	muteRole := randomSnowflake()

	setting, err := lt.db.GetSetting(ctx, guildID, false)
	require.NoError(t, err)
	setting.MuteRole = NullableString(muteRole)
	setting.WarnActions.Set("2", int64(WarnActionMute))
	require.NoError(t, lt.writeDB.PutSetting(ctx, setting))

	i := warnAddInteraction(t, mod, target, guildID, "first strike")
	lt.handleWarnCommand(ctx, newStubInteractionHandler(t, i))
	assert.Empty(t, session.roleAdds)

	i = warnAddInteraction(t, mod, target, guildID, "second strike")
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)

	require.Len(t, session.roleAdds, 1)
	assert.Equal(
		t,
		roleChange{GuildID: guildID, UserID: target.ID, RoleID: muteRole},
		session.roleAdds[0],
	)
	assert.Contains(t, handler.lastReply(t), "Muted for reaching 2 warnings.")
}

func TestWarnAddMuteThresholdNoMuteRole(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	guildID := randomSnowflake()

	setting, err := lt.db.GetSetting(ctx, guildID, false)
	require.NoError(t, err)
	setting.WarnActions.Set("1", int64(WarnActionMute))
	require.NoError(t, lt.writeDB.PutSetting(ctx, setting))

	i := warnAddInteraction(t, mod, target, guildID, "spamming")
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)

	assert.Empty(t, session.roleAdds)
	assert.Contains(
		t,
		handler.lastReply(t),
		"Mute threshold reached, but no mute role is configured.",
	)
}

func TestWarnAddKickThreshold(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	guildID := randomSnowflake()

	setting, err := lt.db.GetSetting(ctx, guildID, false)
	require.NoError(t, err)
	setting.WarnActions.Set("1", int64(WarnActionKick))
	require.NoError(t, lt.writeDB.PutSetting(ctx, setting))

	i := warnAddInteraction(t, mod, target, guildID, "spamming")
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)

	require.Len(t, session.kicks, 1)
	assert.Equal(t, target.ID, session.kicks[0].UserID)
	assert.Contains(t, handler.lastReply(t), "Kicked for reaching 1 warnings.")
}

func TestWarnAddBanThreshold(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	guildID := randomSnowflake()

	setting, err := lt.db.GetSetting(ctx, guildID, false)
	require.NoError(t, err)
	setting.WarnActions.Set("1", int64(WarnActionBan))
	require.NoError(t, lt.writeDB.PutSetting(ctx, setting))

	i := warnAddInteraction(t, mod, target, guildID, "raiding")
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)

	require.Len(t, session.bans, 1)
	assert.Equal(t, target.ID, session.bans[0].UserID)
	assert.Contains(t, handler.lastReply(t), "Banned for reaching 1 warnings.")
}

func TestWarnRemove(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	target := newDiscordUser(t)
	guildID := randomSnowflake()
	warn := NewWarn(guildID, target.ID, randomSnowflake(), "spamming")
	require.NoError(t, lt.writeDB.AddWarn(ctx, warn))

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, guildID, commandData(
			DiscordSlashCommandWarn,
			nil,
			subcommand("remove", intOption(commandOptionWarnID, int64(warn.ID))),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)

	assert.Equal(
		t,
		fmt.Sprintf("Removed warning #%d for <@%s>.", warn.ID, target.ID),
		handler.lastReply(t),
	)

	warns, err := lt.db.ListWarns(ctx, guildID, "")
	require.NoError(t, err)
	assert.Empty(t, warns)
}

func TestWarnRemoveNotFound(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, randomSnowflake(), commandData(
			DiscordSlashCommandWarn,
			nil,
			subcommand("remove", intOption(commandOptionWarnID, 12345)),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)
	assert.Equal(t, "No warning found with ID 12345.", handler.lastReply(t))
}

func TestWarnList(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	target := newDiscordUser(t)
	other := newDiscordUser(t)
	modID := randomSnowflake()

	require.NoError(
		t, lt.writeDB.AddWarn(ctx, NewWarn(guildID, target.ID, modID, "one")),
	)
	require.NoError(
		t, lt.writeDB.AddWarn(ctx, NewWarn(guildID, other.ID, modID, "two")),
	)

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, guildID, commandData(
			DiscordSlashCommandWarn,
			[]*discordgo.User{target},
			subcommand("list", userOption(target)),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)

	embed := handler.lastEmbed(t)
	assert.Equal(t, "Warnings (1)", embed.Title)
	assert.Contains(t, embed.Description, target.ID)
	assert.Contains(t, embed.Description, "one")
	assert.NotContains(t, embed.Description, "two")
}

func TestWarnListEmpty(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, randomSnowflake(), commandData(
			DiscordSlashCommandWarn, nil, subcommand("list"),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)
	assert.Equal(t, "No warnings found.", handler.lastReply(t))
}

func TestWarnShow(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	target := newDiscordUser(t)
	warn := NewWarn(guildID, target.ID, randomSnowflake(), "posting spoilers")
	require.NoError(t, lt.writeDB.AddWarn(ctx, warn))

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, guildID, commandData(
			DiscordSlashCommandWarn,
			nil,
			subcommand("show", intOption(commandOptionWarnID, int64(warn.ID))),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleWarnCommand(ctx, handler)

	embed := handler.lastEmbed(t)
	assert.Equal(t, fmt.Sprintf("Warning #%d", warn.ID), embed.Title)
	assert.Equal(t, "posting spoilers", embed.Description)
}
