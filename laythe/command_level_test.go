package laythe

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// enableLeveling flips the use_level flag on for the guild.
func enableLeveling(t testing.TB, lt *Laythe, guildID string) {
	t.Helper()
	ctx := context.Background()
	setting, err := lt.db.GetSetting(ctx, guildID, false)
	require.NoError(t, err)
	setting.Flags, err = setting.Flags.With("use_level", true)
	require.NoError(t, err)
	require.NoError(t, lt.writeDB.PutSetting(ctx, setting))
}

func setExp(t testing.TB, lt *Laythe, guildID, userID string, exp int64) {
	t.Helper()
	ctx := context.Background()
	lv, err := lt.db.GetLevel(ctx, guildID, userID)
	require.NoError(t, err)
	lv.Exp = exp
	lv.Level = LevelForExp(exp)
	require.NoError(t, lt.writeDB.PutLevel(ctx, lv))
}

func TestLevelCommandDisabled(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	user := newDiscordUser(t)
	i := newDiscordInteraction(
		t, user, randomSnowflake(),
		commandData(DiscordSlashCommandLevel, nil),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLevelCommand(ctx, handler)
	assert.Equal(
		t, "Leveling is not enabled on this server.", handler.lastReply(t),
	)
}

func TestLevelCommand(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)

	user := newDiscordUser(t)
	setExp(t, lt, guildID, user.ID, 150)

	i := newDiscordInteraction(
		t, user, guildID, commandData(DiscordSlashCommandLevel, nil),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLevelCommand(ctx, handler)

	embed := handler.lastEmbed(t)
	assert.Equal(t, "Level 1", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "150 / 255", embed.Fields[0].Value)
	assert.Equal(t, "32%", embed.Fields[1].Value)
	assert.Equal(t, "#1", embed.Fields[2].Value)
}

func TestLevelCommandOtherUser(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)

	caller := newDiscordUser(t)
	target := newDiscordUser(t)
	setExp(t, lt, guildID, target.ID, 300)

	i := newDiscordInteraction(
		t, caller, guildID, commandData(
			DiscordSlashCommandLevel,
			[]*discordgo.User{target},
			userOption(target),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLevelCommand(ctx, handler)

	embed := handler.lastEmbed(t)
	assert.Equal(t, "Level 2", embed.Title)
	assert.Equal(t, target.Username, embed.Author.Name)
}

func TestLeaderboardCommandEmpty(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)

	user := newDiscordUser(t)
	i := newDiscordInteraction(
		t, user, guildID, commandData(DiscordSlashCommandLeaderboard, nil),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLeaderboardCommand(ctx, handler)
	assert.Equal(t, "Nobody has earned experience yet.", handler.lastReply(t))
}

func TestLeaderboardCommandPaging(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)

	// a full page plus two stragglers
	for n := 0; n < leaderboardPageSize+2; n++ {
		setExp(t, lt, guildID, fmt.Sprintf("user-%02d", n), int64(1000-n*10))
	}

	user := newDiscordUser(t)
	i := newDiscordInteraction(
		t, user, guildID, commandData(DiscordSlashCommandLeaderboard, nil),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLeaderboardCommand(ctx, handler)

	embed := handler.lastEmbed(t)
	assert.Equal(t, "Leaderboard", embed.Title)
	assert.Equal(t, "Page 1 of 2", embed.Footer.Text)
	assert.Contains(t, embed.Description, "user-00")
	assert.NotContains(t, embed.Description, "user-10")

	i = newDiscordInteraction(
		t, user, guildID, commandData(
			DiscordSlashCommandLeaderboard,
			nil,
			intOption(commandOptionPage, 2),
		),
	)
	handler = newStubInteractionHandler(t, i)
	lt.handleLeaderboardCommand(ctx, handler)

	embed = handler.lastEmbed(t)
	assert.Equal(t, "Page 2 of 2", embed.Footer.Text)
	assert.Contains(t, embed.Description, "user-10")
	assert.Contains(t, embed.Description, "user-11")
	assert.NotContains(t, embed.Description, "user-09")
}

func TestLeaderboardCommandPageClamped(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)
	setExp(t, lt, guildID, randomSnowflake(), 100)

	user := newDiscordUser(t)
	i := newDiscordInteraction(
		t, user, guildID, commandData(
			DiscordSlashCommandLeaderboard,
			nil,
			intOption(commandOptionPage, 99),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLeaderboardCommand(ctx, handler)
	assert.Equal(t, "Page 1 of 1", handler.lastEmbed(t).Footer.Text)
}

func TestLevelResetCommandUser(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	target := newDiscordUser(t)
	bystander := newDiscordUser(t)
	setExp(t, lt, guildID, target.ID, 500)
	setExp(t, lt, guildID, bystander.ID, 500)

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, guildID, commandData(
			DiscordSlashCommandLevelReset,
			[]*discordgo.User{target},
			userOption(target),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLevelResetCommand(ctx, handler)
	assert.Equal(
		t,
		fmt.Sprintf("Reset experience for <@%s>.", target.ID),
		handler.lastReply(t),
	)

	lv, err := lt.db.GetLevel(ctx, guildID, target.ID)
	require.NoError(t, err)
	assert.Zero(t, lv.Exp)

	lv, err = lt.db.GetLevel(ctx, guildID, bystander.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), lv.Exp)
}

func TestLevelResetCommandAll(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	setExp(t, lt, guildID, randomSnowflake(), 100)
	setExp(t, lt, guildID, randomSnowflake(), 200)

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, guildID, commandData(
			DiscordSlashCommandLevelReset,
			nil,
			boolOption(commandOptionAll, true),
		),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLevelResetCommand(ctx, handler)
	assert.Equal(t, "Reset experience for every member.", handler.lastReply(t))

	ranked, err := lt.db.Rank(ctx, guildID)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestLevelResetCommandNoTarget(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	i := newDiscordInteraction(
		t, mod, randomSnowflake(),
		commandData(DiscordSlashCommandLevelReset, nil),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleLevelResetCommand(ctx, handler)
	assert.Equal(
		t, "Pick a member, or set `all` to reset everyone.", handler.lastReply(t),
	)
}
