package laythe

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInteractionLog(t *testing.T) {
	user := newDiscordUser(t)
	i := newDiscordInteraction(
		t, user, randomSnowflake(),
		commandData(DiscordSlashCommandLevel, nil),
	)

	logEntry, err := newInteractionLog(i, user)
	require.NoError(t, err)
	assert.Equal(t, i.ID, logEntry.InteractionID)
	assert.Equal(t, DiscordSlashCommandLevel, logEntry.CommandName)
	assert.Equal(t, user.ID, logEntry.UserID)
	assert.Equal(t, i.GuildID, logEntry.GuildID)
	assert.NotEmpty(t, logEntry.Payload)
}

func TestHandleInteractionDispatch(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	guildID := randomSnowflake()

	i := warnAddInteraction(t, mod, target, guildID, "spamming")
	handler := newStubInteractionHandler(t, i)
	lt.handleInteraction(ctx, handler)

	// the interaction is acknowledged before the command runs
	require.NotEmpty(t, handler.responses)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		handler.responses[0].Type,
	)
	assert.Contains(t, handler.lastReply(t), "Warned")

	// the interaction is recorded for auditing
	var logs []InteractionLog
	require.NoError(
		t,
		lt.db.DB().Where("guild_id = ?", guildID).Find(&logs).Error,
	)
	require.Len(t, logs, 1)
	assert.Equal(t, DiscordSlashCommandWarn, logs[0].CommandName)
	assert.Equal(t, mod.ID, logs[0].UserID)
}

func TestHandleInteractionPaused(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	lt.paused.Store(true)

	mod := newDiscordUser(t)
	target := newDiscordUser(t)
	i := warnAddInteraction(t, mod, target, randomSnowflake(), "spamming")
	handler := newStubInteractionHandler(t, i)
	lt.handleInteraction(ctx, handler)

	assert.Equal(
		t, "I'm paused right now. Try again later!", handler.lastReply(t),
	)

	warns, err := lt.db.ListWarns(ctx, i.GuildID, "")
	require.NoError(t, err)
	assert.Empty(t, warns)
}

func TestHandleInteractionBotUser(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	bot := newDiscordUser(t)
	bot.Bot = true
	target := newDiscordUser(t)
	i := warnAddInteraction(t, bot, target, randomSnowflake(), "spamming")
	handler := newStubInteractionHandler(t, i)
	lt.handleInteraction(ctx, handler)

	assert.Empty(t, handler.responses)
	assert.Empty(t, handler.edits)
}

func TestHandleInteractionPing(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	user := newDiscordUser(t)
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:   randomSnowflake(),
			Type: discordgo.InteractionPing,
			User: user,
		},
	}
	handler := newStubInteractionHandler(t, i)
	lt.handleInteraction(ctx, handler)

	require.Len(t, handler.responses, 1)
	assert.Equal(
		t, discordgo.InteractionResponsePong, handler.responses[0].Type,
	)
}

func TestHandleInteractionUnknownCommand(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	user := newDiscordUser(t)
	i := newDiscordInteraction(
		t, user, randomSnowflake(),
		commandData("frobnicate", nil),
	)
	handler := newStubInteractionHandler(t, i)
	lt.handleInteraction(ctx, handler)

	assert.Equal(t, "Unknown command: frobnicate", handler.lastReply(t))
}

func TestPauseResume(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	assert.False(t, lt.paused.Load())
	assert.True(t, lt.Pause(ctx))
	assert.True(t, lt.paused.Load())

	// pausing twice is a no-op
	assert.False(t, lt.Pause(ctx))

	assert.True(t, lt.Resume(ctx))
	assert.False(t, lt.paused.Load())
	assert.False(t, lt.Resume(ctx))
}
