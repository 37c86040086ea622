package laythe

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessageCreate(
	guildID string,
	channelID string,
	author *discordgo.User,
	content string,
) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        randomSnowflake(),
			GuildID:   guildID,
			ChannelID: channelID,
			Author:    author,
			Content:   content,
		},
	}
}

func TestGrantExp(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)
	author := newDiscordUser(t)

	lt.grantExp(ctx, newMessageCreate(guildID, randomSnowflake(), author, "hi"))

	level, err := lt.db.GetLevel(ctx, guildID, author.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, level.Exp, int64(expMinGain))
	assert.LessOrEqual(t, level.Exp, int64(expMaxGain))
}

func TestGrantExpDisabled(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	author := newDiscordUser(t)

	lt.grantExp(ctx, newMessageCreate(guildID, randomSnowflake(), author, "hi"))

	level, err := lt.db.GetLevel(ctx, guildID, author.ID)
	require.NoError(t, err)
	assert.Zero(t, level.Exp)
}

func TestGrantExpCooldown(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)
	author := newDiscordUser(t)
	channelID := randomSnowflake()

	lt.grantExp(ctx, newMessageCreate(guildID, channelID, author, "one"))
	level, err := lt.db.GetLevel(ctx, guildID, author.ID)
	require.NoError(t, err)
	firstExp := level.Exp
	require.Positive(t, firstExp)

	// a second message inside the cooldown window earns nothing
	lt.grantExp(ctx, newMessageCreate(guildID, channelID, author, "two"))
	level, err = lt.db.GetLevel(ctx, guildID, author.ID)
	require.NoError(t, err)
	assert.Equal(t, firstExp, level.Exp)
}

func TestGrantExpLevelOffChannel(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)
	author := newDiscordUser(t)

	channelID := randomSnowflake()
	session.channels[channelID] = &discordgo.Channel{
		ID:    channelID,
		Topic: fmt.Sprintf("Off-topic chatter (%s)", levelOffTopicTag),
	}

	lt.grantExp(ctx, newMessageCreate(guildID, channelID, author, "hi"))

	level, err := lt.db.GetLevel(ctx, guildID, author.ID)
	require.NoError(t, err)
	assert.Zero(t, level.Exp)
}

func TestGrantExpLevelUpMessage(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)
	author := newDiscordUser(t)
	channelID := randomSnowflake()

	// one exp short of level 1 - any gain crosses the threshold
	setExp(t, lt, guildID, author.ID, 99)

	lt.grantExp(ctx, newMessageCreate(guildID, channelID, author, "hi"))

	level, err := lt.db.GetLevel(ctx, guildID, author.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), level.Level)

	require.Len(t, session.messages, 1)
	assert.Equal(t, channelID, session.messages[0].ChannelID)
	assert.Equal(
		t,
		fmt.Sprintf("%s reached level 1!", author.Mention()),
		session.messages[0].Content,
	)
}

func TestGrantRewardRoles(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	userID := randomSnowflake()

	setting := NewSetting(guildID)
	setting.RewardRoles.Set("1", 100)
	setting.RewardRoles.Set("3", 200)
	setting.RewardRoles.Set("5", 300)

	// the member already holds the level-1 role
	session.members[guildID+":"+userID] = &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID},
		Roles:   []string{"100"},
	}

	lt.grantRewardRoles(ctx, setting, guildID, userID, 3)

	// only the level-3 role is granted: the held role is skipped and the
	// walk stops before the level-5 threshold
	require.Len(t, session.roleAdds, 1)
	assert.Equal(
		t,
		roleChange{GuildID: guildID, UserID: userID, RoleID: "200"},
		session.roleAdds[0],
	)
}

func TestGrantRewardRolesNoneConfigured(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	lt.grantRewardRoles(ctx, NewSetting("g"), "g", "u", 10)
	assert.Empty(t, session.roleAdds)
}

func TestHandlerGuildMemberAdd(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	welcomeChannel := randomSnowflake()
	setting, err := lt.db.GetSetting(ctx, guildID, false)
	require.NoError(t, err)
	setting.WelcomeChannel = NullableString(welcomeChannel)
	setting.Greet = "Welcome, {mention}!"
	setting.GreetDM = "Hi {name}, read the rules."
	require.NoError(t, lt.writeDB.PutSetting(ctx, setting))

	user := newDiscordUser(t)
	lt.handlerGuildMemberAdd()(
		nil, &discordgo.GuildMemberAdd{
			Member: &discordgo.Member{GuildID: guildID, User: user},
		},
	)

	require.Len(t, session.messages, 2)
	assert.Equal(
		t,
		sentMessage{
			ChannelID: welcomeChannel,
			Content:   fmt.Sprintf("Welcome, %s!", user.Mention()),
		},
		session.messages[0],
	)
	assert.Equal(
		t,
		sentMessage{
			ChannelID: "dm-" + user.ID,
			Content:   fmt.Sprintf("Hi %s, read the rules.", user.Username),
		},
		session.messages[1],
	)

	// the member is cached for later leave logs
	cached, err := lt.kv.GetMember(guildID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, cached.User.ID)
}

func TestHandlerGuildMemberRemove(t *testing.T) {
	lt, session := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	welcomeChannel := randomSnowflake()
	setting, err := lt.db.GetSetting(ctx, guildID, false)
	require.NoError(t, err)
	setting.WelcomeChannel = NullableString(welcomeChannel)
	setting.Bye = "{name} has left us."
	require.NoError(t, lt.writeDB.PutSetting(ctx, setting))

	user := newDiscordUser(t)
	require.NoError(
		t, lt.kv.SetMember(&discordgo.Member{GuildID: guildID, User: user}),
	)

	lt.handlerGuildMemberRemove()(
		nil, &discordgo.GuildMemberRemove{
			Member: &discordgo.Member{GuildID: guildID, User: user},
		},
	)

	require.Len(t, session.messages, 1)
	assert.Equal(
		t,
		sentMessage{
			ChannelID: welcomeChannel,
			Content:   fmt.Sprintf("%s has left us.", user.Username),
		},
		session.messages[0],
	)

	// the cached member entry is dropped
	_, err = lt.kv.GetMember(guildID, user.ID)
	assert.Error(t, err)
}

func TestHandlerGuildCreate(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	lt.handlerGuildCreate()(
		nil, &discordgo.GuildCreate{
			Guild: &discordgo.Guild{ID: guildID, Name: "fresh guild"},
		},
	)

	// the settings row exists without any command having run
	setting, err := lt.db.GetSetting(ctx, guildID, true)
	require.NoError(t, err)
	assert.Equal(t, guildID, setting.GuildID)

	cached, err := lt.kv.GetGuild(guildID)
	require.NoError(t, err)
	assert.Equal(t, "fresh guild", cached.Name)
}

func TestHandlerMessageCreateIgnoresBots(t *testing.T) {
	lt, _ := newTestLaythe(t)
	ctx := context.Background()

	guildID := randomSnowflake()
	enableLeveling(t, lt, guildID)

	bot := newDiscordUser(t)
	bot.Bot = true
	lt.handlerMessageCreate()(
		nil, newMessageCreate(guildID, randomSnowflake(), bot, "beep"),
	)

	level, err := lt.db.GetLevel(ctx, guildID, bot.ID)
	require.NoError(t, err)
	assert.Zero(t, level.Exp)
}

func TestHandlerMessageCreateCachesMessage(t *testing.T) {
	lt, _ := newTestLaythe(t)

	guildID := randomSnowflake()
	channelID := randomSnowflake()
	author := newDiscordUser(t)
	m := newMessageCreate(guildID, channelID, author, "remember me")

	lt.handlerMessageCreate()(nil, m)

	cached, err := lt.kv.GetMessage(guildID, channelID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "remember me", cached.Content)
}
