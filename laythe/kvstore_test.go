package laythe

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dgraph-io/badger"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKVStore(t testing.TB) *KVStore {
	t.Helper()
	logger := slog.New(
		tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelWarn}),
	)
	kv, err := NewKVStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			_ = kv.Close()
		},
	)
	return kv
}

func TestKVStoreLastMessage(t *testing.T) {
	kv := newTestKVStore(t)
	guildID := randomSnowflake()
	userID := randomSnowflake()

	_, ok := kv.LastMessageTime(guildID, userID)
	assert.False(t, ok)

	require.NoError(t, kv.TouchLastMessage(guildID, userID))

	ts, ok := kv.LastMessageTime(guildID, userID)
	require.True(t, ok)
	assert.InDelta(t, time.Now().UTC().Unix(), ts, 2)

	// entries are scoped per guild/user pair
	_, ok = kv.LastMessageTime(guildID, randomSnowflake())
	assert.False(t, ok)
}

func TestKVStoreMember(t *testing.T) {
	kv := newTestKVStore(t)
	guildID := randomSnowflake()
	user := &discordgo.User{ID: randomSnowflake(), Username: "crow"}
	member := &discordgo.Member{GuildID: guildID, User: user, Nick: "birb"}

	require.NoError(t, kv.SetMember(member))

	got, err := kv.GetMember(guildID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "birb", got.Nick)
	assert.Equal(t, user.ID, got.User.ID)

	require.NoError(t, kv.DeleteMember(guildID, user.ID))
	_, err = kv.GetMember(guildID, user.ID)
	assert.Error(t, err)
}

func TestKVStoreMessage(t *testing.T) {
	kv := newTestKVStore(t)
	guildID := randomSnowflake()
	channelID := randomSnowflake()
	msg := &discordgo.Message{
		ID:        randomSnowflake(),
		GuildID:   guildID,
		ChannelID: channelID,
		Content:   "hello",
		Author:    &discordgo.User{ID: randomSnowflake()},
	}

	require.NoError(t, kv.SetMessage(msg))

	got, err := kv.GetMessage(guildID, channelID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, msg.Author.ID, got.Author.ID)

	_, err = kv.GetMessage(guildID, channelID, randomSnowflake())
	assert.Error(t, err)
}

func TestKVStoreMessageLog(t *testing.T) {
	kv := newTestKVStore(t)
	guildID := randomSnowflake()
	channelID := randomSnowflake()
	author := &discordgo.User{ID: randomSnowflake()}
	other := &discordgo.User{ID: randomSnowflake()}

	for _, u := range []*discordgo.User{author, author, other} {
		require.NoError(
			t, kv.SetMessage(
				&discordgo.Message{
					ID:        randomSnowflake(),
					GuildID:   guildID,
					ChannelID: channelID,
					Content:   "msg",
					Author:    u,
				},
			),
		)
	}

	messages, err := kv.GetMessageLog(guildID, channelID, author.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	for _, m := range messages {
		assert.Equal(t, author.ID, m.Author.ID)
	}
}

func TestKVStoreGuild(t *testing.T) {
	kv := newTestKVStore(t)
	guild := &discordgo.Guild{
		ID:          randomSnowflake(),
		Name:        "crow aviary",
		MemberCount: 42,
	}

	require.NoError(t, kv.SetGuild(guild))

	got, err := kv.GetGuild(guild.ID)
	require.NoError(t, err)
	assert.Equal(t, "crow aviary", got.Name)
	assert.Equal(t, 42, got.MemberCount)

	_, err = kv.GetGuild(randomSnowflake())
	assert.Error(t, err)
}

func TestParseSnowflake(t *testing.T) {
	// 175928847299117063 is 2016-04-30 11:18:25.796 UTC
	ts, err := ParseSnowflake("175928847299117063")
	require.NoError(t, err)
	assert.Equal(t, int64(1462015105), ts.Unix())

	_, err = ParseSnowflake("not-a-snowflake")
	assert.Error(t, err)
}

func TestKVStoreRunGC(t *testing.T) {
	kv := newTestKVStore(t)
	// a fresh store has nothing to collect
	err := kv.RunGC()
	if err != nil {
		assert.ErrorIs(t, err, badger.ErrNoRewrite)
	}
}
