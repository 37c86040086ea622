package laythe

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	password := "mySecurePassword123"

	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	match, err := VerifyPassword(hash, password)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = VerifyPassword(hash, "wrongPassword")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestHashPasswordUnique(t *testing.T) {
	// same password, different salts
	first, err := HashPassword("hunter2")
	require.NoError(t, err)
	second, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestVerifyPasswordInvalidHash(t *testing.T) {
	_, err := VerifyPassword("not-a-hash", "password")
	assert.Error(t, err)

	_, err = VerifyPassword("$argon2id$v=19$bogus$salt$hash", "password")
	assert.Error(t, err)
}

func TestShortenString(t *testing.T) {
	assert.Equal(t, "short", shortenString("short", 100))

	// double newlines collapse before truncation
	assert.Equal(
		t, "a\nb", shortenString("a\n\nb", 3),
	)

	long := strings.Repeat("x", 200)
	out := shortenString(long, 100)
	assert.LessOrEqual(t, len(out), 100)
	assert.Contains(t, out, "(output limit reached)")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "héllo", truncate("héllo world", 5))
}

func TestChunkItems(t *testing.T) {
	assert.Nil(t, chunkItems[int](3))

	chunks := chunkItems(3, 1, 2, 3, 4, 5, 6, 7)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2, 3}, chunks[0])
	assert.Equal(t, []int{4, 5, 6}, chunks[1])
	assert.Equal(t, []int{7}, chunks[2])
}

func TestRenderTemplate(t *testing.T) {
	u := &discordgo.User{ID: "123", Username: "crow"}

	assert.Equal(
		t,
		"Welcome, <@123>!",
		renderTemplate("Welcome, {mention}!", u),
	)
	assert.Equal(
		t,
		"Goodbye, crow.",
		renderTemplate("Goodbye, {name}.", u),
	)
	assert.Equal(t, "plain", renderTemplate("plain", u))
	assert.Equal(t, "{name}", renderTemplate("{name}", nil))
}

func TestDiscordInteractionOptions(t *testing.T) {
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: "mute",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Type:  discordgo.ApplicationCommandOptionString,
						Name:  "user",
						Value: "123",
					},
					{
						Type:  discordgo.ApplicationCommandOptionInteger,
						Name:  "minutes",
						Value: float64(30),
					},
				},
			},
		},
	}

	options := discordInteractionOptions(i)
	require.Len(t, options, 2)
	assert.Equal(t, "123", options["user"].Value)
	assert.Equal(t, int64(30), options["minutes"].IntValue())
}

func TestSubcommandOptions(t *testing.T) {
	sub := subcommand(
		"add",
		stringOption("reason", "spamming"),
		intOption("id", 7),
	)
	options := subcommandOptions(sub)
	require.Len(t, options, 2)
	assert.Equal(t, "spamming", options["reason"].StringValue())
	assert.Equal(t, int64(7), options["id"].IntValue())
}

func TestStringPointerValue(t *testing.T) {
	assert.Empty(t, stringPointerValue(nil))
	s := "value"
	assert.Equal(t, "value", stringPointerValue(&s))
}
