package laythe

import (
	"reflect"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestRuntimeConfigUpdateKeys(t *testing.T) {
	// Get JSON field names for RuntimeConfig
	runtimeConfigType := reflect.TypeOf(RuntimeConfig{})
	runtimeConfigFields := make(map[string]bool)
	for i := 0; i < runtimeConfigType.NumField(); i++ {
		field := runtimeConfigType.Field(i)
		jsonTag := field.Tag.Get("json")
		if jsonTag != "" && jsonTag != "-" {
			runtimeConfigFields[jsonTag] = true
		}
	}

	// Every RuntimeConfigUpdate field must map onto a RuntimeConfig field
	updateType := reflect.TypeOf(RuntimeConfigUpdate{})
	for i := 0; i < updateType.NumField(); i++ {
		field := updateType.Field(i)
		jsonTag := field.Tag.Get("json")
		if jsonTag != "" && jsonTag != "-" {
			jsonTag, _, _ = strings.Cut(field.Tag.Get("json"), ",")
			if !runtimeConfigFields[jsonTag] {
				t.Errorf(
					"Field %s in RuntimeConfigUpdate is not present in RuntimeConfig",
					jsonTag,
				)
			}
		}
	}
}

func TestRuntimeConfigValueChanged(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }
	strPtr := func(v string) *string { return &v }

	assert.False(t, runtimeConfigValueChanged(true, (*bool)(nil)))
	assert.False(t, runtimeConfigValueChanged(true, boolPtr(true)))
	assert.True(t, runtimeConfigValueChanged(true, boolPtr(false)))
	assert.True(t, runtimeConfigValueChanged("foo", strPtr("bar")))
	assert.False(t, runtimeConfigValueChanged("foo", "bar"))
}

func TestDiscordPresenceStatusUpdate(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.DiscordCustomStatus = "Managing %d guilds"

	update := getDiscordPresenceStatusUpdate(cfg, 3)
	assert.Equal(t, "Managing 3 guilds", update.Status)
	assert.False(t, update.AFK)

	cfg.Paused = true
	update = getDiscordPresenceStatusUpdate(cfg, 3)
	assert.True(t, update.AFK)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), update.Status)
}
