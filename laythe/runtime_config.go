package laythe

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
	columnRuntimeConfigPaused        = "paused"
)

// RuntimeConfig represents the runtime configuration of the bot.
// It stores settings that can be modified during runtime and persisted
// across restarts. This struct is used to manage the 'live' application
// state for states we would want to maintain across restarts (e.g.,
// being paused).
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused indicates whether the bot is currently paused. While
	// paused, slash commands are acknowledged with an error message and
	// no experience is granted.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the
	// bot on Discord. A '%d' verb is substituted with the guild count.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// NotificationChannelID receives the startup message when set.
	NotificationChannelID string `json:"notification_channel_id" gorm:"type:string"`

	// DiscordErrorMessage is the opaque message shown to users when an
	// unexpected error occurs.
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string" binding:"omitempty,min=1,max=2000"`

	// ErrorReportsEnabled allows operators to trigger detailed error
	// report uploads from the error boundary.
	ErrorReportsEnabled bool `json:"error_reports_enabled" gorm:"not null;default:true"`

	// RecoverPanic controls whether panics in command handlers are
	// recovered and logged rather than crashing the process.
	RecoverPanic bool `json:"recover_panic" gorm:"not null;default:true"`

	// AdminUsername for the web UI
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordLogLevel is the logging level for Discord-related operations.
	DiscordLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordGoLogLevel is the logging level for the DiscordGo library.
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DiscordCustomStatus: DefaultDiscordCustomStatus,
		DiscordErrorMessage: DefaultDiscordErrorMessage,
		ErrorReportsEnabled: true,
		RecoverPanic:        true,
		LogLevel:            DBLogLevel(slog.LevelInfo.String()),
		DiscordLogLevel:     DBLogLevel(slog.LevelInfo.String()),
		DiscordGoLogLevel:   DBLogLevel(slog.LevelInfo.String()),
		DatabaseLogLevel:    DBLogLevel(slog.LevelInfo.String()),
		APILogLevel:         DBLogLevel(slog.LevelInfo.String()),
	}
}

// runtimeConfigValueChanged accepts two interface{} values,
// where runtimeConfigVal should be the value of a field from RuntimeConfig,
// and runtimeConfigUpdateVal should be the value of a field from
// RuntimeConfigUpdate.
// A boolean is returned, where `true` indicates that runtimeConfigUpdateVal
// is non-nil, and its dereferenced value is different from runtimeConfigVal.
func runtimeConfigValueChanged(runtimeConfigVal, runtimeConfigUpdateVal any) bool {
	newValRef := reflect.ValueOf(runtimeConfigUpdateVal)
	if newValRef.Kind() != reflect.Ptr {
		return false
	}

	if newValRef.IsNil() {
		return false
	}

	updateValDereferenced := newValRef.Elem().Interface()

	return !reflect.DeepEqual(runtimeConfigVal, updateValDereferenced)
}

//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused       *bool `json:"paused,omitempty"`
	RecoverPanic *bool `json:"recover_panic,omitempty"`

	DiscordCustomStatus   *string `json:"discord_custom_status,omitempty"`
	NotificationChannelID *string `json:"notification_channel_id,omitempty"`
	DiscordErrorMessage   *string `json:"discord_error_message,omitempty" binding:"omitnil,min=1,max=2000"`
	ErrorReportsEnabled   *bool   `json:"error_reports_enabled,omitempty"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	err := structValidator.Struct(b)
	return err
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig, guildCount int) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	status := config.DiscordCustomStatus
	if strings.Contains(status, "%d") {
		status = fmt.Sprintf(status, guildCount)
	}
	return discordgo.GatewayStatusUpdate{Status: status}
}
