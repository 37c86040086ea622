package laythe

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"
)

var (
	columnSettingGuildID          = "guild_id"
	columnSettingAccepted         = "accepted"
	columnSettingCustomPrefix     = "custom_prefix"
	columnSettingFlags            = "flags"
	columnSettingMuteRole         = "mute_role"
	columnSettingLogChannel       = "log_channel"
	columnSettingWelcomeChannel   = "welcome_channel"
	columnSettingStarboardChannel = "starboard_channel"
	columnSettingGreet            = "greet"
	columnSettingGreetDM          = "greet_dm"
	columnSettingBye              = "bye"
	columnSettingRewardRoles      = "reward_roles"
	columnSettingWarnActions      = "warn_actions"

	columnLevelExp   = "exp"
	columnLevelLevel = "level"
)

// Setting is the per-guild configuration row. Exactly one row exists
// per guild once first touched - a read for an absent guild creates the
// row with defaults.
//
//nolint:lll // struct tags can't be split
type Setting struct {
	GuildID          string         `json:"guild_id" gorm:"primaryKey"`
	Accepted         bool           `json:"accepted"`
	CustomPrefix     NullableString `json:"custom_prefix"`
	Flags            SettingFlags   `json:"flags" gorm:"type:integer"`
	MuteRole         NullableString `json:"mute_role"`
	LogChannel       NullableString `json:"log_channel"`
	WelcomeChannel   NullableString `json:"welcome_channel"`
	StarboardChannel NullableString `json:"starboard_channel"`
	Greet            NullableString `json:"greet"`
	GreetDM          NullableString `json:"greet_dm"`
	Bye              NullableString `json:"bye"`
	RewardRoles      IntMap         `json:"reward_roles" gorm:"type:text"`
	WarnActions      IntMap         `json:"warn_actions" gorm:"type:text"`
	ModelUnixTime
}

func (Setting) TableName() string {
	return "settings"
}

// NewSetting returns a settings row with all-default fields for the
// given guild: flags zero, every nullable column unset, empty mappings.
func NewSetting(guildID string) *Setting {
	return &Setting{
		GuildID:     guildID,
		RewardRoles: IntMap{},
		WarnActions: IntMap{},
	}
}

func (s Setting) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String(columnSettingGuildID, s.GuildID),
		slog.Bool(columnSettingAccepted, s.Accepted),
		slog.Uint64(columnSettingFlags, uint64(s.Flags)),
		slog.String(columnSettingLogChannel, s.LogChannel.String()),
		slog.String(columnSettingWelcomeChannel, s.WelcomeChannel.String()),
	)
}

// WarnAction is an automated moderation action applied when a user's
// warn count crosses a configured threshold.
type WarnAction int64

const (
	WarnActionNone WarnAction = iota
	WarnActionMute
	WarnActionKick
	WarnActionBan
)

func (a WarnAction) String() string {
	switch a {
	case WarnActionMute:
		return "mute"
	case WarnActionKick:
		return "kick"
	case WarnActionBan:
		return "ban"
	default:
		return "none"
	}
}

// ParseWarnAction maps an action keyword to its value.
func ParseWarnAction(s string) (WarnAction, error) {
	switch s {
	case "mute":
		return WarnActionMute, nil
	case "kick":
		return WarnActionKick, nil
	case "ban":
		return WarnActionBan, nil
	default:
		return WarnActionNone, errors.New("unknown warn action: " + s)
	}
}

// Warn is an append-only moderation record. Date is the creation time
// in epoch seconds and doubles as the human-facing warn ID; the
// autoincrement ID exists so two warns landing in the same second stay
// distinguishable.
type Warn struct {
	ModelUintID
	GuildID string `json:"guild_id" gorm:"index;not null"`
	Date    int64  `json:"date" gorm:"index;not null"`
	UserID  string `json:"user_id" gorm:"index;not null"`
	ModID   string `json:"mod_id" gorm:"not null"`
	Reason  string `json:"reason" gorm:"type:string"`
}

func (Warn) TableName() string {
	return "warns"
}

// NewWarn creates a warn record stamped with the current time.
func NewWarn(guildID, userID, modID, reason string) *Warn {
	return &Warn{
		GuildID: guildID,
		Date:    time.Now().UTC().Unix(),
		UserID:  userID,
		ModID:   modID,
		Reason:  reason,
	}
}

func (w Warn) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(w.ID)),
		slog.String("guild_id", w.GuildID),
		slog.String("user_id", w.UserID),
		slog.String("mod_id", w.ModID),
		slog.Int64("date", w.Date),
	)
}

// Level is the per-guild, per-user experience row.
type Level struct {
	GuildID string `json:"guild_id" gorm:"primaryKey"`
	UserID  string `json:"user_id" gorm:"primaryKey"`
	Exp     int64  `json:"exp"`
	Level   int64  `json:"level"`
	ModelUnixTime
}

func (Level) TableName() string {
	return "levels"
}

// NewLevel returns a zeroed level row for the guild/user pair.
func NewLevel(guildID, userID string) *Level {
	return &Level{GuildID: guildID, UserID: userID}
}

func (lv Level) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", lv.GuildID),
		slog.String("user_id", lv.UserID),
		slog.Int64(columnLevelExp, lv.Exp),
		slog.Int64(columnLevelLevel, lv.Level),
	)
}

// RankedLevel is a level row with its dense rank position attached,
// as returned by the guild-rank query.
type RankedLevel struct {
	Level
	Rank int64 `json:"rank"`
}

// RequiredExp returns the cumulative experience required to reach the
// given level: 5/6 * L * (2L^2 + 27L + 91), evaluated in floating point.
// Strictly increasing in L for L >= 0.
func RequiredExp(level int64) float64 {
	l := float64(level)
	return 5.0 / 6.0 * l * (2*l*l + 27*l + 91)
}

// ProgressPercent returns the display percentage of progress through
// the current level, rounded to the nearest integer.
func ProgressPercent(exp int64, level int64) int64 {
	cur := RequiredExp(level)
	next := RequiredExp(level + 1)
	if next <= cur {
		return 0
	}
	pct := (float64(exp) - cur) / (next - cur) * 100
	return int64(math.Round(pct))
}

// LevelForExp returns the level a user with the given cumulative
// experience should hold: the largest L with RequiredExp(L) <= exp.
func LevelForExp(exp int64) int64 {
	var level int64
	for RequiredExp(level+1) <= float64(exp) {
		level++
	}
	return level
}

type NullableString string

//goland:noinspection GoMixedReceiverTypes
func (ns *NullableString) Scan(value any) error {
	if value == nil {
		*ns = ""
		return nil
	}
	strVal, ok := value.(string)
	if !ok {
		return errors.New("failed to cast to string")
	}
	*ns = NullableString(strVal)
	return nil
}

//goland:noinspection GoMixedReceiverTypes
func (ns NullableString) Value() (driver.Value, error) {
	if ns == "" {
		return nil, nil
	}
	return string(ns), nil
}

//goland:noinspection GoMixedReceiverTypes
func (ns NullableString) MarshalJSON() ([]byte, error) {
	if ns == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(ns))
}

//goland:noinspection GoMixedReceiverTypes
func (ns *NullableString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*ns = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*ns = NullableString(s)
	return nil
}

//goland:noinspection GoMixedReceiverTypes
func (ns NullableString) GoString() string {
	return string(ns)
}

//goland:noinspection GoMixedReceiverTypes
func (ns NullableString) String() string {
	return string(ns)
}
