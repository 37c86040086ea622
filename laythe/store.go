package laythe

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetSetting retrieves the settings row for a guild. The in-memory
// cache is consulted first unless bypassCache is set; a bypassed read
// always refreshes the cache with the fresh row. On total absence of a
// backing row, a default row is created and the read retried exactly
// once.
func (d *database) GetSetting(
	ctx context.Context,
	guildID string,
	bypassCache bool,
) (*Setting, error) {
	if !bypassCache {
		if cached := d.settingCache.Lookup(guildID); cached != nil {
			return cached, nil
		}
	}

	setting, err := d.readSetting(ctx, guildID)
	if err == nil {
		d.settingCache.Store(setting)
		return setting, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	defaults := NewSetting(guildID)
	if _, createErr := d.Create(ctx, defaults); createErr != nil {
		return nil, fmt.Errorf("error creating default setting: %w", createErr)
	}

	setting, err = d.readSetting(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("error reading setting after create: %w", err)
	}
	d.settingCache.Store(setting)
	return setting, nil
}

func (d *database) readSetting(ctx context.Context, guildID string) (*Setting, error) {
	var setting Setting
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).First(&setting).Error
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// PutSetting rewrites the full settings row keyed by guild ID and
// invalidates the cache entry.
func (d *database) PutSetting(ctx context.Context, setting *Setting) error {
	if setting == nil {
		return errors.New("nil setting")
	}
	if setting.GuildID == "" {
		return errors.New("setting missing guild ID")
	}
	_, err := d.Save(ctx, setting)
	if err != nil {
		return err
	}
	d.settingCache.Invalidate(setting.GuildID)
	return nil
}

// DeleteSetting removes the settings row for a guild and invalidates
// the cache entry.
func (d *database) DeleteSetting(ctx context.Context, guildID string) error {
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	d.Lock()
	rv := d.db.WithContext(ctx).Unscoped().Where(
		"guild_id = ?", guildID,
	).Delete(&Setting{})
	d.Unlock()
	if rv.Error != nil {
		return rv.Error
	}
	d.settingCache.Invalidate(guildID)
	return nil
}

// ResetSetting deletes the settings row for a guild and reinserts a
// row with defaults, returning the fresh row.
func (d *database) ResetSetting(ctx context.Context, guildID string) (*Setting, error) {
	if err := d.DeleteSetting(ctx, guildID); err != nil {
		return nil, err
	}
	defaults := NewSetting(guildID)
	if _, err := d.Create(ctx, defaults); err != nil {
		return nil, err
	}
	d.settingCache.Store(defaults)
	return defaults, nil
}

// ListWarns returns the warns for a guild, newest first, optionally
// filtered to a single user. An empty result is not an error.
func (d *database) ListWarns(
	ctx context.Context,
	guildID string,
	userID string,
) ([]Warn, error) {
	var warns []Warn
	q := d.db.WithContext(ctx).Where("guild_id = ?", guildID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Order("date desc").Find(&warns).Error
	if err != nil {
		return nil, err
	}
	return warns, nil
}

// GetWarn returns the warn with the given guild and date, or nil if
// absent.
func (d *database) GetWarn(
	ctx context.Context,
	guildID string,
	date int64,
) (*Warn, error) {
	var warn Warn
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND date = ?", guildID, date,
	).First(&warn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &warn, nil
}

// GetWarnByID returns the warn with the given surrogate ID, scoped to
// the guild. Returns nil with no error if no row matches.
func (d *database) GetWarnByID(
	ctx context.Context,
	guildID string,
	id uint,
) (*Warn, error) {
	var warn Warn
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND id = ?", guildID, id,
	).First(&warn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &warn, nil
}

// AddWarn inserts a warn record.
func (d *database) AddWarn(ctx context.Context, warn *Warn) error {
	if warn == nil {
		return errors.New("nil warn")
	}
	_, err := d.Create(ctx, warn)
	return err
}

// RemoveWarn deletes the warn matching the composite
// (guild, user, mod, date) tuple of the given record. Returns whether
// a row was actually removed.
func (d *database) RemoveWarn(ctx context.Context, warn *Warn) (bool, error) {
	if warn == nil {
		return false, errors.New("nil warn")
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	d.Lock()
	rv := d.db.WithContext(ctx).Where(
		"guild_id = ? AND user_id = ? AND mod_id = ? AND date = ?",
		warn.GuildID, warn.UserID, warn.ModID, warn.Date,
	).Delete(&Warn{})
	d.Unlock()
	if rv.Error != nil {
		return false, rv.Error
	}
	return rv.RowsAffected > 0, nil
}

// CountWarns returns the number of warns on record for a guild/user.
func (d *database) CountWarns(
	ctx context.Context,
	guildID string,
	userID string,
) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&Warn{}).Where(
		"guild_id = ? AND user_id = ?", guildID, userID,
	).Count(&count).Error
	return count, err
}

// GetLevel returns the level row for the guild/user pair, creating a
// zeroed row (exp=0, level=0) on first access.
func (d *database) GetLevel(
	ctx context.Context,
	guildID string,
	userID string,
) (*Level, error) {
	var level Level
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND user_id = ?", guildID, userID,
	).First(&level).Error
	if err == nil {
		return &level, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := NewLevel(guildID, userID)
	if _, createErr := d.Create(ctx, fresh); createErr != nil {
		return nil, fmt.Errorf("error creating level row: %w", createErr)
	}
	return fresh, nil
}

// PutLevel updates only the exp/level columns, keyed by (guild, user).
func (d *database) PutLevel(ctx context.Context, level *Level) error {
	if level == nil {
		return errors.New("nil level")
	}
	_, err := d.UpdatesWhere(
		ctx,
		&Level{},
		map[string]any{
			columnLevelExp:   level.Exp,
			columnLevelLevel: level.Level,
		},
		"guild_id = ? AND user_id = ?",
		level.GuildID,
		level.UserID,
	)
	return err
}

// ResetLevel deletes one user's level row, or every row for the guild
// when userID is empty.
func (d *database) ResetLevel(ctx context.Context, guildID string, userID string) error {
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	q := d.db.WithContext(ctx).Unscoped().Where("guild_id = ?", guildID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	d.Lock()
	rv := q.Delete(&Level{})
	d.Unlock()
	return rv.Error
}

// Rank returns the guild's level rows ordered by experience descending,
// each with a dense rank number attached (ties share a rank, the next
// distinct value takes the following number).
func (d *database) Rank(ctx context.Context, guildID string) ([]RankedLevel, error) {
	var levels []Level
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("exp desc").Find(&levels).Error
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedLevel, 0, len(levels))
	var rank int64
	var prevExp int64
	for i, lv := range levels {
		if i == 0 || lv.Exp != prevExp {
			rank++
		}
		prevExp = lv.Exp
		ranked = append(ranked, RankedLevel{Level: lv, Rank: rank})
	}
	return ranked, nil
}
