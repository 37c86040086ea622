package laythe

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// SettingFlags packs the per-guild feature toggles into a single
// integer column. The set of named bits is closed - unknown names are
// rejected at construction rather than silently ignored.
type SettingFlags uint64

const (
	// FlagUseLevel enables the leveling/experience system for a guild.
	FlagUseLevel SettingFlags = 1 << 0
)

// settingFlagNames maps the external names to their bits. New flags get
// a name here and a constant above.
var settingFlagNames = map[string]SettingFlags{
	"use_level": FlagUseLevel,
}

// NewSettingFlags builds a flag set from named booleans. Unknown names
// return an error.
func NewSettingFlags(values map[string]bool) (SettingFlags, error) {
	var f SettingFlags
	for name, on := range values {
		bit, ok := settingFlagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown flag name: %q", name)
		}
		if on {
			f |= bit
		}
	}
	return f, nil
}

// Has reports whether the named flag is set. Unknown names return an error.
func (f SettingFlags) Has(name string) (bool, error) {
	bit, ok := settingFlagNames[name]
	if !ok {
		return false, fmt.Errorf("unknown flag name: %q", name)
	}
	return f&bit != 0, nil
}

// With returns a copy of the flag set with the named flag set or
// cleared. Unknown names return an error.
func (f SettingFlags) With(name string, on bool) (SettingFlags, error) {
	bit, ok := settingFlagNames[name]
	if !ok {
		return f, fmt.Errorf("unknown flag name: %q", name)
	}
	if on {
		return f | bit, nil
	}
	return f &^ bit, nil
}

// UseLevel reports whether the leveling system is enabled.
func (f SettingFlags) UseLevel() bool {
	return f&FlagUseLevel != 0
}

// SetBits returns the integer values of all currently-set flags, in
// ascending bit order.
func (f SettingFlags) SetBits() []uint64 {
	var bits []uint64
	for i := 0; i < 64; i++ {
		bit := SettingFlags(1) << i
		if f&bit != 0 {
			bits = append(bits, uint64(bit))
		}
	}
	return bits
}

// Names returns the names of all currently-set flags.
func (f SettingFlags) Names() []string {
	var names []string
	for name, bit := range settingFlagNames {
		if f&bit != 0 {
			names = append(names, name)
		}
	}
	return names
}

// Scan implements the sql.Scanner interface.
func (f *SettingFlags) Scan(value any) error {
	switch v := value.(type) {
	case int64:
		*f = SettingFlags(v)
		return nil
	case uint64:
		*f = SettingFlags(v)
		return nil
	case nil:
		*f = 0
		return nil
	default:
		return fmt.Errorf("unexpected type for SettingFlags: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (f SettingFlags) Value() (driver.Value, error) {
	return int64(f), nil
}

// MarshalJSON implements the json.Marshaler interface, serializing the
// flags as an object of named booleans.
func (f SettingFlags) MarshalJSON() ([]byte, error) {
	values := map[string]bool{}
	for name, bit := range settingFlagNames {
		values[name] = f&bit != 0
	}
	return json.Marshal(values)
}

// UnmarshalJSON implements the json.Unmarshaler interface. Accepts
// either a raw integer or an object of named booleans.
func (f *SettingFlags) UnmarshalJSON(b []byte) error {
	var raw uint64
	if err := json.Unmarshal(b, &raw); err == nil {
		*f = SettingFlags(raw)
		return nil
	}
	var values map[string]bool
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	flags, err := NewSettingFlags(values)
	if err != nil {
		return err
	}
	*f = flags
	return nil
}

// GormDataType is used by GORM to determine the default data type for a field.
func (SettingFlags) GormDataType() string {
	return "integer"
}
