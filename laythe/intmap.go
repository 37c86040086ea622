package laythe

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// IntMap is a JSON object of string keys to integer values, stored in a
// TEXT column. It backs the reward-roles mapping (level threshold to
// role ID) and the warn-actions mapping (warn count to action keyword
// index).
type IntMap map[string]int64

// Get returns the value for the given key, and whether it was present.
func (m IntMap) Get(key string) (int64, bool) {
	v, ok := m[key]
	return v, ok
}

// GetInt looks up a numeric key.
func (m IntMap) GetInt(key int64) (int64, bool) {
	return m.Get(strconv.FormatInt(key, 10))
}

// Set stores a value under the given key, allocating the map if needed.
func (m *IntMap) Set(key string, value int64) {
	if *m == nil {
		*m = IntMap{}
	}
	(*m)[key] = value
}

// Delete removes a key. Deleting an absent key is a no-op.
func (m IntMap) Delete(key string) {
	delete(m, key)
}

// AscendingKeys returns the map's keys sorted by their numeric value,
// ascending. Non-numeric keys sort after numeric ones, in lexical
// order. Reward-role application depends on this ordering: thresholds
// are walked lowest to highest and iteration stops at the first unmet
// threshold.
func (m IntMap) AscendingKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(
		keys, func(i, j int) bool {
			a, aErr := strconv.ParseInt(keys[i], 10, 64)
			b, bErr := strconv.ParseInt(keys[j], 10, 64)
			switch {
			case aErr == nil && bErr == nil:
				return a < b
			case aErr == nil:
				return true
			case bErr == nil:
				return false
			default:
				return keys[i] < keys[j]
			}
		},
	)
	return keys
}

// Scan implements the sql.Scanner interface.
func (m *IntMap) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return m.parse(v)
	case string:
		return m.parse([]byte(v))
	default:
		return fmt.Errorf("unexpected type for IntMap: %T", value)
	}
}

func (m *IntMap) parse(data []byte) error {
	if len(data) == 0 {
		*m = IntMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Value implements the driver.Valuer interface.
func (m IntMap) Value() (driver.Value, error) {
	if m == nil {
		m = IntMap{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType is used by GORM to determine the default data type for a field.
func (IntMap) GormDataType() string {
	return "text"
}
