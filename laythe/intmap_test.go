package laythe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntMapSetGet(t *testing.T) {
	var m IntMap
	m.Set("5", 100)
	m.Set("10", 200)

	v, ok := m.Get("5")
	assert.True(t, ok)
	assert.Equal(t, int64(100), v)

	v, ok = m.GetInt(10)
	assert.True(t, ok)
	assert.Equal(t, int64(200), v)

	_, ok = m.GetInt(7)
	assert.False(t, ok)

	m.Delete("5")
	_, ok = m.Get("5")
	assert.False(t, ok)
}

func TestIntMapAscendingKeys(t *testing.T) {
	m := IntMap{"10": 1, "2": 2, "30": 3, "5": 4}
	assert.Equal(t, []string{"2", "5", "10", "30"}, m.AscendingKeys())
}

func TestIntMapAscendingKeysMixed(t *testing.T) {
	// non-numeric keys sort after numeric ones
	m := IntMap{"b": 1, "10": 2, "a": 3, "2": 4}
	assert.Equal(t, []string{"2", "10", "a", "b"}, m.AscendingKeys())
}

func TestIntMapScan(t *testing.T) {
	var m IntMap
	require.NoError(t, m.Scan([]byte(`{"3": 30}`)))
	v, ok := m.GetInt(3)
	assert.True(t, ok)
	assert.Equal(t, int64(30), v)

	require.NoError(t, m.Scan(`{"4": 40}`))
	_, ok = m.GetInt(4)
	assert.True(t, ok)

	require.NoError(t, m.Scan([]byte{}))
	assert.NotNil(t, m)
	assert.Empty(t, m)

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	assert.Error(t, m.Scan(42))
}

func TestIntMapValue(t *testing.T) {
	var m IntMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	m = IntMap{"1": 2}
	v, err = m.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"1": 2}`, v.(string))
}
