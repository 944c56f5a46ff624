package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/money"
)

func TestSnapshotEncoding(t *testing.T) {
	t.Run("master keys", func(t *testing.T) {
		data, err := encodeMasterKeys(nil)
		require.NoError(t, err)
		keys, err := decodeMasterKeys(data)
		require.NoError(t, err)
		assert.Empty(t, keys)

		data, err = encodeMasterKeys([]string{"mk"})
		require.NoError(t, err)
		keys, err = decodeMasterKeys(data)
		require.NoError(t, err)
		assert.Equal(t, []string{"mk"}, keys)
	})

	t.Run("sub keys keep id from map key", func(t *testing.T) {
		in := map[string]domain.SubKey{
			"id-1": {Balance: money.MustParse("2.5"), CreatedTime: time.Unix(0, 0).UTC(), IsActive: true},
		}
		data, err := encodeSubKeys(in)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"balance": 2.50`)

		out, err := decodeSubKeys(data)
		require.NoError(t, err)
		assert.Equal(t, "id-1", out["id-1"].ID)
		assert.Equal(t, "2.50", out["id-1"].Balance.String())
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := decodeSubKeys([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestNewStoreKeys(t *testing.T) {
	s := NewStore(&Client{}, "kms:")
	assert.Equal(t, "kms:master_keys", s.masterKeysKey)
	assert.Equal(t, "kms:sub_keys", s.subKeysKey)
}
