package metadata

import (
	"testing"

	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSetValueUpserts(t *testing.T) {
	db := testutil.NewDB(t, &Metadata{})

	v, err := GetValue(db, "k")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetValue(db, "k", "1"))
	require.NoError(t, SetValue(db, "k", "2"))
	v, err = GetValue(db, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	var count int64
	require.NoError(t, db.Model(&Metadata{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNextNonceRollsBackWithTransaction(t *testing.T) {
	db := testutil.NewDB(t, &Metadata{})

	for want := uint64(1); want <= 3; want++ {
		var got uint64
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			var err error
			got, err = NextNonce(tx)
			return err
		}))
		assert.Equal(t, want, got)
	}

	_ = db.Transaction(func(tx *gorm.DB) error {
		_, err := NextNonce(tx)
		require.NoError(t, err)
		return assert.AnError
	})

	v, err := GetValue(db, RoundNonceKey)
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}
