package fairness

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Params{HouseEdge: 0.01, MaxMultiplier: decimal.NewFromInt(1000)}

func TestServerSeedCommitment(t *testing.T) {
	seed, err := GenerateServerSeed()
	require.NoError(t, err)
	assert.Len(t, seed, 64)

	hash := HashSeed(seed)
	assert.Len(t, hash, 64)
	assert.True(t, VerifyCommitment(seed, hash))
	assert.False(t, VerifyCommitment(seed+"0", hash))
}

func TestDeriveFloat64Deterministic(t *testing.T) {
	a := DeriveFloat64("server", "client", 7)
	b := DeriveFloat64("server", "client", 7)
	c := DeriveFloat64("server", "client", 8)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 1.0)
}

func TestCrashPointFromFloat(t *testing.T) {
	cases := []struct {
		r    float64
		want string
	}{
		{0, "1"},
		{0.005, "1"},
		{0.5, "1.98"},
		{0.6, "2.47"},
		{0.9999999, "1000"},
	}
	for _, tc := range cases {
		got := CrashPointFromFloat(tc.r, testParams)
		assert.True(t, decimal.RequireFromString(tc.want).Equal(got), "r=%v got %s", tc.r, got)
	}
}

func TestCrashPointRange(t *testing.T) {
	for nonce := uint64(0); nonce < 500; nonce++ {
		p := CrashPoint("seed", "client", nonce, testParams)
		assert.True(t, p.GreaterThanOrEqual(decimal.NewFromInt(1)))
		assert.True(t, p.LessThanOrEqual(testParams.MaxMultiplier))
		assert.True(t, p.Equal(p.Truncate(2)))
	}
}

func TestVerify(t *testing.T) {
	seed, err := GenerateServerSeed()
	require.NoError(t, err)

	got, err := Verify(seed, HashSeed(seed), "client", 3, testParams)
	require.NoError(t, err)
	assert.True(t, got.Equal(CrashPoint(seed, "client", 3, testParams)))

	_, err = Verify(seed, HashSeed("other"), "client", 3, testParams)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)
}
