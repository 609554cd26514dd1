// Package fairness implements the commit/reveal seed chain used to pick crash points.
//
// Before a round opens the server publishes sha256(serverSeed). The crash point is
// HMAC-SHA256(serverSeed, clientSeed:nonce) mapped onto [1, max]. After the round closes the
// server seed is revealed and anyone can recompute both values.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

const seedBytes = 32

// Params tunes the crash distribution.
type Params struct {
	// HouseEdge is the fraction of rounds (in expectation) that crash instantly.
	HouseEdge float64
	// MaxMultiplier caps the crash point.
	MaxMultiplier decimal.Decimal
}

var one = decimal.NewFromInt(1)

// GenerateServerSeed returns 32 random bytes, hex encoded.
func GenerateServerSeed() (string, error) {
	b := make([]byte, seedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate server seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSeed is the public commitment for a server seed.
func HashSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether serverSeed matches a previously published hash.
func VerifyCommitment(serverSeed, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSeed(serverSeed)), []byte(hash)) == 1
}

// DeriveFloat64 maps (serverSeed, clientSeed, nonce) onto [0,1) using the top 52 bits of the HMAC.
func DeriveFloat64(serverSeed, clientSeed string, nonce uint64) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed + ":" + strconv.FormatUint(nonce, 10)))
	sum := mac.Sum(nil)
	bits := binary.BigEndian.Uint64(sum[:8]) >> 12
	return float64(bits) / float64(uint64(1)<<52)
}

// CrashPoint derives the crash multiplier of one round.
func CrashPoint(serverSeed, clientSeed string, nonce uint64, p Params) decimal.Decimal {
	return CrashPointFromFloat(DeriveFloat64(serverSeed, clientSeed, nonce), p)
}

// CrashPointFromFloat maps r in [0,1) to floor(100*(1-edge)/(1-r))/100, clamped to [1, max].
func CrashPointFromFloat(r float64, p Params) decimal.Decimal {
	if r < 0 || r >= 1 || math.IsNaN(r) {
		return one
	}
	x := (1 - p.HouseEdge) / (1 - r)
	if !p.MaxMultiplier.IsZero() && x >= p.MaxMultiplier.InexactFloat64() {
		return p.MaxMultiplier.Round(2)
	}
	// the epsilon absorbs binary noise such as 197.99999999999997
	cents := math.Floor(x*100 + 1e-9)
	point := decimal.New(int64(cents), -2)
	if point.LessThan(one) {
		return one
	}
	return point
}

// ErrCommitmentMismatch is returned by Verify when the revealed seed does not hash to the commitment.
var ErrCommitmentMismatch = errors.New("server seed does not match commitment")

// Verify recomputes a round from its revealed inputs.
func Verify(serverSeed, commitment, clientSeed string, nonce uint64, p Params) (decimal.Decimal, error) {
	if !VerifyCommitment(serverSeed, commitment) {
		return decimal.Zero, ErrCommitmentMismatch
	}
	return CrashPoint(serverSeed, clientSeed, nonce, p), nil
}
