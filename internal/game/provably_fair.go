package game

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

const (
	MIN_CRASH_POINT = 1.00
	MAX_CRASH_POINT = 100.00
)

// GenerateSeed creates a cryptographically secure random seed (128 bits, hex)
func GenerateSeed() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// DeriveCrashPoint derives the crash point for a round from its seed and round
// ID. The derivation is deterministic: the same inputs always reproduce the
// same hash and crash point, which is what makes post-round verification work.
func DeriveCrashPoint(seed, roundID string) (float64, string) {
	combined := seed + "-" + roundID
	sum := sha256.Sum256([]byte(combined))
	hash := hex.EncodeToString(sum[:])

	// Leading 32 bits of the digest, normalized into [0, 1]
	v := binary.BigEndian.Uint32(sum[:4])
	return crashPointFromWord(v), hash
}

// crashPointFromWord maps a 32-bit word to a crash point in [1.00, 100.00]
func crashPointFromWord(v uint32) float64 {
	n := float64(v) / float64(math.MaxUint32)
	return roundTo2(1 + n*99)
}

// VerifyCrashPoint recomputes the crash point from the disclosed seed and
// compares it with the stored one. The 0.01 tolerance covers floating-point
// rounding only; any larger deviation means the round was not fair.
func VerifyCrashPoint(seed, roundID string, claimed float64) (float64, bool) {
	recomputed, _ := DeriveCrashPoint(seed, roundID)
	return recomputed, math.Abs(recomputed-claimed) < 0.01
}

func roundTo2(x float64) float64 {
	return math.Round(x*100) / 100
}
