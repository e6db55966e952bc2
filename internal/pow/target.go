package pow

import (
	"math"
	"math/big"
)

// FixedTarget is the acceptance target used for every pool job: all bytes
// 0xFF except the two most significant.
func FixedTarget() [HashSize]byte {
	var t [HashSize]byte
	for i := 2; i < HashSize; i++ {
		t[i] = 0xFF
	}
	return t
}

// CheckDifficulty reports whether hash, read as a big-endian integer, is
// strictly below target. Slices of different length never pass.
func CheckDifficulty(hash, target []byte) bool {
	if len(hash) != len(target) {
		return false
	}
	for i := range hash {
		if hash[i] < target[i] {
			return true
		}
		if hash[i] > target[i] {
			return false
		}
	}
	return false
}

// diffOneTarget is the difficulty-1 target 0x00000000FFFF0000...0000.
var diffOneTarget = func() *big.Int {
	b := make([]byte, HashSize)
	b[4], b[5] = 0xff, 0xff
	return new(big.Int).SetBytes(b)
}()

// DifficultyToTarget converts a pool share difficulty into a 32-byte
// big-endian target. Non-positive difficulties map to the difficulty-1
// target; targets wider than 256 bits saturate to all 0xFF.
func DifficultyToTarget(difficulty float64) [HashSize]byte {
	var out [HashSize]byte
	if difficulty <= 0 || math.IsNaN(difficulty) {
		diffOneTarget.FillBytes(out[:])
		return out
	}

	q := new(big.Float).Quo(new(big.Float).SetInt(diffOneTarget), big.NewFloat(difficulty))
	target, _ := q.Int(nil)
	if target.BitLen() > HashSize*8 {
		for i := range out {
			out[i] = 0xFF
		}
		return out
	}
	target.FillBytes(out[:])
	return out
}
