// Package pow holds the proof-of-work primitives used by the miner: the
// digest functions, target comparison, and hex helpers.
package pow

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"lukechampine.com/blake3"
)

// HashSize is the width of every digest.
const HashSize = 32

// Hasher is a deterministic 32-byte digest function. When nonce is non-zero
// its little-endian encoding is appended to data before hashing. Hashers hold
// no state and are safe for concurrent use.
type Hasher interface {
	Sum(data []byte, nonce uint64) [HashSize]byte
	Name() string
}

// Algorithm names accepted by NewHasher.
const (
	AlgorithmBlake3  = "blake3"
	AlgorithmSHA256d = "sha256d"
)

// NewHasher returns the hasher registered under name.
func NewHasher(name string) (Hasher, error) {
	switch name {
	case AlgorithmBlake3, "":
		return Blake3Hasher{}, nil
	case AlgorithmSHA256d:
		return DoubleSHA256Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// Blake3Hasher computes BLAKE3-256.
type Blake3Hasher struct{}

// Name implements Hasher.
func (Blake3Hasher) Name() string { return AlgorithmBlake3 }

// Sum implements Hasher.
func (Blake3Hasher) Sum(data []byte, nonce uint64) [HashSize]byte {
	if nonce == 0 {
		return blake3.Sum256(data)
	}
	return blake3.Sum256(appendNonce(data, nonce))
}

// DoubleSHA256Hasher computes SHA-256(SHA-256(x)).
type DoubleSHA256Hasher struct{}

// Name implements Hasher.
func (DoubleSHA256Hasher) Name() string { return AlgorithmSHA256d }

// Sum implements Hasher.
func (DoubleSHA256Hasher) Sum(data []byte, nonce uint64) [HashSize]byte {
	if nonce == 0 {
		return chainhash.DoubleHashH(data)
	}
	return chainhash.DoubleHashH(appendNonce(data, nonce))
}

func appendNonce(data []byte, nonce uint64) []byte {
	buf := make([]byte, len(data), len(data)+8)
	copy(buf, data)
	return binary.LittleEndian.AppendUint64(buf, nonce)
}
