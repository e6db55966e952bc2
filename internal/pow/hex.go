package pow

import (
	"fmt"

	fasthex "github.com/tmthrgd/go-hex"
)

// BytesToHex encodes b as lowercase hex.
func BytesToHex(b []byte) string {
	return fasthex.EncodeToString(b)
}

// HexToBytes decodes an even-length hex string.
func HexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string %q", s)
	}
	b, err := fasthex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return b, nil
}

// EncodeNonce renders a nonce as exactly 16 lowercase hex digits, most
// significant first.
func EncodeNonce(nonce uint64) string {
	return fmt.Sprintf("%016x", nonce)
}
