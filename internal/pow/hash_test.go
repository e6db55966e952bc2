package pow

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

func TestBlake3Hasher_KnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"},
		{"hello world", "hello world", "d74981efa70a0c880b8d8c1985d075dbcbf679b99a5f9914e5aaf96b831a9e24"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := Blake3Hasher{}.Sum([]byte(tt.input), 0)
			if got := BytesToHex(sum[:]); got != tt.want {
				t.Errorf("Sum(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestHasher_NonceAppendedLittleEndian(t *testing.T) {
	data := []byte("header bytes")
	nonce := uint64(0x0102030405060708)

	withNonce := binary.LittleEndian.AppendUint64(append([]byte{}, data...), nonce)

	for _, h := range []Hasher{Blake3Hasher{}, DoubleSHA256Hasher{}} {
		t.Run(h.Name(), func(t *testing.T) {
			if h.Sum(data, nonce) != h.Sum(withNonce, 0) {
				t.Error("Sum(data, nonce) must equal Sum(data||LE(nonce), 0)")
			}
			if h.Sum(data, 0) == h.Sum(data, 1) {
				t.Error("different nonces should produce different digests")
			}
			if h.Sum(data, nonce) != h.Sum(data, nonce) {
				t.Error("digest is not deterministic")
			}
		})
	}
}

func TestHasher_DoesNotMutateInput(t *testing.T) {
	data := make([]byte, 4, 64)
	copy(data, "abcd")
	_ = Blake3Hasher{}.Sum(data, 99)
	if got := data[:5]; got[4] != 0 {
		t.Errorf("input backing array was modified: %v", got)
	}
}

func TestDoubleSHA256Hasher(t *testing.T) {
	data := []byte("hello world")
	first := sha256.Sum256(data)
	want := sha256.Sum256(first[:])
	if got := (DoubleSHA256Hasher{}).Sum(data, 0); got != want {
		t.Errorf("Sum() = %x, want %x", got, want)
	}
}

func TestNewHasher(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"blake3", AlgorithmBlake3, false},
		{"", AlgorithmBlake3, false},
		{"sha256d", AlgorithmSHA256d, false},
		{"scrypt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHasher(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHasher(%q) error = %v", tt.name, err)
			}
			if err == nil && h.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", h.Name(), tt.want)
			}
		})
	}
}

func BenchmarkBlake3Sum80(b *testing.B) {
	input := make([]byte, 80)
	h := Blake3Hasher{}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		binary.LittleEndian.PutUint64(input[72:], uint64(i))
		_ = h.Sum(input, 0)
	}
}
