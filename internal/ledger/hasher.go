package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Hasher produces the fixed-length hex digest used for entry hashes.
// Every supported algorithm yields 32 bytes, so ZeroHash is valid for all.
type Hasher interface {
	Name() string
	Sum(b []byte) string
}

// Supported algorithm names.
const (
	AlgSHA256  = "sha256"
	AlgSHA3256 = "sha3-256"
	AlgBLAKE3  = "blake3"
)

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return AlgSHA256 }

func (sha256Hasher) Sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

type sha3Hasher struct{}

func (sha3Hasher) Name() string { return AlgSHA3256 }

func (sha3Hasher) Sum(b []byte) string {
	h := sha3.Sum256(b)
	return hex.EncodeToString(h[:])
}

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return AlgBLAKE3 }

func (blake3Hasher) Sum(b []byte) string {
	h := blake3.Sum256(b)
	return hex.EncodeToString(h[:])
}

// SHA256 is the default Hasher.
var SHA256 Hasher = sha256Hasher{}

// HasherByName resolves a configured algorithm name. An empty name selects SHA-256.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AlgSHA256:
		return sha256Hasher{}, nil
	case AlgSHA3256, "sha3":
		return sha3Hasher{}, nil
	case AlgBLAKE3:
		return blake3Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}
