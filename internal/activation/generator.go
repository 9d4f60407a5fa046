// Package activation derives the deterministic activation code that unlocks a
// device. The code is computed locally from the device ID and a shared
// secret; the secret never leaves the process.
package activation

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

// Prefix starts every activation code
const Prefix = "ACTIV-"

var codePattern = regexp.MustCompile(`^ACTIV-[0-9A-F]{4}-[0-9A-F]{4}$`)

// Mode selects the digest used to derive codes
type Mode int

const (
	// ModeSHA256 is the primary digest
	ModeSHA256 Mode = iota
	// ModeDJB2 is the fallback rolling hash for platforms without a digest
	// primitive. Its code space differs from ModeSHA256.
	ModeDJB2
)

func (m Mode) String() string {
	switch m {
	case ModeSHA256:
		return "sha256"
	case ModeDJB2:
		return "djb2"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Generator computes activation codes in exactly one mode for its lifetime
type Generator struct {
	mode Mode
}

// NewGenerator returns a Generator in the primary mode
func NewGenerator() *Generator {
	return &Generator{mode: ModeSHA256}
}

// NewGeneratorWithMode pins the digest mode
func NewGeneratorWithMode(mode Mode) *Generator {
	return &Generator{mode: mode}
}

// Mode reports the digest in use
func (g *Generator) Mode() Mode {
	return g.mode
}

// Generate returns ACTIV-XXXX-XXXX for deviceID and secret. An empty secret
// is a configuration error.
func (g *Generator) Generate(deviceID, secret string) (string, error) {
	if secret == "" {
		return "", apperrors.ErrEmptySecret
	}

	var digest string
	switch g.mode {
	case ModeDJB2:
		digest = djb2Hex(deviceID + secret)
	default:
		sum := sha256.Sum256([]byte(deviceID + secret))
		digest = strings.ToUpper(hex.EncodeToString(sum[:]))
	}

	return Prefix + digest[0:4] + "-" + digest[4:8], nil
}

// Matches normalizes candidate and compares it to the expected code in
// constant time.
func (g *Generator) Matches(candidate, deviceID, secret string) (bool, error) {
	expected, err := g.Generate(deviceID, secret)
	if err != nil {
		return false, err
	}
	return SecureCompare(Normalize(candidate), expected), nil
}

// djb2Hex hashes s with seed 5381 and h = h*33 + c over bytes, truncated to
// 32 bits, as 8 upper-case hex digits.
func djb2Hex(s string) string {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return fmt.Sprintf("%08X", h)
}

// Normalize trims whitespace and upper-cases user input
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsWellFormed reports whether code matches ACTIV-XXXX-XXXX
func IsWellFormed(code string) bool {
	return codePattern.MatchString(code)
}

// SecureCompare performs a constant-time string comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
