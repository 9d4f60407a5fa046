package token

import (
	"encoding/base64"
	"fmt"
)

// defaultKey is the fixed obfuscation keystream
var defaultKey = []byte("bodega::entitlement::v1")

// Codec obfuscates token text
type Codec struct {
	key []byte
}

// NewCodec returns a Codec using the built-in keystream
func NewCodec() *Codec {
	return &Codec{key: defaultKey}
}

// NewCodecWithKey returns a Codec using key; an empty key falls back to the
// built-in keystream.
func NewCodecWithKey(key []byte) *Codec {
	if len(key) == 0 {
		key = defaultKey
	}
	return &Codec{key: append([]byte(nil), key...)}
}

// Encode XORs plain with the keystream and base64-encodes the result
func (c *Codec) Encode(plain string) string {
	return base64.StdEncoding.EncodeToString(c.xor([]byte(plain)))
}

// Decode reverses Encode. Malformed input is returned unchanged.
func (c *Codec) Decode(obfuscated string) string {
	plain, err := c.Open(obfuscated)
	if err != nil {
		return obfuscated
	}
	return plain
}

// Open is the strict form of Decode
func (c *Codec) Open(obfuscated string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(obfuscated)
	if err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}
	return string(c.xor(raw)), nil
}

func (c *Codec) xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}
