package activation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

func expectedSHA(deviceID, secret string) string {
	sum := sha256.Sum256([]byte(deviceID + secret))
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	return "ACTIV-" + h[:4] + "-" + h[4:8]
}

func TestGenerate(t *testing.T) {
	g := NewGenerator()

	tests := []struct {
		name     string
		deviceID string
		secret   string
	}{
		{"scenario device", "PDA-7Q2K", "S3cr3t"},
		{"other device", "PDA-0000", "S3cr3t"},
		{"long secret", "PDA-ABCD", strings.Repeat("x", 256)},
		{"empty device id", "", "S3cr3t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := g.Generate(tt.deviceID, tt.secret)
			require.NoError(t, err)
			assert.Equal(t, expectedSHA(tt.deviceID, tt.secret), code)
			assert.True(t, IsWellFormed(code), code)

			again, err := g.Generate(tt.deviceID, tt.secret)
			require.NoError(t, err)
			assert.Equal(t, code, again, "generation is deterministic")
		})
	}
}

func TestGenerateDistinctInputs(t *testing.T) {
	g := NewGenerator()
	a, err := g.Generate("PDA-7Q2K", "S3cr3t")
	require.NoError(t, err)
	b, err := g.Generate("PDA-7Q2L", "S3cr3t")
	require.NoError(t, err)
	c, err := g.Generate("PDA-7Q2K", "S3cr3u")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerateEmptySecret(t *testing.T) {
	for _, mode := range []Mode{ModeSHA256, ModeDJB2} {
		t.Run(mode.String(), func(t *testing.T) {
			_, err := NewGeneratorWithMode(mode).Generate("PDA-7Q2K", "")
			assert.True(t, errors.Is(err, apperrors.ErrEmptySecret))
		})
	}
}

func TestDJB2Mode(t *testing.T) {
	g := NewGeneratorWithMode(ModeDJB2)
	assert.Equal(t, ModeDJB2, g.Mode())

	// "a": 5381*33 + 97 = 177670 = 0x0002B606
	assert.Equal(t, "0002B606", djb2Hex("a"))
	assert.Equal(t, "00001505", djb2Hex(""))

	code, err := g.Generate("PDA-7Q2K", "S3cr3t")
	require.NoError(t, err)
	assert.True(t, IsWellFormed(code), code)

	h := djb2Hex("PDA-7Q2KS3cr3t")
	assert.Equal(t, "ACTIV-"+h[:4]+"-"+h[4:], code)
}

func TestMatches(t *testing.T) {
	g := NewGenerator()
	expected := expectedSHA("PDA-7Q2K", "S3cr3t")

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"exact", expected, true},
		{"lower case with spaces", "  " + strings.ToLower(expected) + "\n", true},
		{"wrong code", "ACTIV-0000-0000", false},
		{"empty", "", false},
		{"truncated", expected[:len(expected)-1], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := g.Matches(tt.candidate, "PDA-7Q2K", "S3cr3t")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIsWellFormed(t *testing.T) {
	assert.True(t, IsWellFormed("ACTIV-00AF-9B1C"))
	assert.False(t, IsWellFormed("ACTIV-00af-9B1C"))
	assert.False(t, IsWellFormed("ACTIV-00AF9B1C"))
	assert.False(t, IsWellFormed("PREM-00AF-9B1C"))
}
