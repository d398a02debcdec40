package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWithDomainNullSeparator(t *testing.T) {
	// "foo" + 0x00 + "bar" != "foob" + 0x00 + "ar"
	hash1 := hashWithDomain("foo", []byte("bar"))
	hash2 := hashWithDomain("foob", []byte("ar"))

	assert.NotEqual(t, hash1, hash2, "Null separator must prevent boundary confusion")
}

func TestHashWithDomainFormat(t *testing.T) {
	sum := sha256.Sum256([]byte("relq/shape/v1\x00{}"))
	assert.Equal(t, hex.EncodeToString(sum[:]), hashWithDomain(DomainShape, []byte("{}")))
}

func TestFingerprint_Deterministic(t *testing.T) {
	shape := map[string]any{
		"users": map[string]any{
			"name":   true,
			"@where": map[string]any{"role": map[string]any{"$arg": "role"}},
		},
	}
	fp1, err := Fingerprint(DomainShape, shape)
	require.NoError(t, err)
	fp2, err := Fingerprint(DomainShape, shape)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	for _, c := range fp1 {
		valid := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		assert.True(t, valid, "Hash should only contain hex characters, got: %c", c)
	}
}

func TestFingerprint_NumbersByValue(t *testing.T) {
	a, err := Fingerprint(DomainShape, map[string]any{"@limit": 10})
	require.NoError(t, err)
	b, err := Fingerprint(DomainShape, map[string]any{"@limit": 10.0})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Fingerprint(DomainShape, map[string]any{"@limit": 11})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFingerprint_Unencodable(t *testing.T) {
	_, err := Fingerprint(DomainShape, map[string]any{"f": func() {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fingerprint")
}
