package secrets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec, err := NewAESCodecFromPassphrase("test-passphrase")
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
	}{
		{"empty string", ""},
		{"unicode text", "会議メモ: завтра встреча ✉️"},
		{"ten thousand chars", strings.Repeat("0123456789", 1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := codec.Encrypt(tt.value)
			require.NoError(t, err)

			got, err := codec.Decrypt(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	codec, err := NewAESCodecFromPassphrase("test-passphrase")
	require.NoError(t, err)

	a, err := codec.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := codec.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b), "nonce must vary per encryption")
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	codec, err := NewAESCodecFromPassphrase("test-passphrase")
	require.NoError(t, err)

	blob, err := codec.Encrypt("sensitive")
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff

	_, err = codec.Decrypt(blob)
	assert.Error(t, err)
}

func TestNewAESCodecKeyLength(t *testing.T) {
	_, err := NewAESCodec(make([]byte, 16))
	assert.Error(t, err)
	_, err = NewAESCodec(make([]byte, 32))
	assert.NoError(t, err)
}

// An unset passphrase must not prevent the daemon from booting; the
// codec derives a key from the empty string and still round-trips.
func TestEmptyPassphraseStillEncrypts(t *testing.T) {
	codec, err := NewAESCodecFromPassphrase("")
	require.NoError(t, err)

	blob, err := codec.Encrypt("default-config item")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "default-config item")

	got, err := codec.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "default-config item", got)
}
