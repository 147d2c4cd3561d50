package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func TestEncryptDecryptKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	blob, err := EncryptKey("0x"+key, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	s, err := NewSigner(key, NewDomain(1, domain.Address{}))
	require.NoError(t, err)
	id, err := KeyFileIdentity(blob)
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)
}

func TestEncryptKeyValidatesInput(t *testing.T) {
	_, err := EncryptKey("abcd", "pw")
	require.Error(t, err)
	_, err = EncryptKey("zz", "pw")
	require.Error(t, err)

	key, err := GenerateKey()
	require.NoError(t, err)
	_, err = EncryptKey(key, "")
	require.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	t.Run("raw key wins", func(t *testing.T) {
		got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + key, EncryptedKeyPath: "/does/not/exist"})
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(key, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}, NewDomain(1, domain.Address{}))
		require.NoError(t, err)
		want, err := NewSigner(key, NewDomain(1, domain.Address{}))
		require.NoError(t, err)
		assert.Equal(t, want.Identity(), s.Identity())
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.False(t, KeyConfig{}.Configured())
		_, err := LoadKey(KeyConfig{})
		require.Error(t, err)
	})
}
