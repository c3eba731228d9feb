package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	encoded := addr.String()
	require.Contains(t, encoded, "vst1")

	raw, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr.Array(), raw)
	require.Equal(t, encoded, AddressFromArray(raw).String())
}

func TestParseAddressRejectsForeignPrefix(t *testing.T) {
	foreign := NewAddress(AddressPrefix("cosmos"), make([]byte, AddressLength)).String()
	_, err := ParseAddress(foreign)
	require.Error(t, err)

	_, err = ParseAddress("not-an-address")
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	require.NoError(t, SaveToKeystoreWithStrength(path, key, "correct horse", LightKeystore))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestKeystoreOverwritesExistingFile(t *testing.T) {
	first, err := GeneratePrivateKey()
	require.NoError(t, err)
	second, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "owner.keystore")
	require.NoError(t, SaveToKeystoreWithStrength(path, first, "", LightKeystore))
	require.NoError(t, SaveToKeystoreWithStrength(path, second, "", LightKeystore))

	loaded, err := LoadFromKeystore(path, "")
	require.NoError(t, err)
	require.Equal(t, second.PubKey().Address().String(), loaded.PubKey().Address().String())
}
