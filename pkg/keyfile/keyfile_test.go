// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keyfile_test

import (
	"os"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keyfile"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

func newRecipe(t *testing.T) *secretkey.Recipe {
	t.Helper()

	recipe, err := secretkey.NewRecipe([]byte("secret"), secretkey.WithS2KCount(1024))
	require.NoError(t, err)

	t.Cleanup(recipe.Wipe)

	return recipe
}

func TestStore(t *testing.T) {
	t.Cleanup(xdg.Reload)

	// fake XDG paths
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "")
	xdg.Reload()

	store := keyfile.NewStore("test/keys")

	key, err := store.GenerateKey("testapp", "john@example.com", "Linux", newRecipe(t))
	require.NoError(t, err)

	assert.False(t, key.IsPrivateKeyEmpty())
	assert.False(t, store.KeyExists("testapp", "john@example.com"))

	path, err := store.WriteKey(key)
	require.NoError(t, err)

	t.Logf("saved key to %s", path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.True(t, store.KeyExists("testapp", "john@example.com"))

	k, err := store.ReadValidKey("testapp", "john@example.com")
	require.NoError(t, err)

	assert.Equal(t, key.Fingerprint(), k.Fingerprint())

	unlocked, err := k.Unlock([]byte("secret"))
	require.NoError(t, err)

	signature, err := unlocked.Sign([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, unlocked.Verify([]byte("data"), signature))

	err = store.DeleteKey("testapp", "john@example.com")
	require.NoError(t, err)

	_, err = store.ReadValidKey("testapp", "john@example.com")
	require.Error(t, err)
}

func TestStoreRejectsStrippedKey(t *testing.T) {
	t.Cleanup(xdg.Reload)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "")
	xdg.Reload()

	store := keyfile.NewStore("test/keys")

	key, err := store.GenerateKey("testapp", "john@example.com", "Linux", newRecipe(t))
	require.NoError(t, err)

	stripped, err := key.Strip()
	require.NoError(t, err)

	key.Key = stripped

	_, err = store.WriteKey(key)
	require.NoError(t, err)

	_, err = store.ReadValidKey("testapp", "john@example.com")
	assert.ErrorIs(t, err, secretkey.ErrNoPrivateKey)
}

func TestStoreRejectsGarbage(t *testing.T) {
	t.Cleanup(xdg.Reload)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "")
	xdg.Reload()

	path, err := xdg.DataFile("test/keys/testapp-john@example.com.pgp")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err = keyfile.NewStore("test/keys").ReadValidKey("testapp", "john@example.com")
	assert.ErrorIs(t, err, keyerror.ErrFormat)
}
