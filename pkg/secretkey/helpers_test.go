// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"math/big"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

var created = time.Unix(1700000000, 0)

// fastS2K keeps iterated derivation cheap in tests.
var fastS2K = secretkey.WithS2KCount(1024)

type rsaFixture struct {
	priv     *rsa.PrivateKey
	pub      *secretkey.PublicKey
	material *keymaterial.Material
}

func newRSAFixture(t *testing.T, bits int, version uint8) rsaFixture {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)

	pub, err := secretkey.NewRSAPublicKey(version, priv.N, big.NewInt(int64(priv.E)), created, 0)
	require.NoError(t, err)

	return rsaFixture{priv: priv, pub: pub, material: rsaMaterial(t, priv)}
}

// rsaMaterial lays out d, p, q, u with p the second Go prime, as go-crypto does.
func rsaMaterial(t *testing.T, priv *rsa.PrivateKey) *keymaterial.Material {
	t.Helper()

	p, q := priv.Primes[1], priv.Primes[0]
	u := new(big.Int).ModInverse(p, q)

	m, err := keymaterial.New(packet.PubKeyAlgoRSA, priv.D.Bytes(), p.Bytes(), q.Bytes(), u.Bytes())
	require.NoError(t, err)

	return m
}

func newRecipe(t *testing.T, passphrase string, opts ...secretkey.RecipeOption) *secretkey.Recipe {
	t.Helper()

	recipe, err := secretkey.NewRecipe([]byte(passphrase), append([]secretkey.RecipeOption{fastS2K}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(recipe.Wipe)

	return recipe
}

func roundTrip(t *testing.T, p *secretkey.Packet) *secretkey.Packet {
	t.Helper()

	var buf bytes.Buffer

	require.NoError(t, p.Encode(&buf))

	decoded, err := secretkey.ReadPacket(&buf)
	require.NoError(t, err)

	return decoded
}
