// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey_test

import (
	"crypto/md5" //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

func TestPublicKeyIDs(t *testing.T) {
	t.Run("v4", func(t *testing.T) {
		fixture := newRSAFixture(t, 1024, 4)
		body := fixture.pub.Bytes()

		h := sha1.New() //nolint:gosec
		h.Write([]byte{0x99, byte(len(body) >> 8), byte(len(body))})
		h.Write(body)

		fingerprint := h.Sum(nil)

		assert.Equal(t, fingerprint, fixture.pub.Fingerprint())
		assert.Equal(t, binary.BigEndian.Uint64(fingerprint[12:]), fixture.pub.KeyID())
		assert.Len(t, fixture.pub.KeyIDString(), 16)
		assert.Equal(t, created.Unix(), fixture.pub.CreationTime().Unix())
	})

	t.Run("v3", func(t *testing.T) {
		fixture := newRSAFixture(t, 1024, 3)
		n := fixture.priv.N.Bytes()
		e := big.NewInt(int64(fixture.priv.E)).Bytes()

		fingerprint := md5.Sum(append(append([]byte{}, n...), e...)) //nolint:gosec

		assert.Equal(t, fingerprint[:], fixture.pub.Fingerprint())
		assert.Equal(t, binary.BigEndian.Uint64(n[len(n)-8:]), fixture.pub.KeyID())

		_, err := fixture.pub.Proton(false)
		assert.ErrorIs(t, err, keyerror.ErrUnsupported)
	})

	t.Run("validity", func(t *testing.T) {
		fixture := newRSAFixture(t, 1024, 4)

		pub, err := secretkey.NewRSAPublicKey(2, fixture.priv.N, big.NewInt(int64(fixture.priv.E)), created, 365)
		require.NoError(t, err)

		assert.Equal(t, uint8(2), pub.Version())
		assert.Equal(t, uint16(365), pub.ValidityDays())
		assert.Equal(t, fixture.pub.Params(), pub.Params())
	})
}

func TestECPublicKey(t *testing.T) {
	point := append([]byte{0x04}, make([]byte, 64)...)
	point[1] = 1

	t.Run("secp256k1", func(t *testing.T) {
		pub, err := secretkey.NewECPublicKey(packet.PubKeyAlgoECDSA, secretkey.CurveSecp256k1, point, created)
		require.NoError(t, err)

		curve, ok := pub.Curve()
		require.True(t, ok)
		assert.Equal(t, secretkey.CurveSecp256k1, curve)
		assert.Nil(t, pub.KDF())
		assert.Len(t, pub.Fingerprint(), 20)

		reparsed, err := secretkey.ParsePublicKey(pub.Bytes())
		require.NoError(t, err)
		assert.True(t, reparsed.Equal(pub))
	})

	t.Run("ecdh kdf", func(t *testing.T) {
		pub, err := secretkey.NewECPublicKey(packet.PubKeyAlgoECDH, "NIST P-384", point, created)
		require.NoError(t, err)

		assert.Equal(t, []byte{1, 9, 8}, pub.KDF())

		curve, ok := pub.Curve()
		require.True(t, ok)
		assert.Equal(t, secretkey.CurveP384, curve)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := secretkey.NewECPublicKey(packet.PubKeyAlgoECDSA, "sect233k1", point, created)
		assert.ErrorIs(t, err, keyerror.ErrUnsupported)

		_, err = secretkey.NewECPublicKey(packet.PubKeyAlgoRSA, secretkey.CurveP256, point, created)
		assert.ErrorIs(t, err, keyerror.ErrPolicy)
	})
}

func TestParsePublicKeyErrors(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)
	body := fixture.pub.Bytes()

	_, err := secretkey.ParsePublicKey(append(body, 0))
	assert.ErrorIs(t, err, keyerror.ErrFormat)

	_, err = secretkey.ParsePublicKey(body[:len(body)-1])
	assert.ErrorIs(t, err, keyerror.ErrFormat)

	// a version 3 DSA key
	_, err = secretkey.ParsePublicKey([]byte{3, 0, 0, 0, 0, 0, 0, byte(packet.PubKeyAlgoDSA)})
	assert.ErrorIs(t, err, keyerror.ErrUnsupported)

	_, err = secretkey.ParsePublicKey([]byte{4, 0, 0, 0, 0, 99})
	assert.ErrorIs(t, err, keyerror.ErrUnsupported)
}

func TestCurveNames(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected string
	}{
		{in: "NIST P-256", expected: secretkey.CurveP256},
		{in: "nistp521", expected: secretkey.CurveP521},
		{in: "ed25519", expected: secretkey.CurveEd25519},
		{in: "cv25519", expected: secretkey.CurveCurve25519},
		{in: "brainpoolP384r1", expected: secretkey.CurveBrainpoolP384r1},
		{in: "unknown", expected: "unknown"},
	} {
		assert.Equal(t, tc.expected, secretkey.CanonicalCurveName(tc.in), tc.in)
	}

	oid, ok := secretkey.CurveOID("NIST P-256")
	require.True(t, ok)

	name, ok := secretkey.CurveName(oid)
	require.True(t, ok)
	assert.Equal(t, secretkey.CurveP256, name)

	_, ok = secretkey.CurveName([]byte{1, 2, 3})
	assert.False(t, ok)
}
