// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey_test

import (
	"bytes"
	"crypto"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pgp-secretkey/pkg/checksum"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/s2k"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

func TestPacketRoundTrip(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)
	engine := secretkey.NewEngine()

	for _, tc := range []struct {
		name   string
		recipe *secretkey.Recipe
		subkey bool
	}{
		{name: "cleartext", recipe: secretkey.Unprotected()},
		{name: "sum16", recipe: newRecipe(t, "pw")},
		{name: "sha1 subkey", recipe: newRecipe(t, "pw", secretkey.WithChecksumDigest(crypto.SHA1)), subkey: true},
		{name: "salted twofish", recipe: newRecipe(t, "pw", secretkey.WithS2KMode(s2k.Salted), secretkey.WithSymmetric(symmetric.Twofish))},
		{name: "simple 3des", recipe: newRecipe(t, "pw", secretkey.WithS2KMode(s2k.Simple), secretkey.WithSymmetric(symmetric.TripleDES))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := engine.Protect(fixture.pub, fixture.material, tc.recipe, tc.subkey)
			require.NoError(t, err)

			decoded := roundTrip(t, p)

			expected, err := p.Bytes()
			require.NoError(t, err)

			actual, err := decoded.Bytes()
			require.NoError(t, err)

			assert.Equal(t, expected, actual)
			assert.Equal(t, tc.subkey, decoded.IsSubkey())
			assert.Equal(t, !tc.subkey, decoded.IsMasterKey())
			assert.Equal(t, p.Usage(), decoded.Usage())
			assert.Equal(t, fixture.pub.KeyID(), decoded.KeyID())
			assert.Equal(t, fixture.pub.Fingerprint(), decoded.Fingerprint())
			assert.True(t, decoded.IsSigningKey())

			if tc.subkey {
				assert.Equal(t, uint8(secretkey.TagSecretSubkey), decoded.Tag())
			} else {
				assert.Equal(t, uint8(secretkey.TagSecretKey), decoded.Tag())
			}
		})
	}
}

func TestPacketLegacyUsageOctet(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)

	desc, err := s2k.NewSimple(crypto.MD5)
	require.NoError(t, err)

	key, err := s2k.DefaultDeriver{}.DeriveKey([]byte("old school"), desc, symmetric.AES128.KeySize())
	require.NoError(t, err)

	iv := bytes.Repeat([]byte{0x5a}, 16)

	raw := append(fixture.material.Bytes(), checksum.Sum16Of(fixture.material.Bytes())...)

	data, err := symmetric.CFB{}.Encrypt(symmetric.AES128, key, iv, raw)
	require.NoError(t, err)

	body := fixture.pub.Bytes()
	body = append(body, byte(symmetric.AES128))
	body = append(body, iv...)
	body = append(body, data...)

	p, err := secretkey.DecodePacket(secretkey.TagSecretKey, body)
	require.NoError(t, err)

	enc, ok := p.Protection().(*secretkey.Encrypted)
	require.True(t, ok)

	assert.True(t, enc.Legacy)
	assert.Equal(t, secretkey.Usage(symmetric.AES128), p.Usage())
	assert.Equal(t, checksum.Sum16, enc.Checksum)
	assert.Equal(t, s2k.Simple, enc.S2K.Mode)
	assert.Equal(t, iv, p.IV())

	encoded, err := p.Bytes()
	require.NoError(t, err)
	assert.Equal(t, body, encoded)

	m, err := secretkey.NewEngine().Extract(p, []byte("old school"))
	require.NoError(t, err)
	assert.True(t, m.Equal(fixture.material))
}

func TestPacketDecodeErrors(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)
	pub := fixture.pub.Bytes()

	with := func(tail ...byte) []byte {
		return append(bytes.Clone(pub), tail...)
	}

	for _, tc := range []struct {
		name string
		tag  uint8
		body []byte
		kind error
	}{
		{name: "public key tag", tag: secretkey.TagPublicKey, body: with(0, 1), kind: keyerror.ErrFormat},
		{name: "empty", tag: secretkey.TagSecretKey, body: nil, kind: keyerror.ErrFormat},
		{name: "unknown version", tag: secretkey.TagSecretKey, body: append([]byte{5}, pub[1:]...), kind: keyerror.ErrUnsupported},
		{name: "missing usage", tag: secretkey.TagSecretKey, body: with(), kind: keyerror.ErrFormat},
		{name: "cleartext without data", tag: secretkey.TagSecretKey, body: with(0), kind: keyerror.ErrFormat},
		{name: "usage without cipher", tag: secretkey.TagSecretKey, body: with(254, 0, 0, 2), kind: keyerror.ErrFormat},
		{name: "unknown cipher", tag: secretkey.TagSecretKey, body: with(254, 99, 0, 2), kind: keyerror.ErrUnsupported},
		{name: "unknown s2k", tag: secretkey.TagSecretKey, body: with(254, 7, 42, 2), kind: keyerror.ErrUnsupported},
		{name: "truncated iv", tag: secretkey.TagSecretKey, body: with(254, 7, 0, 2, 1, 2, 3), kind: keyerror.ErrFormat},
		{name: "encrypted without data", tag: secretkey.TagSecretKey, body: with(append([]byte{254, 7, 0, 2}, make([]byte, 16)...)...), kind: keyerror.ErrFormat},
		{name: "unknown legacy cipher", tag: secretkey.TagSecretKey, body: with(append([]byte{42}, make([]byte, 16)...)...), kind: keyerror.ErrUnsupported},
		{name: "stub with data", tag: secretkey.TagSecretKey, body: with(255, 3, 101, 2, 'G', 'N', 'U', 1, 0xaa), kind: keyerror.ErrFormat},
		{name: "truncated serial", tag: secretkey.TagSecretKey, body: with(255, 0, 101, 2, 'G', 'N', 'U', 2, 1, 2), kind: keyerror.ErrFormat},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := secretkey.DecodePacket(tc.tag, tc.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
		})
	}

	_, err := secretkey.ReadPacket(bytes.NewReader(nil))
	assert.ErrorIs(t, err, keyerror.ErrFormat)
}

func TestNewPacketPolicy(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)
	legacy := newRSAFixture(t, 1024, 3)

	iterated, err := s2k.NewIterated(crypto.SHA256, make([]byte, s2k.SaltSize), 65536)
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		pub  *secretkey.PublicKey
		prot secretkey.Protection
		data []byte
	}{
		{name: "no public key", prot: secretkey.Cleartext{}, data: []byte{1}},
		{name: "no protection", pub: fixture.pub, data: []byte{1}},
		{name: "empty cleartext", pub: fixture.pub, prot: secretkey.Cleartext{}},
		{name: "iv size", pub: fixture.pub, prot: &secretkey.Encrypted{Algorithm: symmetric.AES128, S2K: iterated, IV: make([]byte, 8)}, data: []byte{1}},
		{name: "no cipher", pub: fixture.pub, prot: &secretkey.Encrypted{S2K: iterated}, data: []byte{1}},
		{name: "dummy s2k", pub: fixture.pub, prot: &secretkey.Encrypted{Algorithm: symmetric.AES128, S2K: s2k.NewGNUDummy(s2k.GNUNoPrivateKey), IV: make([]byte, 16)}, data: []byte{1}},
		{name: "sha1 on v3", pub: legacy.pub, prot: &secretkey.Encrypted{Algorithm: symmetric.AES128, S2K: iterated, IV: make([]byte, 16), Checksum: checksum.SHA1}, data: []byte{1}},
		{name: "legacy with salted s2k", pub: fixture.pub, prot: &secretkey.Encrypted{Algorithm: symmetric.AES128, S2K: iterated, IV: make([]byte, 16), Legacy: true}, data: []byte{1}},
		{name: "stub with data", pub: fixture.pub, prot: &secretkey.Stub{S2K: s2k.NewGNUDummy(s2k.GNUNoPrivateKey), Octet: secretkey.UsageChecksum}, data: []byte{1}},
		{name: "stub without dummy", pub: fixture.pub, prot: &secretkey.Stub{S2K: iterated, Octet: secretkey.UsageChecksum}},
		{name: "stub usage octet", pub: fixture.pub, prot: &secretkey.Stub{S2K: s2k.NewGNUDummy(s2k.GNUNoPrivateKey)}},
		{name: "odd count", pub: fixture.pub, prot: &secretkey.Encrypted{Algorithm: symmetric.AES128, S2K: &s2k.Descriptor{Mode: s2k.IteratedSalted, HashID: 8, Salt: make([]byte, 8), Count: 65537}, IV: make([]byte, 16)}, data: []byte{1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := secretkey.NewPacket(tc.pub, tc.prot, tc.data, false)
			assert.ErrorIs(t, err, keyerror.ErrPolicy)
		})
	}
}

func TestPacketIsolation(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)

	data := append(fixture.material.Bytes(), checksum.Sum16Of(fixture.material.Bytes())...)

	p, err := secretkey.NewPacket(fixture.pub, secretkey.Cleartext{}, data, false)
	require.NoError(t, err)

	data[0] ^= 0xff
	p.KeyData()[1] ^= 0xff

	m, err := secretkey.NewEngine().Extract(p, nil)
	require.NoError(t, err)
	assert.True(t, m.Equal(fixture.material))
}

func TestStubEncoding(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)
	pub := fixture.pub.Bytes()

	t.Run("no private key", func(t *testing.T) {
		stub, err := secretkey.NewNoPrivateKeyPacket(fixture.pub, true)
		require.NoError(t, err)

		body, err := stub.Bytes()
		require.NoError(t, err)

		assert.Equal(t, pub, body[:len(pub)])
		assert.Equal(t, []byte{255, 3, 101, 2, 'G', 'N', 'U', 1}, body[len(pub):])

		decoded := roundTrip(t, stub)
		assert.True(t, decoded.IsPrivateKeyEmpty())
		assert.True(t, decoded.IsSubkey())
		assert.True(t, decoded.S2K().IsDummy())
		assert.Nil(t, decoded.IV())

		s, ok := decoded.Protection().(*secretkey.Stub)
		require.True(t, ok)
		assert.False(t, s.DivertToCard())
		assert.Nil(t, s.Serial())
	})

	t.Run("divert to card", func(t *testing.T) {
		serial := []byte{0xd2, 0x76, 0x00, 0x01, 0x24, 0x01}

		stub, err := secretkey.NewDivertToCardPacket(fixture.pub, serial, false)
		require.NoError(t, err)

		body, err := stub.Bytes()
		require.NoError(t, err)

		field := make([]byte, secretkey.DivertToCardSerialSize)
		copy(field, serial)

		assert.Equal(t, append([]byte{255, 0, 101, 2, 'G', 'N', 'U', 2}, field...), body[len(pub):])

		decoded := roundTrip(t, stub)

		s, ok := decoded.Protection().(*secretkey.Stub)
		require.True(t, ok)
		assert.True(t, s.DivertToCard())
		assert.Equal(t, field, s.Serial())
	})

	t.Run("long serial is truncated", func(t *testing.T) {
		serial := bytes.Repeat([]byte{7}, 20)

		stub, err := secretkey.NewDivertToCardPacket(fixture.pub, serial, false)
		require.NoError(t, err)

		s, ok := stub.Protection().(*secretkey.Stub)
		require.True(t, ok)
		assert.Equal(t, serial[:secretkey.DivertToCardSerialSize], s.Serial())
	})

	t.Run("sha1 usage octet is kept", func(t *testing.T) {
		for _, tail := range [][]byte{
			{254, 3, 101, 2, 'G', 'N', 'U', 1},
			append([]byte{254, 0, 101, 2, 'G', 'N', 'U', 2}, make([]byte, secretkey.DivertToCardSerialSize)...),
		} {
			body := append(bytes.Clone(pub), tail...)

			decoded, err := secretkey.DecodePacket(secretkey.TagSecretSubkey, body)
			require.NoError(t, err)
			assert.Equal(t, secretkey.UsageSHA1, decoded.Usage())
			assert.True(t, decoded.IsPrivateKeyEmpty())

			encoded, err := decoded.Bytes()
			require.NoError(t, err)
			assert.Equal(t, body, encoded)

			assert.Equal(t, secretkey.UsageSHA1, roundTrip(t, decoded).Usage())
		}
	})
}

func TestStubReadableByGoCrypto(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)

	stub, err := secretkey.NewNoPrivateKeyPacket(fixture.pub, false)
	require.NoError(t, err)

	var buf bytes.Buffer

	require.NoError(t, stub.Encode(&buf))

	p, err := packet.Read(&buf)
	require.NoError(t, err)

	priv, ok := p.(*packet.PrivateKey)
	require.True(t, ok)

	assert.True(t, priv.Dummy())
	assert.Equal(t, fixture.pub.KeyID(), priv.KeyId)
}
