// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keymaterial_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pgp-secretkey/pkg/checksum"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

// scalar returns n random octets with the top bit set, so the MPI keeps all n octets.
func scalar(t *testing.T, n int) []byte {
	t.Helper()

	b := randomBytes(t, n)
	b[0] |= 0x80

	return b
}

func TestMPI(t *testing.T) {
	m := keymaterial.NewMPI([]byte{0, 0, 1, 0xff})
	assert.Equal(t, uint16(9), m.BitLength)
	assert.Equal(t, []byte{1, 0xff}, m.Bytes)
	assert.Equal(t, []byte{0, 9, 1, 0xff}, m.Append(nil))

	zero := keymaterial.NewMPI(nil)
	assert.Equal(t, []byte{0, 0}, zero.Append(nil))

	parsed, err := keymaterial.ReadMPI(bytes.NewReader([]byte{0, 9, 1, 0xff, 0xAA}))
	require.NoError(t, err)
	assert.Equal(t, m, parsed)

	_, err = keymaterial.ReadMPI(bytes.NewReader([]byte{0, 17, 1}))
	assert.ErrorIs(t, err, keyerror.ErrFormat)
}

func TestParse(t *testing.T) {
	rsa, err := keymaterial.New(packet.PubKeyAlgoRSA, []byte{1}, []byte{2, 3}, []byte{4}, []byte{5})
	require.NoError(t, err)

	data := rsa.Bytes()
	assert.Equal(t, []byte{0, 1, 1, 0, 10, 2, 3, 0, 3, 4, 0, 3, 5}, data)

	parsed, err := keymaterial.Parse(packet.PubKeyAlgoRSA, data)
	require.NoError(t, err)
	assert.True(t, rsa.Equal(parsed))

	for _, tt := range []struct {
		kind error
		name string
		data []byte
		alg  packet.PublicKeyAlgorithm
	}{
		{name: "trailing", alg: packet.PubKeyAlgoRSA, data: append(bytes.Clone(data), 0), kind: keyerror.ErrFormat},
		{name: "truncated", alg: packet.PubKeyAlgoRSA, data: data[:len(data)-1], kind: keyerror.ErrFormat},
		{name: "one scalar too many", alg: packet.PubKeyAlgoEdDSA, data: data, kind: keyerror.ErrFormat},
		{name: "unknown algorithm", alg: packet.PublicKeyAlgorithm(99), data: data, kind: keyerror.ErrUnsupported},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := keymaterial.Parse(tt.alg, tt.data)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	_, err = keymaterial.New(packet.PubKeyAlgoECDSA, []byte{1}, []byte{2})
	assert.ErrorIs(t, err, keyerror.ErrPolicy)
}

func TestWipe(t *testing.T) {
	m, err := keymaterial.New(packet.PubKeyAlgoEdDSA, []byte{1, 2, 3})
	require.NoError(t, err)

	c := m.Clone()

	m.Wipe()
	assert.Equal(t, []byte{0, 0, 0}, m.Scalars[0].Bytes)
	assert.Equal(t, []byte{1, 2, 3}, c.Scalars[0].Bytes)
}

func TestBlob(t *testing.T) {
	key := randomBytes(t, 16)
	iv := randomBytes(t, 16)
	body := randomBytes(t, 70)

	for _, scheme := range []checksum.Scheme{checksum.Sum16, checksum.SHA1} {
		t.Run(scheme.String(), func(t *testing.T) {
			sealed, err := keymaterial.Seal(symmetric.CFB{}, symmetric.AES128, key, iv, body, scheme)
			require.NoError(t, err)
			assert.Len(t, sealed, len(body)+scheme.Size())

			raw, err := keymaterial.Open(symmetric.CFB{}, symmetric.AES128, key, iv, sealed, scheme)
			require.NoError(t, err)
			assert.Equal(t, body, keymaterial.Body(raw, scheme))

			wrong := bytes.Clone(key)
			wrong[0] ^= 1

			_, err = keymaterial.Open(symmetric.CFB{}, symmetric.AES128, wrong, iv, sealed, scheme)
			assert.ErrorIs(t, err, keyerror.ErrIntegrity)
		})
	}

	plain, err := keymaterial.Seal(nil, symmetric.None, nil, nil, body, checksum.Sum16)
	require.NoError(t, err)
	assert.Equal(t, body, plain[:len(body)])

	plain[0] ^= 0xff

	_, err = keymaterial.Open(nil, symmetric.None, nil, nil, plain, checksum.Sum16)
	assert.ErrorIs(t, err, keyerror.ErrIntegrity)

	_, err = keymaterial.Open(nil, symmetric.None, nil, nil, []byte{1}, checksum.Sum16)
	assert.ErrorIs(t, err, keyerror.ErrFormat)
}

func legacyRaw(t *testing.T, scalars ...[]byte) []byte {
	t.Helper()

	m, err := keymaterial.New(packet.PubKeyAlgoRSA, scalars...)
	require.NoError(t, err)

	return keymaterial.AppendTrailer(m.Bytes(), checksum.Sum16)
}

func TestLegacyChaining(t *testing.T) {
	key := randomBytes(t, 16)
	iv := randomBytes(t, 16)

	same := bytes.Repeat([]byte{0x5a}, 32)
	raw := legacyRaw(t, same, same, scalar(t, 32), scalar(t, 32))

	sealed, err := keymaterial.SealLegacy(symmetric.CFB{}, symmetric.AES128, key, iv, raw)
	require.NoError(t, err)
	require.Len(t, sealed, len(raw))

	// bit counts and checksum are in the clear
	for _, pos := range []int{0, 34, 68, 102, len(raw) - 2, len(raw) - 1} {
		assert.Equal(t, raw[pos], sealed[pos], "octet %d", pos)
	}

	first, second := sealed[2:34], sealed[36:68]
	assert.NotEqual(t, first, second, "equal plaintext scalars must encrypt differently")

	// the second scalar is encrypted under the last 16 ciphertext octets of the first one
	decrypted, err := symmetric.CFB{}.Decrypt(symmetric.AES128, key, sealed[34-16:34], second)
	require.NoError(t, err)
	assert.Equal(t, same, decrypted)

	opened, err := keymaterial.OpenLegacy(symmetric.CFB{}, symmetric.AES128, key, iv, sealed)
	require.NoError(t, err)
	assert.Equal(t, raw, opened)

	wrong := bytes.Clone(key)
	wrong[15] ^= 0x80

	_, err = keymaterial.OpenLegacy(symmetric.CFB{}, symmetric.AES128, wrong, iv, sealed)
	assert.ErrorIs(t, err, keyerror.ErrIntegrity)
}

func TestLegacyShortScalarsChainThroughHeaders(t *testing.T) {
	key := randomBytes(t, 16)
	iv := randomBytes(t, 8)

	// short scalars: the 8 octet CAST5 chain spans clear bit counts
	raw := legacyRaw(t, []byte{1, 2, 3, 4, 5, 6}, []byte{7, 8, 9, 10, 11}, []byte{12}, []byte{13, 14, 15, 16, 17, 18, 19, 20})

	sealed, err := keymaterial.SealLegacy(symmetric.CFB{}, symmetric.CAST5, key, iv, raw)
	require.NoError(t, err)

	decrypted, err := symmetric.CFB{}.Decrypt(symmetric.CAST5, key, sealed[0:8], sealed[10:15])
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8, 9, 10, 11}, decrypted)

	// the chain for the third scalar includes the second scalar's bit count at octets 8 and 9
	decrypted, err = symmetric.CFB{}.Decrypt(symmetric.CAST5, key, sealed[7:15], sealed[17:18])
	require.NoError(t, err)
	assert.Equal(t, []byte{12}, decrypted)

	opened, err := keymaterial.OpenLegacy(symmetric.CFB{}, symmetric.CAST5, key, iv, sealed)
	require.NoError(t, err)
	assert.Equal(t, raw, opened)
}

func TestLegacyFormatErrors(t *testing.T) {
	key := randomBytes(t, 16)
	iv := randomBytes(t, 16)
	raw := legacyRaw(t, scalar(t, 20), scalar(t, 20), scalar(t, 20), scalar(t, 20))

	for _, tt := range []struct {
		name string
		data []byte
	}{
		{name: "trailing", data: append(bytes.Clone(raw), 0)},
		{name: "missing checksum", data: raw[:len(raw)-2]},
		{name: "truncated scalar", data: raw[:50]},
		{name: "empty", data: nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := keymaterial.OpenLegacy(symmetric.CFB{}, symmetric.AES128, key, iv, tt.data)
			assert.ErrorIs(t, err, keyerror.ErrFormat)
		})
	}

	tiny := legacyRaw(t, []byte{1}, []byte{2}, []byte{3}, []byte{4})

	_, err := keymaterial.SealLegacy(symmetric.CFB{}, symmetric.AES128, key, iv, tiny)
	assert.ErrorIs(t, err, keyerror.ErrFormat)
}
