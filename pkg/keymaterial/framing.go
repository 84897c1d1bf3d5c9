// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keymaterial

import (
	"bytes"
	"encoding/binary"

	"github.com/siderolabs/go-pgp-secretkey/pkg/checksum"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

// LegacyScalarCount is the number of RSA scalars framed individually by version 2 and 3 keys.
const LegacyScalarCount = 4

// Seal appends the scheme trailer to body and, unless alg is None, encrypts the whole
// blob as one stream under key and iv.
func Seal(c symmetric.Cipher, alg symmetric.Algorithm, key, iv, body []byte, scheme checksum.Scheme) ([]byte, error) {
	raw := AppendTrailer(body, scheme)

	if alg == symmetric.None {
		return raw, nil
	}

	defer wipe(raw)

	return c.Encrypt(alg, key, iv, raw)
}

// AppendTrailer returns a copy of body followed by its scheme trailer.
func AppendTrailer(body []byte, scheme checksum.Scheme) []byte {
	raw := make([]byte, 0, len(body)+scheme.Size())
	raw = append(raw, body...)

	return append(raw, checksum.Compute(scheme.Digest(), body)...)
}

// Open reverses Seal. It returns the plaintext blob, trailer included, after verifying the trailer.
func Open(c symmetric.Cipher, alg symmetric.Algorithm, key, iv, data []byte, scheme checksum.Scheme) ([]byte, error) {
	if len(data) < scheme.Size() {
		return nil, keyerror.Format("key data of %d octets cannot hold a %s trailer", len(data), scheme)
	}

	var (
		raw []byte
		err error
	)

	if alg == symmetric.None {
		raw = bytes.Clone(data)
	} else {
		raw, err = c.Decrypt(alg, key, iv, data)
		if err != nil {
			return nil, err
		}
	}

	if err = VerifyTrailer(raw, scheme); err != nil {
		wipe(raw)

		return nil, err
	}

	return raw, nil
}

// VerifyTrailer checks the scheme trailer at the end of raw.
//
// A mismatch is an integrity error naming the first differing trailer octet.
func VerifyTrailer(raw []byte, scheme checksum.Scheme) error {
	size := scheme.Size()

	if len(raw) < size {
		return keyerror.Format("key data of %d octets cannot hold a %s trailer", len(raw), scheme)
	}

	computed := checksum.Compute(scheme.Digest(), raw[:len(raw)-size])

	if ok, position := checksum.Verify(raw[len(raw)-size:], computed); !ok {
		return keyerror.Integrity("%s checksum mismatch at %d of %d", scheme, position, size)
	}

	return nil
}

// Body returns raw without its scheme trailer.
func Body(raw []byte, scheme checksum.Scheme) []byte {
	return raw[:len(raw)-scheme.Size()]
}

// SealLegacy encrypts the plaintext of a version 2/3 RSA key: four MPIs and a two-octet sum.
//
// Bit counts and the sum stay in the clear. Each scalar is its own CFB stream: the first under iv,
// each next one under the last len(iv) ciphertext octets preceding it.
func SealLegacy(c symmetric.Cipher, alg symmetric.Algorithm, key, iv, raw []byte) ([]byte, error) {
	return foldLegacy(raw, iv, func(chain, scalar []byte) ([]byte, error) {
		return c.Encrypt(alg, key, chain, scalar)
	}, false)
}

// OpenLegacy reverses SealLegacy and verifies the two-octet sum over the plaintext bit counts and scalars.
func OpenLegacy(c symmetric.Cipher, alg symmetric.Algorithm, key, iv, data []byte) ([]byte, error) {
	raw, err := foldLegacy(data, iv, func(chain, scalar []byte) ([]byte, error) {
		return c.Decrypt(alg, key, chain, scalar)
	}, true)
	if err != nil {
		return nil, err
	}

	if err = VerifyTrailer(raw, checksum.Sum16); err != nil {
		wipe(raw)

		return nil, err
	}

	return raw, nil
}

// foldLegacy walks the legacy layout of src, transforming each scalar under the chained IV.
//
// The chain is taken from whichever side holds ciphertext: src when decrypting, the output when encrypting.
func foldLegacy(src, iv []byte, transform func(chain, scalar []byte) ([]byte, error), chainOnSource bool) ([]byte, error) {
	out := make([]byte, 0, len(src))
	chain := bytes.Clone(iv)
	pos := 0

	fail := func(err error) ([]byte, error) {
		wipe(out[:cap(out)])

		return nil, err
	}

	for i := range LegacyScalarCount {
		if len(src)-pos < 2 {
			return fail(keyerror.Format("legacy key data truncated before scalar %d", i))
		}

		n := ByteLength(binary.BigEndian.Uint16(src[pos:]))

		if len(src)-pos-2 < n {
			return fail(keyerror.Format("legacy scalar %d needs %d octets, %d left", i, n, len(src)-pos-2))
		}

		out = append(out, src[pos:pos+2]...)
		pos += 2

		transformed, err := transform(chain, src[pos:pos+n])
		if err != nil {
			return fail(err)
		}

		out = append(out, transformed...)
		wipe(transformed)

		pos += n

		if i == LegacyScalarCount-1 {
			break
		}

		ciphertext := out
		if chainOnSource {
			ciphertext = src
		}

		if pos < len(chain) {
			return fail(keyerror.Format("legacy key data too short to chain a %d octet IV", len(chain)))
		}

		chain = bytes.Clone(ciphertext[pos-len(chain) : pos])
	}

	if len(src)-pos != checksum.Sum16Size {
		return fail(keyerror.Format("legacy key data must end with a %d octet checksum, %d octets left", checksum.Sum16Size, len(src)-pos))
	}

	return append(out, src[pos:]...), nil
}
