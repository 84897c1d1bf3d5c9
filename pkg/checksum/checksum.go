// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package checksum computes and verifies the integrity trailer of plaintext secret key material.
package checksum

import (
	"crypto"
	"crypto/sha1" //nolint:gosec
	"crypto/subtle"
	"fmt"
	"hash"
)

// Scheme selects the trailer appended to plaintext key material.
type Scheme int

// Checksum schemes.
const (
	// Sum16 is the two-octet sum of all plaintext octets, modulo 65536.
	Sum16 Scheme = iota
	// SHA1 is the 20-octet SHA-1 digest of the plaintext.
	SHA1
)

// Sum16Size and SHA1Size are the trailer lengths of the two schemes.
const (
	Sum16Size = 2
	SHA1Size  = sha1.Size
)

// Size returns the trailer length for the scheme.
func (s Scheme) Size() int {
	if s == SHA1 {
		return SHA1Size
	}

	return Sum16Size
}

// String implements fmt.Stringer.
func (s Scheme) String() string {
	switch s {
	case Sum16:
		return "sum16"
	case SHA1:
		return "sha1"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// Digest returns the digest the scheme uses, or nil for Sum16.
func (s Scheme) Digest() hash.Hash {
	if s == SHA1 {
		return crypto.SHA1.New()
	}

	return nil
}

// Compute returns the trailer of data.
//
// With a digest, data is written to it and its sum is returned verbatim.
// Without one, the octets of data are summed into a wrapping 16-bit accumulator.
func Compute(digest hash.Hash, data []byte) []byte {
	if digest != nil {
		digest.Write(data) //nolint:errcheck

		return digest.Sum(nil)
	}

	return Sum16Of(data)
}

// Sum16Of returns the big-endian two-octet sum of data.
func Sum16Of(data []byte) []byte {
	var sum uint16

	for _, b := range data {
		sum += uint16(b)
	}

	return []byte{byte(sum >> 8), byte(sum)}
}

// Verify compares an expected trailer against a computed one.
//
// Equality is checked in constant time. On mismatch, position is the index of the first differing
// octet; it is meant for diagnostics only.
func Verify(expected, computed []byte) (ok bool, position int) {
	if len(expected) == len(computed) && subtle.ConstantTimeCompare(expected, computed) == 1 {
		return true, -1
	}

	for i := range computed {
		if i >= len(expected) || expected[i] != computed[i] {
			return false, i
		}
	}

	return false, len(computed)
}
