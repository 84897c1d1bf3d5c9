// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package keymaterial lays out private key scalars as bytes and frames them for protection.
package keymaterial

import (
	"bytes"

	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// PubKeyAlgoElGamalSignEncrypt is the deprecated sign-and-encrypt ElGamal id, still found in old key rings.
const PubKeyAlgoElGamalSignEncrypt packet.PublicKeyAlgorithm = 20

// ScalarCount returns the number of private scalars the algorithm stores.
func ScalarCount(alg packet.PublicKeyAlgorithm) (int, error) {
	switch alg { //nolint:exhaustive
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		// d, p, q, u
		return 4, nil
	case packet.PubKeyAlgoDSA, packet.PubKeyAlgoElGamal, PubKeyAlgoElGamalSignEncrypt,
		packet.PubKeyAlgoECDSA, packet.PubKeyAlgoECDH, packet.PubKeyAlgoEdDSA:
		return 1, nil
	default:
		return 0, keyerror.Unsupported("public key algorithm %d", alg)
	}
}

// IsRSA reports whether alg is one of the RSA ids.
func IsRSA(alg packet.PublicKeyAlgorithm) bool {
	switch alg { //nolint:exhaustive
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return true
	default:
		return false
	}
}

// Material is the plaintext private part of a key: the algorithm's scalars in wire order.
type Material struct {
	Scalars   []MPI
	Algorithm packet.PublicKeyAlgorithm
}

// New builds Material from big-endian magnitudes, checking the scalar count.
func New(alg packet.PublicKeyAlgorithm, scalars ...[]byte) (*Material, error) {
	n, err := ScalarCount(alg)
	if err != nil {
		return nil, err
	}

	if len(scalars) != n {
		return nil, keyerror.Policy("algorithm %d takes %d private scalars, got %d", alg, n, len(scalars))
	}

	m := &Material{Algorithm: alg, Scalars: make([]MPI, n)}

	for i, s := range scalars {
		m.Scalars[i] = NewMPI(s)
	}

	return m, nil
}

// Parse reads the scalars of alg from data, which must hold exactly those scalars.
func Parse(alg packet.PublicKeyAlgorithm, data []byte) (*Material, error) {
	n, err := ScalarCount(alg)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(data)
	m := &Material{Algorithm: alg, Scalars: make([]MPI, 0, n)}

	for range n {
		s, err := ReadMPI(r)
		if err != nil {
			m.Wipe()

			return nil, err
		}

		m.Scalars = append(m.Scalars, s)
	}

	if r.Len() != 0 {
		m.Wipe()

		return nil, keyerror.Format("%d trailing octets after private key scalars", r.Len())
	}

	return m, nil
}

// Bytes returns the concatenated wire encoding of the scalars.
func (m *Material) Bytes() []byte {
	size := 0

	for _, s := range m.Scalars {
		size += s.EncodedLen()
	}

	out := make([]byte, 0, size)

	for _, s := range m.Scalars {
		out = s.Append(out)
	}

	return out
}

// Equal reports whether both hold the same algorithm and scalar encodings.
func (m *Material) Equal(other *Material) bool {
	if m == nil || other == nil {
		return m == other
	}

	return m.Algorithm == other.Algorithm && bytes.Equal(m.Bytes(), other.Bytes())
}

// Clone returns a deep copy of m.
func (m *Material) Clone() *Material {
	c := &Material{Algorithm: m.Algorithm, Scalars: make([]MPI, len(m.Scalars))}

	for i, s := range m.Scalars {
		c.Scalars[i] = MPI{BitLength: s.BitLength, Bytes: bytes.Clone(s.Bytes)}
	}

	return c
}

// Wipe zeroes the scalar bytes. m must not be used afterwards.
func (m *Material) Wipe() {
	if m == nil {
		return
	}

	for _, s := range m.Scalars {
		wipe(s.Bytes)
	}
}
