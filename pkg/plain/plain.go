// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package plain converts plaintext key material to and from the private keys of the Go crypto packages.
//
// The private key types are:
//
//   - *rsa.PrivateKey
//   - *dsa.PrivateKey
//   - *elgamal.PrivateKey (github.com/ProtonMail/go-crypto/openpgp/elgamal)
//   - *ecdsa.PrivateKey for the NIST, brainpool and secp256k1 curves, for both ECDSA and ECDH keys
//   - ed25519.PrivateKey
//   - *ecdh.PrivateKey for Curve25519 ECDH keys
package plain

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/elgamal"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

// PrivateKey returns the private key held by material m of pub.
//
// The public part of the result is recomputed from m and must match pub, otherwise the
// error is keyerror.ErrIntegrity.
func PrivateKey(pub *secretkey.PublicKey, m *keymaterial.Material) (crypto.PrivateKey, error) {
	if m == nil {
		return nil, keyerror.Policy("no key material")
	}

	if m.Algorithm != pub.Algorithm() {
		return nil, keyerror.Policy("material for algorithm %d does not match public key algorithm %d", m.Algorithm, pub.Algorithm())
	}

	params := pub.Params()

	switch alg := pub.Algorithm(); alg { //nolint:exhaustive
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return rsaPrivateKey(params, m)
	case packet.PubKeyAlgoDSA:
		return dsaPrivateKey(params, m)
	case packet.PubKeyAlgoElGamal, keymaterial.PubKeyAlgoElGamalSignEncrypt:
		return elgamalPrivateKey(params, m)
	case packet.PubKeyAlgoECDSA, packet.PubKeyAlgoECDH, packet.PubKeyAlgoEdDSA:
		return ecPrivateKey(pub, m.Scalars[0].Bytes)
	default:
		return nil, keyerror.Unsupported("public key algorithm %d", alg)
	}
}

// Material returns the key material of priv, which must be the private key of pub.
func Material(pub *secretkey.PublicKey, priv crypto.PrivateKey) (*keymaterial.Material, error) {
	alg := pub.Algorithm()

	var (
		scalars [][]byte
		err     error
	)

	switch k := priv.(type) {
	case *rsa.PrivateKey:
		if err = expectAlgorithm(alg, k, packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly); err == nil {
			scalars, err = rsaScalars(k)
		}
	case *dsa.PrivateKey:
		if err = expectAlgorithm(alg, k, packet.PubKeyAlgoDSA); err == nil {
			scalars = [][]byte{k.X.Bytes()}
		}
	case *elgamal.PrivateKey:
		if err = expectAlgorithm(alg, k, packet.PubKeyAlgoElGamal, keymaterial.PubKeyAlgoElGamalSignEncrypt); err == nil {
			scalars = [][]byte{k.X.Bytes()}
		}
	case *ecdsa.PrivateKey:
		if err = expectAlgorithm(alg, k, packet.PubKeyAlgoECDSA, packet.PubKeyAlgoECDH); err == nil {
			scalars = [][]byte{k.D.Bytes()}
		}
	case ed25519.PrivateKey:
		if err = expectAlgorithm(alg, k, packet.PubKeyAlgoEdDSA); err == nil {
			scalars = [][]byte{k.Seed()}
		}
	case *ecdh.PrivateKey:
		if err = expectAlgorithm(alg, k, packet.PubKeyAlgoECDH); err == nil {
			scalars, err = x25519Scalars(k)
		}
	default:
		return nil, keyerror.Unsupported("private key type %T", priv)
	}

	if err != nil {
		return nil, err
	}

	m, err := keymaterial.New(alg, scalars...)
	if err != nil {
		return nil, err
	}

	// a round trip checks the material against the public key
	if _, err = PrivateKey(pub, m); err != nil {
		m.Wipe()

		return nil, err
	}

	return m, nil
}

// NewPublicKey builds the version 4 public key of priv.
//
// Elliptic curve keys of *ecdsa.PrivateKey get the ECDSA algorithm; use secretkey.NewECPublicKey for ECDH keys
// on those curves.
func NewPublicKey(priv crypto.PrivateKey, created time.Time) (*secretkey.PublicKey, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return secretkey.NewRSAPublicKey(4, k.N, bigInt(k.E), created, 0)
	case *dsa.PrivateKey:
		return secretkey.NewPublicKey(packet.NewDSAPublicKey(created, &k.PublicKey))
	case *elgamal.PrivateKey:
		return secretkey.NewPublicKey(packet.NewElGamalPublicKey(created, &k.PublicKey))
	case *ecdsa.PrivateKey:
		curve, point, err := ecdsaPublicPoint(&k.PublicKey)
		if err != nil {
			return nil, err
		}

		return secretkey.NewECPublicKey(packet.PubKeyAlgoECDSA, curve, point, created)
	case ed25519.PrivateKey:
		point := append([]byte{nativePointPrefix}, k.Public().(ed25519.PublicKey)...) //nolint:forcetypeassert

		return secretkey.NewECPublicKey(packet.PubKeyAlgoEdDSA, secretkey.CurveEd25519, point, created)
	case *ecdh.PrivateKey:
		if k.Curve() != ecdh.X25519() {
			return nil, keyerror.Unsupported("ecdh curve %s", k.Curve())
		}

		point := append([]byte{nativePointPrefix}, k.PublicKey().Bytes()...)

		return secretkey.NewECPublicKey(packet.PubKeyAlgoECDH, secretkey.CurveCurve25519, point, created)
	default:
		return nil, keyerror.Unsupported("private key type %T", priv)
	}
}

func expectAlgorithm(alg packet.PublicKeyAlgorithm, priv crypto.PrivateKey, allowed ...packet.PublicKeyAlgorithm) error {
	for _, a := range allowed {
		if a == alg {
			return nil
		}
	}

	return keyerror.Policy("private key type %T does not match public key algorithm %d", priv, alg)
}

// fixedLength left-pads the magnitude b to size octets.
func fixedLength(b []byte, size int) ([]byte, error) {
	if len(b) > size {
		return nil, keyerror.Format("scalar of %d octets exceeds %d", len(b), size)
	}

	out := make([]byte, size)
	copy(out[size-len(b):], b)

	return out, nil
}
