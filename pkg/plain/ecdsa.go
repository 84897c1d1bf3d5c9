// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package plain

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"math/big"

	"github.com/ProtonMail/go-crypto/brainpool"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

// nativePointPrefix marks the points of the 25519 curves.
const nativePointPrefix = 0x40

// uncompressedPointPrefix marks an uncompressed SEC 1 point.
const uncompressedPointPrefix = 0x04

// weierstrassCurve computes the uncompressed public point of a scalar of the curve's byte size.
type weierstrassCurve struct {
	curve       func() elliptic.Curve
	publicPoint func(d []byte) ([]byte, error)
}

var weierstrassCurves = map[string]weierstrassCurve{
	secretkey.CurveP256:            {curve: elliptic.P256, publicPoint: nistPoint(ecdh.P256())},
	secretkey.CurveP384:            {curve: elliptic.P384, publicPoint: nistPoint(ecdh.P384())},
	secretkey.CurveP521:            {curve: elliptic.P521, publicPoint: nistPoint(ecdh.P521())},
	secretkey.CurveBrainpoolP256r1: {curve: brainpool.P256r1, publicPoint: genericPoint(brainpool.P256r1)},
	secretkey.CurveBrainpoolP384r1: {curve: brainpool.P384r1, publicPoint: genericPoint(brainpool.P384r1)},
	secretkey.CurveBrainpoolP512r1: {curve: brainpool.P512r1, publicPoint: genericPoint(brainpool.P512r1)},
	secretkey.CurveSecp256k1: {
		curve: func() elliptic.Curve { return secp256k1.S256() },
		publicPoint: func(d []byte) ([]byte, error) {
			priv := secp256k1.PrivKeyFromBytes(d)
			defer priv.Zero()

			return priv.PubKey().SerializeUncompressed(), nil
		},
	},
}

func nistPoint(c ecdh.Curve) func([]byte) ([]byte, error) {
	return func(d []byte) ([]byte, error) {
		priv, err := c.NewPrivateKey(d)
		if err != nil {
			return nil, keyerror.Wrap(keyerror.KindIntegrity, err)
		}

		return priv.PublicKey().Bytes(), nil
	}
}

func genericPoint(curve func() elliptic.Curve) func([]byte) ([]byte, error) {
	return func(d []byte) ([]byte, error) {
		c := curve()
		x, y := c.ScalarBaseMult(d) //nolint:staticcheck

		return marshalPoint(c, x, y), nil
	}
}

func byteSize(c elliptic.Curve) int {
	return (c.Params().BitSize + 7) / 8
}

func marshalPoint(c elliptic.Curve, x, y *big.Int) []byte {
	size := byteSize(c)

	out := make([]byte, 1+2*size)
	out[0] = uncompressedPointPrefix

	x.FillBytes(out[1 : 1+size])
	y.FillBytes(out[1+size:])

	return out
}

func ecPrivateKey(pub *secretkey.PublicKey, d []byte) (crypto.PrivateKey, error) {
	curve, ok := pub.Curve()
	if !ok {
		return nil, keyerror.Unsupported("curve OID %x", pub.CurveOID())
	}

	point := pub.Params()[0].Bytes

	switch curve {
	case secretkey.CurveEd25519:
		return ed25519PrivateKey(point, d)
	case secretkey.CurveCurve25519:
		return x25519PrivateKey(point, d)
	}

	wc, ok := weierstrassCurves[curve]
	if !ok {
		return nil, keyerror.Unsupported("curve %s", curve)
	}

	c := wc.curve()

	scalar := new(big.Int).SetBytes(d)
	if scalar.Sign() == 0 || scalar.Cmp(c.Params().N) >= 0 {
		return nil, keyerror.Integrity("private scalar out of range for %s", curve)
	}

	fixed, err := fixedLength(d, byteSize(c))
	if err != nil {
		return nil, err
	}

	defer clear(fixed)

	computed, err := wc.publicPoint(fixed)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(computed, point) {
		return nil, keyerror.Integrity("private scalar does not match the %s public point", curve)
	}

	size := byteSize(c)

	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: c,
			X:     new(big.Int).SetBytes(computed[1 : 1+size]),
			Y:     new(big.Int).SetBytes(computed[1+size:]),
		},
		D: scalar,
	}, nil
}

// ecdsaPublicPoint returns the curve name and uncompressed point of pub.
func ecdsaPublicPoint(pub *ecdsa.PublicKey) (string, []byte, error) {
	curve := secretkey.CanonicalCurveName(pub.Curve.Params().Name)

	if _, ok := weierstrassCurves[curve]; !ok {
		return "", nil, keyerror.Unsupported("curve %s", pub.Curve.Params().Name)
	}

	return curve, marshalPoint(pub.Curve, pub.X, pub.Y), nil
}

func ed25519PrivateKey(point, d []byte) (ed25519.PrivateKey, error) {
	seed, err := fixedLength(d, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}

	defer clear(seed)

	priv := ed25519.NewKeyFromSeed(seed)

	if len(point) != 1+ed25519.PublicKeySize || point[0] != nativePointPrefix ||
		!bytes.Equal(point[1:], priv.Public().(ed25519.PublicKey)) { //nolint:forcetypeassert
		return nil, keyerror.Integrity("private seed does not match the Ed25519 public point")
	}

	return priv, nil
}

// x25519PrivateKey reads the big-endian, clamped secret OpenPGP stores for Curve25519.
func x25519PrivateKey(point, d []byte) (*ecdh.PrivateKey, error) {
	native, err := fixedLength(d, 32)
	if err != nil {
		return nil, err
	}

	defer clear(native)

	reverse(native)

	priv, err := ecdh.X25519().NewPrivateKey(native)
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindIntegrity, err)
	}

	if len(point) != 33 || point[0] != nativePointPrefix || !bytes.Equal(point[1:], priv.PublicKey().Bytes()) {
		return nil, keyerror.Integrity("private secret does not match the Curve25519 public point")
	}

	return priv, nil
}

func x25519Scalars(priv *ecdh.PrivateKey) ([][]byte, error) {
	if priv.Curve() != ecdh.X25519() {
		return nil, keyerror.Unsupported("ecdh curve %s", priv.Curve())
	}

	secret := priv.Bytes()

	secret[0] &= 248
	secret[31] &= 127
	secret[31] |= 64

	reverse(secret)

	return [][]byte{secret}, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
