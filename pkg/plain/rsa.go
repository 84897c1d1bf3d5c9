// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package plain

import (
	"crypto/dsa" //nolint:staticcheck
	"crypto/rsa"
	"math/big"

	"github.com/ProtonMail/go-crypto/openpgp/elgamal"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
)

func bigInt(n int) *big.Int {
	return big.NewInt(int64(n))
}

// rsaPrivateKey maps the OpenPGP scalars d, p, q, u onto Go's layout.
//
// OpenPGP stores u = p^-1 mod q while Go keeps Qinv = Primes[1]^-1 mod Primes[0], so the primes are swapped.
func rsaPrivateKey(params []keymaterial.MPI, m *keymaterial.Material) (*rsa.PrivateKey, error) {
	e := params[1].Int()
	if !e.IsInt64() || e.Int64() > 1<<31-1 || e.Sign() <= 0 {
		return nil, keyerror.Unsupported("RSA public exponent of %d bits", e.BitLen())
	}

	d, p, q, u := m.Scalars[0].Int(), m.Scalars[1].Int(), m.Scalars[2].Int(), m.Scalars[3].Int()

	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: params[0].Int(), E: int(e.Int64())},
		D:         d,
		Primes:    []*big.Int{q, p},
	}

	if err := priv.Validate(); err != nil {
		return nil, keyerror.Wrap(keyerror.KindIntegrity, err)
	}

	priv.Precompute()

	if priv.Precomputed.Qinv.Cmp(u) != 0 {
		return nil, keyerror.Integrity("RSA coefficient does not match the primes")
	}

	return priv, nil
}

func rsaScalars(priv *rsa.PrivateKey) ([][]byte, error) {
	if len(priv.Primes) != 2 {
		return nil, keyerror.Unsupported("RSA key with %d primes", len(priv.Primes))
	}

	priv.Precompute()

	return [][]byte{
		priv.D.Bytes(),
		priv.Primes[1].Bytes(),
		priv.Primes[0].Bytes(),
		priv.Precomputed.Qinv.Bytes(),
	}, nil
}

// discreteLog checks y = g^x mod p.
func discreteLog(p, g, y, x *big.Int) error {
	if x.Sign() <= 0 || x.Cmp(p) >= 0 {
		return keyerror.Integrity("private exponent out of range")
	}

	if new(big.Int).Exp(g, x, p).Cmp(y) != 0 {
		return keyerror.Integrity("private exponent does not match the public value")
	}

	return nil
}

func dsaPrivateKey(params []keymaterial.MPI, m *keymaterial.Material) (*dsa.PrivateKey, error) {
	priv := &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{P: params[0].Int(), Q: params[1].Int(), G: params[2].Int()},
			Y:          params[3].Int(),
		},
		X: m.Scalars[0].Int(),
	}

	if err := discreteLog(priv.P, priv.G, priv.Y, priv.X); err != nil {
		return nil, err
	}

	return priv, nil
}

func elgamalPrivateKey(params []keymaterial.MPI, m *keymaterial.Material) (*elgamal.PrivateKey, error) {
	priv := &elgamal.PrivateKey{
		PublicKey: elgamal.PublicKey{P: params[0].Int(), G: params[1].Int(), Y: params[2].Int()},
		X:         m.Scalars[0].Int(),
	}

	if err := discreteLog(priv.P, priv.G, priv.Y, priv.X); err != nil {
		return nil, err
	}

	return priv, nil
}
