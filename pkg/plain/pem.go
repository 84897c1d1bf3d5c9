// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package plain

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// PEMType is the block type of PKCS #8 private keys.
const PEMType = "PRIVATE KEY"

// MarshalPEM encodes priv as a PKCS #8 PEM block.
//
// PKCS #8 covers RSA, ECDSA on the NIST curves, Ed25519 and X25519 keys.
func MarshalPEM(priv crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindUnsupported, err)
	}

	defer clear(der)

	return pem.EncodeToMemory(&pem.Block{Type: PEMType, Bytes: der}), nil
}

// ParsePEM decodes a PKCS #8 PEM block.
func ParsePEM(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != PEMType {
		return nil, keyerror.Format("failed to decode PEM block containing private key")
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	return priv, nil
}
