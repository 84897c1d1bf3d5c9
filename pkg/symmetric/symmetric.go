// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package symmetric provides the symmetric ciphers used to protect secret key material.
package symmetric

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:gosec
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"golang.org/x/crypto/blowfish" //nolint:staticcheck
	"golang.org/x/crypto/cast5"    //nolint:staticcheck
	"golang.org/x/crypto/twofish"  //nolint:staticcheck

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// Algorithm is an OpenPGP symmetric-key algorithm id (RFC 4880, section 9.2).
type Algorithm uint8

// Symmetric-key algorithm ids.
const (
	None      Algorithm = 0
	IDEA      Algorithm = 1
	TripleDES Algorithm = 2
	CAST5     Algorithm = 3
	Blowfish  Algorithm = 4
	AES128    Algorithm = 7
	AES192    Algorithm = 8
	AES256    Algorithm = 9
	Twofish   Algorithm = 10
	Camellia  Algorithm = 11
)

type algorithmInfo struct {
	newBlock  func(key []byte) (cipher.Block, error)
	name      string
	keySize   int
	blockSize int
}

var algorithms = map[Algorithm]algorithmInfo{
	IDEA:      {name: "IDEA", keySize: 16, blockSize: 8},
	TripleDES: {name: "3DES", keySize: 24, blockSize: des.BlockSize, newBlock: des.NewTripleDESCipher},
	CAST5: {name: "CAST5", keySize: cast5.KeySize, blockSize: cast5.BlockSize, newBlock: func(key []byte) (cipher.Block, error) {
		return cast5.NewCipher(key)
	}},
	Blowfish: {name: "Blowfish", keySize: 16, blockSize: blowfish.BlockSize, newBlock: func(key []byte) (cipher.Block, error) {
		return blowfish.NewCipher(key)
	}},
	AES128: {name: "AES-128", keySize: 16, blockSize: aes.BlockSize, newBlock: aes.NewCipher},
	AES192: {name: "AES-192", keySize: 24, blockSize: aes.BlockSize, newBlock: aes.NewCipher},
	AES256: {name: "AES-256", keySize: 32, blockSize: aes.BlockSize, newBlock: aes.NewCipher},
	Twofish: {name: "Twofish", keySize: 32, blockSize: twofish.BlockSize, newBlock: func(key []byte) (cipher.Block, error) {
		return twofish.NewCipher(key)
	}},
	Camellia:     {name: "Camellia-128", keySize: 16, blockSize: 16},
	Camellia + 1: {name: "Camellia-192", keySize: 24, blockSize: 16},
	Camellia + 2: {name: "Camellia-256", keySize: 32, blockSize: 16},
}

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	if a == None {
		return "none"
	}

	if info, ok := algorithms[a]; ok {
		return info.name
	}

	return fmt.Sprintf("cipher(%d)", uint8(a))
}

// Known reports whether a is an assigned algorithm id, implemented or not.
func (a Algorithm) Known() bool {
	_, ok := algorithms[a]

	return ok
}

// KeySize returns the key length in octets, or 0 for None and unknown ids.
func (a Algorithm) KeySize() int {
	return algorithms[a].keySize
}

// BlockSize returns the block length in octets, which is also the IV length, or 0 for None and unknown ids.
func (a Algorithm) BlockSize() int {
	return algorithms[a].blockSize
}

// CipherFunction returns the go-crypto packet representation of a.
func (a Algorithm) CipherFunction() packet.CipherFunction {
	return packet.CipherFunction(a)
}

// NewBlock returns the block cipher of a, keyed with key.
func (a Algorithm) NewBlock(key []byte) (cipher.Block, error) {
	info, ok := algorithms[a]
	if !ok || info.newBlock == nil {
		return nil, keyerror.Unsupported("symmetric algorithm %s", a)
	}

	if len(key) != info.keySize {
		return nil, keyerror.Policy("%s requires a %d octet key, got %d", a, info.keySize, len(key))
	}

	return info.newBlock(key)
}

// NewIV reads a fresh IV for a from rand.
func (a Algorithm) NewIV(rand io.Reader) ([]byte, error) {
	size := a.BlockSize()
	if size == 0 {
		return nil, keyerror.Unsupported("symmetric algorithm %s", a)
	}

	iv := make([]byte, size)

	if _, err := io.ReadFull(rand, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	return iv, nil
}

// Cipher encrypts and decrypts key material.
type Cipher interface {
	Encrypt(alg Algorithm, key, iv, plaintext []byte) ([]byte, error)
	Decrypt(alg Algorithm, key, iv, ciphertext []byte) ([]byte, error)
}
