// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package symmetric

import (
	"crypto/cipher"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// CFB is full-block cipher feedback mode, as used for secret key packets.
//
// Unlike OpenPGP message encryption there is no resynchronization step.
type CFB struct{}

// Encrypt implements Cipher.
func (CFB) Encrypt(alg Algorithm, key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlockWithIV(alg, key, iv)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(out, plaintext) //nolint:staticcheck

	return out, nil
}

// Decrypt implements Cipher.
func (CFB) Decrypt(alg Algorithm, key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newBlockWithIV(alg, key, iv)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(out, ciphertext) //nolint:staticcheck

	return out, nil
}

// CBC is cipher block chaining without padding; input must be a whole number of blocks.
type CBC struct{}

// Encrypt implements Cipher.
func (CBC) Encrypt(alg Algorithm, key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlockWithIV(alg, key, iv)
	if err != nil {
		return nil, err
	}

	if len(plaintext)%block.BlockSize() != 0 {
		return nil, keyerror.Format("CBC input of %d octets is not a multiple of the block size", len(plaintext))
	}

	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)

	return out, nil
}

// Decrypt implements Cipher.
func (CBC) Decrypt(alg Algorithm, key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newBlockWithIV(alg, key, iv)
	if err != nil {
		return nil, err
	}

	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, keyerror.Format("CBC input of %d octets is not a multiple of the block size", len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	return out, nil
}

func newBlockWithIV(alg Algorithm, key, iv []byte) (cipher.Block, error) {
	block, err := alg.NewBlock(key)
	if err != nil {
		return nil, err
	}

	if len(iv) != block.BlockSize() {
		return nil, keyerror.Format("%s requires a %d octet IV, got %d", alg, block.BlockSize(), len(iv))
	}

	return block, nil
}
