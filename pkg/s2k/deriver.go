// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package s2k

import (
	_ "crypto/md5" //nolint:gosec
	_ "crypto/sha1" //nolint:gosec
	_ "crypto/sha256"
	_ "crypto/sha512"

	pgps2k "github.com/ProtonMail/go-crypto/openpgp/s2k"
	_ "golang.org/x/crypto/ripemd160" //nolint:staticcheck

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// Deriver turns a passphrase into a symmetric key of keySize octets as described by d.
type Deriver interface {
	DeriveKey(passphrase []byte, d *Descriptor, keySize int) ([]byte, error)
}

// DefaultDeriver implements Deriver with the go-crypto S2K functions.
//
// Iterated counts are used as given, so counts without a one-octet encoding (as found in
// S-expression exports) derive correctly.
type DefaultDeriver struct{}

// DeriveKey implements Deriver.
func (DefaultDeriver) DeriveKey(passphrase []byte, d *Descriptor, keySize int) ([]byte, error) {
	if d == nil {
		return nil, keyerror.Format("missing S2K specifier")
	}

	if d.IsDummy() {
		return nil, keyerror.Policy("GNU dummy S2K does not derive keys")
	}

	h, err := d.Hash()
	if err != nil {
		return nil, err
	}

	key := make([]byte, keySize)

	switch d.Mode { //nolint:exhaustive
	case Simple:
		pgps2k.Simple(key, h.New(), passphrase)
	case Salted:
		pgps2k.Salted(key, h.New(), passphrase, d.Salt)
	case IteratedSalted:
		pgps2k.Iterated(key, h.New(), passphrase, d.Salt, d.Count)
	default:
		return nil, keyerror.Unsupported("S2K specifier type %d", d.Mode)
	}

	return key, nil
}
