// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/siderolabs/go-pgp-secretkey/pkg/checksum"
	"github.com/siderolabs/go-pgp-secretkey/pkg/s2k"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

// Usage is the S2K usage octet of a secret key packet.
type Usage uint8

// S2K usage conventions. Any other value is a legacy cipher id, see Encrypted.Legacy.
const (
	UsageNone     Usage = 0
	UsageSHA1     Usage = 254
	UsageChecksum Usage = 255
)

// String implements fmt.Stringer.
func (u Usage) String() string {
	switch u {
	case UsageNone:
		return "none"
	case UsageSHA1:
		return "sha1-checksum"
	case UsageChecksum:
		return "checksum"
	default:
		return fmt.Sprintf("legacy(%s)", symmetric.Algorithm(u))
	}
}

// DivertToCardSerialSize is the size of the IV field holding a card serial number.
const DivertToCardSerialSize = 16

// Protection describes how the key data of a packet is protected.
//
// It is one of Cleartext, *Encrypted or *Stub.
type Protection interface {
	Usage() Usage
	Cipher() symmetric.Algorithm
	// Scheme is the checksum trailer of the plaintext key data.
	Scheme() checksum.Scheme

	validate(version uint8) error
	clone() Protection
}

// Cleartext key data: the scalars followed by a two-octet sum.
type Cleartext struct{}

// Usage implements Protection.
func (Cleartext) Usage() Usage { return UsageNone }

// Cipher implements Protection.
func (Cleartext) Cipher() symmetric.Algorithm { return symmetric.None }

// Scheme implements Protection.
func (Cleartext) Scheme() checksum.Scheme { return checksum.Sum16 }

func (Cleartext) validate(uint8) error { return nil }

func (c Cleartext) clone() Protection { return c }

// Encrypted key data, protected under a passphrase-derived key.
type Encrypted struct {
	S2K *s2k.Descriptor
	IV  []byte
	// Checksum is the plaintext trailer: Sum16 for usage 255, SHA1 for usage 254.
	Checksum  checksum.Scheme
	Algorithm symmetric.Algorithm
	// Legacy marks the pre-RFC 2440 form where the usage octet is the cipher id itself and the
	// S2K is implicitly simple MD5.
	Legacy bool
}

// Usage implements Protection.
func (e *Encrypted) Usage() Usage {
	switch {
	case e.Legacy:
		return Usage(e.Algorithm)
	case e.Checksum == checksum.SHA1:
		return UsageSHA1
	default:
		return UsageChecksum
	}
}

// Cipher implements Protection.
func (e *Encrypted) Cipher() symmetric.Algorithm { return e.Algorithm }

// Scheme implements Protection.
func (e *Encrypted) Scheme() checksum.Scheme { return e.Checksum }

func (e *Encrypted) validate(version uint8) error {
	var result *multierror.Error

	if e.Algorithm == symmetric.None {
		result = multierror.Append(result, errors.New("encrypted key data requires a cipher"))
	} else if !e.Algorithm.Known() {
		result = multierror.Append(result, fmt.Errorf("unknown cipher %s", e.Algorithm))
	}

	switch {
	case e.S2K == nil:
		result = multierror.Append(result, errors.New("encrypted key data requires an S2K specifier"))
	case e.S2K.IsDummy():
		result = multierror.Append(result, errors.New("encrypted key data cannot use a GNU dummy S2K"))
	}

	if size := e.Algorithm.BlockSize(); size != 0 && len(e.IV) != size {
		result = multierror.Append(result, fmt.Errorf("%s requires a %d octet IV, got %d", e.Algorithm, size, len(e.IV)))
	}

	if e.Checksum != checksum.Sum16 && e.Checksum != checksum.SHA1 {
		result = multierror.Append(result, fmt.Errorf("unknown checksum scheme %s", e.Checksum))
	}

	if version < 4 && e.Checksum == checksum.SHA1 {
		result = multierror.Append(result, fmt.Errorf("version %d keys only carry a two-octet sum", version))
	}

	if e.Legacy {
		if e.Checksum != checksum.Sum16 {
			result = multierror.Append(result, errors.New("legacy usage only carries a two-octet sum"))
		}

		if u := Usage(e.Algorithm); u == UsageSHA1 || u == UsageChecksum {
			result = multierror.Append(result, fmt.Errorf("cipher id %d cannot be a legacy usage octet", e.Algorithm))
		}

		if e.S2K != nil {
			if h, err := e.S2K.Hash(); e.S2K.Mode != s2k.Simple || err != nil || h != crypto.MD5 {
				result = multierror.Append(result, errors.New("legacy usage implies a simple MD5 S2K"))
			}
		}
	}

	return result.ErrorOrNil()
}

func (e *Encrypted) clone() Protection {
	c := *e
	c.S2K = e.S2K.Clone()
	c.IV = bytes.Clone(e.IV)

	return &c
}

// Stub marks a packet without local private material (GnuPG dummy S2K).
type Stub struct {
	S2K *s2k.Descriptor
	// Octet is the usage octet the stub is written with, UsageChecksum or UsageSHA1.
	Octet Usage
	// IV is empty for no-private-key stubs and holds the card serial number for divert-to-card stubs.
	IV []byte
	// Algorithm is written out for compatibility only; it never decrypts anything.
	Algorithm symmetric.Algorithm
}

// Usage implements Protection.
func (s *Stub) Usage() Usage { return s.Octet }

// Cipher implements Protection.
func (s *Stub) Cipher() symmetric.Algorithm { return s.Algorithm }

// Scheme implements Protection.
func (s *Stub) Scheme() checksum.Scheme { return checksum.Sum16 }

// DivertToCard reports whether the private key lives on a smart card.
func (s *Stub) DivertToCard() bool {
	return s.S2K != nil && s.S2K.GNUMode == s2k.GNUDivertToCard
}

// Serial returns the card serial number of a divert-to-card stub.
func (s *Stub) Serial() []byte {
	if !s.DivertToCard() {
		return nil
	}

	return bytes.Clone(s.IV)
}

func (s *Stub) validate(uint8) error {
	var result *multierror.Error

	if s.Octet != UsageChecksum && s.Octet != UsageSHA1 {
		result = multierror.Append(result, fmt.Errorf("stub usage octet %d is neither %d nor %d", s.Octet, UsageSHA1, UsageChecksum))
	}

	if !s.S2K.IsDummy() {
		result = multierror.Append(result, errors.New("stub requires a GNU dummy S2K"))
	} else {
		switch s.S2K.GNUMode {
		case s2k.GNUNoPrivateKey:
			if len(s.IV) != 0 {
				result = multierror.Append(result, errors.New("no-private-key stub carries no IV"))
			}
		case s2k.GNUDivertToCard:
			if len(s.IV) != DivertToCardSerialSize {
				result = multierror.Append(result, fmt.Errorf("divert-to-card stub requires a %d octet serial field, got %d", DivertToCardSerialSize, len(s.IV)))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("unknown GNU protection mode %d", s.S2K.GNUMode))
		}
	}

	return result.ErrorOrNil()
}

func (s *Stub) clone() Protection {
	c := *s
	c.S2K = s.S2K.Clone()
	c.IV = bytes.Clone(s.IV)

	return &c
}
