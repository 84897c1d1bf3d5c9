// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package s2k carries OpenPGP string-to-key specifiers and derives symmetric keys from passphrases.
package s2k

import (
	"bytes"
	"crypto"
	"fmt"
	"io"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// Mode is the S2K specifier type octet (RFC 4880, section 3.7.1).
type Mode uint8

// S2K specifier types.
const (
	Simple         Mode = 0
	Salted         Mode = 1
	IteratedSalted Mode = 3
	// GNU is the GnuPG extension marking a key without local private material.
	GNU Mode = 101
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Simple:
		return "simple"
	case Salted:
		return "salted"
	case IteratedSalted:
		return "iterated-salted"
	case GNU:
		return "gnu-dummy"
	default:
		return fmt.Sprintf("s2k(%d)", uint8(m))
	}
}

// GNUMode is the protection mode of a GNU dummy specifier.
type GNUMode uint8

// GNU dummy protection modes (GnuPG modes 1001 and 1002).
const (
	GNUNoPrivateKey GNUMode = 1
	GNUDivertToCard GNUMode = 2
)

// SaltSize is the salt length of salted specifiers.
const SaltSize = 8

var gnuMagic = []byte("GNU")

// hash ids from RFC 4880, section 9.4.
var hashIDs = map[uint8]crypto.Hash{
	1:  crypto.MD5,
	2:  crypto.SHA1,
	3:  crypto.RIPEMD160,
	8:  crypto.SHA256,
	9:  crypto.SHA384,
	10: crypto.SHA512,
	11: crypto.SHA224,
}

// HashID returns the OpenPGP id of h.
func HashID(h crypto.Hash) (uint8, bool) {
	for id, candidate := range hashIDs {
		if candidate == h {
			return id, true
		}
	}

	return 0, false
}

// Descriptor is an S2K specifier.
//
// Mode selects which fields are meaningful: Salt for Salted and IteratedSalted, Count for
// IteratedSalted, GNUMode for GNU. HashID is kept as the raw octet so unknown ids survive a round trip.
type Descriptor struct {
	Salt    []byte
	Count   int
	Mode    Mode
	HashID  uint8
	GNUMode GNUMode
}

// NewSimple returns a simple specifier.
func NewSimple(h crypto.Hash) (*Descriptor, error) {
	id, ok := HashID(h)
	if !ok {
		return nil, keyerror.Unsupported("S2K hash %s", h)
	}

	return &Descriptor{Mode: Simple, HashID: id}, nil
}

// NewSalted returns a salted specifier.
func NewSalted(h crypto.Hash, salt []byte) (*Descriptor, error) {
	d, err := NewSimple(h)
	if err != nil {
		return nil, err
	}

	if len(salt) != SaltSize {
		return nil, keyerror.Policy("S2K salt must be %d octets, got %d", SaltSize, len(salt))
	}

	d.Mode = Salted
	d.Salt = bytes.Clone(salt)

	return d, nil
}

// NewIterated returns an iterated and salted specifier hashing count octets.
func NewIterated(h crypto.Hash, salt []byte, count int) (*Descriptor, error) {
	d, err := NewSalted(h, salt)
	if err != nil {
		return nil, err
	}

	if count <= 0 {
		return nil, keyerror.Policy("S2K count must be positive, got %d", count)
	}

	d.Mode = IteratedSalted
	d.Count = count

	return d, nil
}

// NewGNUDummy returns a GNU dummy specifier for the given protection mode.
func NewGNUDummy(mode GNUMode) *Descriptor {
	return &Descriptor{Mode: GNU, HashID: 2, GNUMode: mode}
}

// Generate returns a fresh specifier of the given mode with a random salt.
//
// The count is rounded up to the nearest value the one-octet encoding can carry.
func Generate(rand io.Reader, mode Mode, h crypto.Hash, count int) (*Descriptor, error) {
	switch mode { //nolint:exhaustive
	case Simple:
		return NewSimple(h)
	case Salted, IteratedSalted:
	default:
		return nil, keyerror.Policy("cannot generate %s specifier", mode)
	}

	salt := make([]byte, SaltSize)

	if _, err := io.ReadFull(rand, salt); err != nil {
		return nil, fmt.Errorf("failed to generate S2K salt: %w", err)
	}

	if mode == Salted {
		return NewSalted(h, salt)
	}

	return NewIterated(h, salt, DecodeCount(EncodeCount(count)))
}

// Hash returns the hash function of the specifier.
func (d *Descriptor) Hash() (crypto.Hash, error) {
	h, ok := hashIDs[d.HashID]
	if !ok {
		return 0, keyerror.Unsupported("S2K hash id %d", d.HashID)
	}

	if !h.Available() {
		return 0, keyerror.Unsupported("S2K hash %s is not linked in", h)
	}

	return h, nil
}

// IsDummy reports whether the specifier is a GNU dummy, i.e. no private material is present.
func (d *Descriptor) IsDummy() bool {
	return d != nil && d.Mode == GNU
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}

	c := *d
	c.Salt = bytes.Clone(d.Salt)

	return &c
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	switch d.Mode { //nolint:exhaustive
	case GNU:
		return fmt.Sprintf("%s(%d)", d.Mode, d.GNUMode)
	case IteratedSalted:
		return fmt.Sprintf("%s(hash=%d, count=%d)", d.Mode, d.HashID, d.Count)
	default:
		return fmt.Sprintf("%s(hash=%d)", d.Mode, d.HashID)
	}
}

// DecodeCount expands the one-octet iteration count encoding.
func DecodeCount(c uint8) int {
	return (16 + int(c&15)) << (uint32(c>>4) + 6)
}

// EncodeCount returns the smallest encoded count that hashes at least count octets.
// Counts above the maximum are clamped to 255.
func EncodeCount(count int) uint8 {
	for c := range 256 {
		if DecodeCount(uint8(c)) >= count {
			return uint8(c)
		}
	}

	return 255
}
