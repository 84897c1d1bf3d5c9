// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keymaterial

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"math/bits"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// MPI is an OpenPGP multiprecision integer: a two-octet big-endian bit count followed by
// (BitLength+7)/8 magnitude octets.
//
// The bit count is kept as read, so non-canonical encodings re-encode verbatim.
type MPI struct {
	Bytes     []byte
	BitLength uint16
}

// NewMPI returns the canonical MPI for the big-endian magnitude b.
func NewMPI(b []byte) MPI {
	b = bytes.TrimLeft(b, "\x00")

	if len(b) == 0 {
		return MPI{Bytes: []byte{}}
	}

	return MPI{
		Bytes:     bytes.Clone(b),
		BitLength: uint16((len(b)-1)*8 + bits.Len8(b[0])),
	}
}

// NewMPIFromInt returns the canonical MPI for a non-negative n.
func NewMPIFromInt(n *big.Int) MPI {
	return NewMPI(n.Bytes())
}

// ByteLength returns the magnitude length implied by a bit count.
func ByteLength(bitLength uint16) int {
	return (int(bitLength) + 7) / 8
}

// Int returns the value of m.
func (m MPI) Int() *big.Int {
	return new(big.Int).SetBytes(m.Bytes)
}

// EncodedLen returns the wire length of m.
func (m MPI) EncodedLen() int {
	return 2 + len(m.Bytes)
}

// Append appends the wire encoding of m to dst.
func (m MPI) Append(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, m.BitLength)

	return append(dst, m.Bytes...)
}

// ReadMPI reads one MPI from r.
func ReadMPI(r io.Reader) (MPI, error) {
	var header [2]byte

	if err := readFull(r, header[:]); err != nil {
		return MPI{}, err
	}

	m := MPI{BitLength: binary.BigEndian.Uint16(header[:])}
	m.Bytes = make([]byte, ByteLength(m.BitLength))

	if err := readFull(r, m.Bytes); err != nil {
		return MPI{}, err
	}

	return m, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return keyerror.Wrap(keyerror.KindFormat, err)
	}

	return nil
}

func wipe(b []byte) {
	clear(b)
}
