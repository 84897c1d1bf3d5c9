// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package s2k

import (
	"bytes"
	"errors"
	"io"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// Parse reads an S2K specifier from r.
func Parse(r io.Reader) (*Descriptor, error) {
	var head [2]byte

	if err := readFull(r, head[:]); err != nil {
		return nil, err
	}

	d := &Descriptor{Mode: Mode(head[0]), HashID: head[1]}

	switch d.Mode { //nolint:exhaustive
	case Simple:
	case Salted, IteratedSalted:
		d.Salt = make([]byte, SaltSize)

		if err := readFull(r, d.Salt); err != nil {
			return nil, err
		}

		if d.Mode == IteratedSalted {
			var count [1]byte

			if err := readFull(r, count[:]); err != nil {
				return nil, err
			}

			d.Count = DecodeCount(count[0])
		}
	case GNU:
		var ext [4]byte

		if err := readFull(r, ext[:]); err != nil {
			return nil, err
		}

		if !bytes.Equal(ext[:3], gnuMagic) {
			return nil, keyerror.Format("GNU S2K extension without GNU marker")
		}

		d.GNUMode = GNUMode(ext[3])

		if d.GNUMode != GNUNoPrivateKey && d.GNUMode != GNUDivertToCard {
			return nil, keyerror.Unsupported("GNU S2K protection mode %d", d.GNUMode)
		}
	default:
		return nil, keyerror.Unsupported("S2K specifier type %d", head[0])
	}

	return d, nil
}

// Bytes returns the wire encoding of d.
func (d *Descriptor) Bytes() ([]byte, error) {
	out := []byte{byte(d.Mode), d.HashID}

	switch d.Mode { //nolint:exhaustive
	case Simple:
	case Salted, IteratedSalted:
		if len(d.Salt) != SaltSize {
			return nil, keyerror.Policy("S2K salt must be %d octets, got %d", SaltSize, len(d.Salt))
		}

		out = append(out, d.Salt...)

		if d.Mode == IteratedSalted {
			c := EncodeCount(d.Count)
			if DecodeCount(c) != d.Count {
				return nil, keyerror.Policy("S2K count %d has no one-octet encoding", d.Count)
			}

			out = append(out, c)
		}
	case GNU:
		out = append(out, gnuMagic...)
		out = append(out, byte(d.GNUMode))
	default:
		return nil, keyerror.Unsupported("S2K specifier type %d", d.Mode)
	}

	return out, nil
}

// Serialize writes the wire encoding of d to w.
func (d *Descriptor) Serialize(w io.Writer) error {
	b, err := d.Bytes()
	if err != nil {
		return err
	}

	_, err = w.Write(b)

	return err
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
