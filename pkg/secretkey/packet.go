// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package secretkey implements OpenPGP secret key packets: their wire codec, passphrase
// protection and GnuPG stub keys.
package secretkey

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/hashicorp/go-multierror"

	"github.com/siderolabs/go-pgp-secretkey/pkg/checksum"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
	"github.com/siderolabs/go-pgp-secretkey/pkg/s2k"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

// Packet is a secret key or secret subkey packet.
//
// A Packet is immutable: accessors return copies and every change builds a new Packet,
// so it is safe for concurrent use.
type Packet struct {
	public     *PublicKey
	protection Protection
	keyData    []byte
	subkey     bool
}

// NewPacket builds a packet from its parts. keyData is copied.
func NewPacket(pub *PublicKey, protection Protection, keyData []byte, subkey bool) (*Packet, error) {
	p := &Packet{
		public:  pub,
		subkey:  subkey,
		keyData: bytes.Clone(keyData),
	}

	if protection != nil {
		p.protection = protection.clone()
	}

	if err := p.validate(); err != nil {
		return nil, keyerror.Wrap(keyerror.KindPolicy, err)
	}

	return p, nil
}

func (p *Packet) validate() error {
	var result *multierror.Error

	if p.public == nil {
		result = multierror.Append(result, errors.New("missing public key"))
	}

	if p.protection == nil {
		return multierror.Append(result, errors.New("missing protection")).ErrorOrNil()
	}

	version := uint8(4)
	if p.public != nil {
		version = p.public.version
	}

	if err := p.protection.validate(version); err != nil {
		result = multierror.Append(result, err)
	}

	_, stub := p.protection.(*Stub)

	switch {
	case stub && len(p.keyData) != 0:
		result = multierror.Append(result, fmt.Errorf("stub carries %d octets of key data", len(p.keyData)))
	case !stub && len(p.keyData) == 0:
		result = multierror.Append(result, errors.New("empty key data is reserved for stubs"))
	}

	if enc, ok := p.protection.(*Encrypted); ok && enc.S2K != nil {
		if _, err := enc.S2K.Bytes(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// DecodePacket parses the body of a packet with tag TagSecretKey or TagSecretSubkey.
func DecodePacket(tag uint8, body []byte) (*Packet, error) {
	if tag != TagSecretKey && tag != TagSecretSubkey {
		return nil, keyerror.Format("packet tag %d is not a secret key", tag)
	}

	pub, n, err := readPublicKey(body)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(body[n:])

	protection, err := readProtection(r)
	if err != nil {
		return nil, err
	}

	p := &Packet{
		public:     pub,
		protection: protection,
		subkey:     tag == TagSecretSubkey,
		keyData:    make([]byte, r.Len()),
	}

	r.Read(p.keyData) //nolint:errcheck

	if err = p.validate(); err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	return p, nil
}

func readProtection(r io.Reader) (Protection, error) {
	var head [1]byte

	if err := readFull(r, head[:]); err != nil {
		return nil, err
	}

	usage := Usage(head[0])

	switch usage {
	case UsageNone:
		return Cleartext{}, nil
	case UsageSHA1, UsageChecksum:
		if err := readFull(r, head[:]); err != nil {
			return nil, err
		}

		alg := symmetric.Algorithm(head[0])

		desc, err := s2k.Parse(r)
		if err != nil {
			return nil, err
		}

		if desc.IsDummy() {
			stub := &Stub{S2K: desc, Octet: usage, Algorithm: alg}

			if stub.DivertToCard() {
				stub.IV = make([]byte, DivertToCardSerialSize)

				if err = readFull(r, stub.IV); err != nil {
					return nil, err
				}
			}

			return stub, nil
		}

		iv, err := readIV(r, alg)
		if err != nil {
			return nil, err
		}

		scheme := checksum.Sum16
		if usage == UsageSHA1 {
			scheme = checksum.SHA1
		}

		return &Encrypted{Algorithm: alg, S2K: desc, IV: iv, Checksum: scheme}, nil
	default:
		alg := symmetric.Algorithm(usage)

		iv, err := readIV(r, alg)
		if err != nil {
			return nil, err
		}

		desc, err := s2k.NewSimple(crypto.MD5)
		if err != nil {
			return nil, err
		}

		return &Encrypted{Algorithm: alg, S2K: desc, IV: iv, Checksum: checksum.Sum16, Legacy: true}, nil
	}
}

func readIV(r io.Reader, alg symmetric.Algorithm) ([]byte, error) {
	if alg == symmetric.None {
		return nil, keyerror.Format("S2K usage requires a cipher")
	}

	if !alg.Known() {
		return nil, keyerror.Unsupported("symmetric algorithm %s", alg)
	}

	iv := make([]byte, alg.BlockSize())

	if err := readFull(r, iv); err != nil {
		return nil, err
	}

	return iv, nil
}

// ReadPacket reads the next packet from r, which must be a secret key or secret subkey packet.
func ReadPacket(r io.Reader) (*Packet, error) {
	op, err := packet.NewOpaqueReader(r).Next()
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	return DecodePacket(op.Tag, op.Contents)
}

// Tag returns the packet tag.
func (p *Packet) Tag() uint8 {
	if p.subkey {
		return TagSecretSubkey
	}

	return TagSecretKey
}

// Bytes returns the packet body.
func (p *Packet) Bytes() ([]byte, error) {
	out := p.public.Bytes()
	out = append(out, byte(p.protection.Usage()))

	switch prot := p.protection.(type) {
	case Cleartext:
	case *Encrypted:
		if !prot.Legacy {
			wire, err := prot.S2K.Bytes()
			if err != nil {
				return nil, err
			}

			out = append(out, byte(prot.Algorithm))
			out = append(out, wire...)
		}

		out = append(out, prot.IV...)
	case *Stub:
		wire, err := prot.S2K.Bytes()
		if err != nil {
			return nil, err
		}

		out = append(out, byte(prot.Algorithm))
		out = append(out, wire...)
		out = append(out, prot.IV...)
	}

	return append(out, p.keyData...), nil
}

// Encode writes p, header included, to w.
func (p *Packet) Encode(w io.Writer) error {
	body, err := p.Bytes()
	if err != nil {
		return err
	}

	return (&packet.OpaquePacket{Tag: p.Tag(), Contents: body}).Serialize(w)
}

// PublicKey returns the public part of the key.
func (p *Packet) PublicKey() *PublicKey {
	return p.public
}

// Protection returns a copy of the protection metadata.
func (p *Packet) Protection() Protection {
	return p.protection.clone()
}

// KeyData returns a copy of the key data, ciphertext or plaintext according to Protection.
func (p *Packet) KeyData() []byte {
	return bytes.Clone(p.keyData)
}

// IsSubkey reports whether this is a secret subkey packet.
func (p *Packet) IsSubkey() bool {
	return p.subkey
}

// IsMasterKey reports whether this is a primary secret key packet.
func (p *Packet) IsMasterKey() bool {
	return !p.subkey
}

// IsPrivateKeyEmpty reports whether the packet carries no private material.
func (p *Packet) IsPrivateKeyEmpty() bool {
	return len(p.keyData) == 0
}

// IsSigningKey reports whether the key algorithm can sign.
func (p *Packet) IsSigningKey() bool {
	switch p.public.algorithm { //nolint:exhaustive
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSASignOnly, packet.PubKeyAlgoDSA,
		packet.PubKeyAlgoECDSA, packet.PubKeyAlgoEdDSA, keymaterial.PubKeyAlgoElGamalSignEncrypt:
		return true
	default:
		return false
	}
}

// Usage returns the S2K usage octet.
func (p *Packet) Usage() Usage {
	return p.protection.Usage()
}

// Cipher returns the symmetric algorithm protecting the key data.
func (p *Packet) Cipher() symmetric.Algorithm {
	return p.protection.Cipher()
}

// S2K returns a copy of the S2K specifier, nil for cleartext packets.
func (p *Packet) S2K() *s2k.Descriptor {
	switch prot := p.protection.(type) {
	case *Encrypted:
		return prot.S2K.Clone()
	case *Stub:
		return prot.S2K.Clone()
	default:
		return nil
	}
}

// IV returns a copy of the IV field, nil for cleartext packets.
func (p *Packet) IV() []byte {
	switch prot := p.protection.(type) {
	case *Encrypted:
		return bytes.Clone(prot.IV)
	case *Stub:
		return bytes.Clone(prot.IV)
	default:
		return nil
	}
}

// KeyID returns the key id of the public part.
func (p *Packet) KeyID() uint64 {
	return p.public.KeyID()
}

// Fingerprint returns the fingerprint of the public part.
func (p *Packet) Fingerprint() []byte {
	return p.public.Fingerprint()
}

// withPublicKey returns a copy of p bound to pub.
func (p *Packet) withPublicKey(pub *PublicKey) *Packet {
	return &Packet{
		public:     pub,
		protection: p.protection.clone(),
		keyData:    bytes.Clone(p.keyData),
		subkey:     p.subkey,
	}
}
