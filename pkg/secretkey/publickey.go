// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
)

// Packet tags handled by this package.
const (
	TagSecretKey    uint8 = 5
	TagPublicKey    uint8 = 6
	TagSecretSubkey uint8 = 7
	TagUserID       uint8 = 13
	TagPublicSubkey uint8 = 14
)

// PublicKey is the public part of a key packet.
//
// The body is kept verbatim so re-encoding never alters it; the fields are a parsed view of it.
type PublicKey struct {
	creationTime time.Time
	body         []byte
	oid          []byte
	kdf          []byte
	params       []keymaterial.MPI
	fingerprint  []byte
	keyID        uint64
	validityDays uint16
	version      uint8
	algorithm    packet.PublicKeyAlgorithm
}

// ParsePublicKey parses a complete public key packet body.
func ParsePublicKey(body []byte) (*PublicKey, error) {
	pub, n, err := readPublicKey(body)
	if err != nil {
		return nil, err
	}

	if n != len(body) {
		return nil, keyerror.Format("%d trailing octets after public key", len(body)-n)
	}

	return pub, nil
}

// readPublicKey walks the public key fields at the head of a key packet body and returns
// the number of octets they take.
func readPublicKey(data []byte) (*PublicKey, int, error) {
	r := bytes.NewReader(data)

	var version [1]byte

	if err := readFull(r, version[:]); err != nil {
		return nil, 0, err
	}

	pub := &PublicKey{version: version[0]}

	var created [4]byte

	switch pub.version {
	case 2, 3:
		var validity [2]byte

		if err := readFull(r, created[:]); err != nil {
			return nil, 0, err
		}

		if err := readFull(r, validity[:]); err != nil {
			return nil, 0, err
		}

		pub.validityDays = binary.BigEndian.Uint16(validity[:])
	case 4:
		if err := readFull(r, created[:]); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, keyerror.Unsupported("public key version %d", pub.version)
	}

	pub.creationTime = time.Unix(int64(binary.BigEndian.Uint32(created[:])), 0)

	var algo [1]byte

	if err := readFull(r, algo[:]); err != nil {
		return nil, 0, err
	}

	pub.algorithm = packet.PublicKeyAlgorithm(algo[0])

	if err := pub.readParams(r); err != nil {
		return nil, 0, err
	}

	n := len(data) - r.Len()
	pub.body = bytes.Clone(data[:n])

	if err := pub.computeIDs(); err != nil {
		return nil, 0, err
	}

	return pub, n, nil
}

func (pub *PublicKey) readParams(r io.Reader) error {
	mpis := 0

	switch pub.algorithm { //nolint:exhaustive
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		// n, e
		mpis = 2
	case packet.PubKeyAlgoDSA:
		// p, q, g, y
		mpis = 4
	case packet.PubKeyAlgoElGamal, keymaterial.PubKeyAlgoElGamalSignEncrypt:
		// p, g, y
		mpis = 3
	case packet.PubKeyAlgoECDSA, packet.PubKeyAlgoEdDSA, packet.PubKeyAlgoECDH:
		oid, err := readLengthPrefixed(r)
		if err != nil {
			return err
		}

		pub.oid = oid
		mpis = 1
	default:
		return keyerror.Unsupported("public key algorithm %d", pub.algorithm)
	}

	if pub.version < 4 && !keymaterial.IsRSA(pub.algorithm) {
		return keyerror.Unsupported("version %d keys are RSA only, got algorithm %d", pub.version, pub.algorithm)
	}

	for range mpis {
		m, err := keymaterial.ReadMPI(r)
		if err != nil {
			return err
		}

		pub.params = append(pub.params, m)
	}

	if pub.algorithm == packet.PubKeyAlgoECDH {
		kdf, err := readLengthPrefixed(r)
		if err != nil {
			return err
		}

		pub.kdf = kdf
	}

	return nil
}

func (pub *PublicKey) computeIDs() error {
	if pub.version == 4 {
		h := sha1.New() //nolint:gosec
		h.Write([]byte{0x99, byte(len(pub.body) >> 8), byte(len(pub.body))})
		h.Write(pub.body)

		pub.fingerprint = h.Sum(nil)
		pub.keyID = binary.BigEndian.Uint64(pub.fingerprint[12:20])

		return nil
	}

	n, e := pub.params[0].Bytes, pub.params[1].Bytes
	if len(n) < 8 {
		return keyerror.Format("RSA modulus of %d octets is too short for a key id", len(n))
	}

	h := md5.New() //nolint:gosec
	h.Write(n)
	h.Write(e)

	pub.fingerprint = h.Sum(nil)
	pub.keyID = binary.BigEndian.Uint64(n[len(n)-8:])

	return nil
}

// NewPublicKey converts a go-crypto public key.
func NewPublicKey(pk *packet.PublicKey) (*PublicKey, error) {
	var buf bytes.Buffer

	if err := pk.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize public key: %w", err)
	}

	op, err := packet.NewOpaqueReader(&buf).Next()
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	return ParsePublicKey(op.Contents)
}

// NewECPublicKey builds a version 4 elliptic curve public key from a curve name and an encoded point.
//
// ECDH keys get the KDF parameters of RFC 6637 for the curve size.
func NewECPublicKey(alg packet.PublicKeyAlgorithm, curve string, point []byte, created time.Time) (*PublicKey, error) {
	oid, ok := CurveOID(curve)
	if !ok {
		return nil, keyerror.Unsupported("curve %q", curve)
	}

	switch alg { //nolint:exhaustive
	case packet.PubKeyAlgoECDSA, packet.PubKeyAlgoEdDSA, packet.PubKeyAlgoECDH:
	default:
		return nil, keyerror.Policy("algorithm %d is not an elliptic curve algorithm", alg)
	}

	body := v4Header(alg, created)
	body = append(body, byte(len(oid)))
	body = append(body, oid...)
	body = keymaterial.NewMPI(point).Append(body)

	if alg == packet.PubKeyAlgoECDH {
		body = append(body, defaultKDF(CanonicalCurveName(curve))...)
	}

	return ParsePublicKey(body)
}

// NewRSAPublicKey builds an RSA public key of the given version.
//
// Versions 2 and 3 carry a validity period in days, zero meaning no expiry; it is ignored for version 4.
func NewRSAPublicKey(version uint8, n, e *big.Int, created time.Time, validityDays uint16) (*PublicKey, error) {
	var body []byte

	switch version {
	case 2, 3:
		body = []byte{version}
		body = binary.BigEndian.AppendUint32(body, uint32(created.Unix()))
		body = binary.BigEndian.AppendUint16(body, validityDays)
		body = append(body, byte(packet.PubKeyAlgoRSA))
	case 4:
		body = v4Header(packet.PubKeyAlgoRSA, created)
	default:
		return nil, keyerror.Unsupported("public key version %d", version)
	}

	body = keymaterial.NewMPIFromInt(n).Append(body)
	body = keymaterial.NewMPIFromInt(e).Append(body)

	return ParsePublicKey(body)
}

func v4Header(alg packet.PublicKeyAlgorithm, created time.Time) []byte {
	body := []byte{4}
	body = binary.BigEndian.AppendUint32(body, uint32(created.Unix()))

	return append(body, byte(alg))
}

// defaultKDF returns the KDF parameter field: length, reserved 1, hash id, cipher id.
func defaultKDF(curve string) []byte {
	switch curve {
	case CurveP384, CurveBrainpoolP384r1:
		return []byte{3, 1, 9, 8} // SHA-384, AES-192
	case CurveP521, CurveBrainpoolP512r1:
		return []byte{3, 1, 10, 9} // SHA-512, AES-256
	default:
		return []byte{3, 1, 8, 7} // SHA-256, AES-128
	}
}

// Version returns the packet version.
func (pub *PublicKey) Version() uint8 {
	return pub.version
}

// Algorithm returns the public key algorithm.
func (pub *PublicKey) Algorithm() packet.PublicKeyAlgorithm {
	return pub.algorithm
}

// CreationTime returns the key creation time.
func (pub *PublicKey) CreationTime() time.Time {
	return pub.creationTime
}

// ValidityDays returns the validity period of a version 2 or 3 key.
func (pub *PublicKey) ValidityDays() uint16 {
	return pub.validityDays
}

// KeyID returns the 64-bit key id.
func (pub *PublicKey) KeyID() uint64 {
	return pub.keyID
}

// KeyIDString returns the key id in upper case hex, as GnuPG prints it.
func (pub *PublicKey) KeyIDString() string {
	return fmt.Sprintf("%016X", pub.keyID)
}

// Fingerprint returns the key fingerprint: SHA-1 for version 4, MD5 for older keys.
func (pub *PublicKey) Fingerprint() []byte {
	return bytes.Clone(pub.fingerprint)
}

// Params returns copies of the public MPIs in wire order.
func (pub *PublicKey) Params() []keymaterial.MPI {
	out := make([]keymaterial.MPI, len(pub.params))

	for i, m := range pub.params {
		out[i] = keymaterial.MPI{BitLength: m.BitLength, Bytes: bytes.Clone(m.Bytes)}
	}

	return out
}

// CurveOID returns the curve OID of an elliptic curve key, nil otherwise.
func (pub *PublicKey) CurveOID() []byte {
	return bytes.Clone(pub.oid)
}

// Curve returns the curve name of an elliptic curve key.
func (pub *PublicKey) Curve() (string, bool) {
	if pub.oid == nil {
		return "", false
	}

	return CurveName(pub.oid)
}

// KDF returns the ECDH KDF parameters, nil for other algorithms.
func (pub *PublicKey) KDF() []byte {
	return bytes.Clone(pub.kdf)
}

// Bytes returns the packet body.
func (pub *PublicKey) Bytes() []byte {
	return bytes.Clone(pub.body)
}

// Equal reports whether both keys have the same encoding.
func (pub *PublicKey) Equal(other *PublicKey) bool {
	return other != nil && bytes.Equal(pub.body, other.body)
}

// Proton returns the go-crypto view of a version 4 key.
func (pub *PublicKey) Proton(subkey bool) (*packet.PublicKey, error) {
	if pub.version != 4 {
		return nil, keyerror.Unsupported("go-crypto handles version 4 keys only, got version %d", pub.version)
	}

	tag := TagPublicKey
	if subkey {
		tag = TagPublicSubkey
	}

	p, err := (&packet.OpaquePacket{Tag: tag, Contents: pub.Bytes()}).Parse()
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindUnsupported, err)
	}

	pk, ok := p.(*packet.PublicKey)
	if !ok {
		return nil, keyerror.Format("unexpected packet %T", p)
	}

	return pk, nil
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var length [1]byte

	if err := readFull(r, length[:]); err != nil {
		return nil, err
	}

	if length[0] == 0 || length[0] == 0xff {
		return nil, keyerror.Format("invalid field length %d", length[0])
	}

	out := make([]byte, length[0])

	if err := readFull(r, out); err != nil {
		return nil, err
	}

	return out, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF { //nolint:errorlint
			err = io.ErrUnexpectedEOF
		}

		return keyerror.Wrap(keyerror.KindFormat, err)
	}

	return nil
}
