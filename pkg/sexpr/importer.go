// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sexpr

import (
	"crypto"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"go.uber.org/zap"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
	"github.com/siderolabs/go-pgp-secretkey/pkg/s2k"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

// Expression tags.
const (
	TagProtectedPrivateKey = "protected-private-key"
	TagECC                 = "ecc"
	TagCurve               = "curve"
	TagQ                   = "q"
	TagProtected           = "protected"
	TagD                   = "d"
)

// SchemeSHA1AESCBC is the GnuPG agent protection: iterated and salted S2K, AES-128 in CBC mode.
const SchemeSHA1AESCBC = "openpgp-s2k3-sha1-aes-cbc"

type protectionScheme struct {
	cipher    symmetric.Cipher
	algorithm symmetric.Algorithm
}

var schemes = map[string]protectionScheme{
	SchemeSHA1AESCBC: {cipher: symmetric.CBC{}, algorithm: symmetric.AES128},
}

var hashNames = map[string]crypto.Hash{
	"md5":    crypto.MD5,
	"sha1":   crypto.SHA1,
	"rmd160": crypto.RIPEMD160,
	"sha224": crypto.SHA224,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

type importOptions struct {
	pub     *secretkey.PublicKey
	created time.Time
	engine  *secretkey.Engine
}

// ImportOption represents a functional importer option.
type ImportOption func(*importOptions)

// WithPublicKey binds the imported key to pub instead of a key built from the curve and point.
func WithPublicKey(pub *secretkey.PublicKey) ImportOption {
	return func(o *importOptions) {
		o.pub = pub
	}
}

// WithCreationTime sets the creation time of a synthesized public key. Defaults to now.
func WithCreationTime(t time.Time) ImportOption {
	return func(o *importOptions) {
		o.created = t
	}
}

// WithEngine sets the engine deriving the passphrase key and building the packet.
// Its logger receives the importer diagnostics. Defaults to secretkey.NewEngine().
func WithEngine(engine *secretkey.Engine) ImportOption {
	return func(o *importOptions) {
		o.engine = engine
	}
}

// protectedKey is the outer expression, before decryption.
type protectedKey struct {
	s2k        *s2k.Descriptor
	curve      string
	scheme     string
	q          []byte
	iv         []byte
	ciphertext []byte
}

// Import reads a protected private key expression from r and returns an unprotected secret key packet.
//
// Only elliptic curve keys are supported. Structural problems fail with keyerror.ErrFormat before
// any decryption; a wrong passphrase fails with keyerror.ErrIntegrity.
func Import(r io.Reader, passphrase []byte, opts ...ImportOption) (*secretkey.Packet, error) {
	options := importOptions{
		created: time.Now(),
		engine:  secretkey.NewEngine(),
	}

	for _, o := range opts {
		o(&options)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read key expression: %w", err)
	}

	root, err := Parse(data)
	if err != nil {
		return nil, err
	}

	key, err := readProtectedKey(root)
	if err != nil {
		return nil, err
	}

	scheme, ok := schemes[key.scheme]
	if !ok {
		return nil, keyerror.Unsupported("protection scheme %q", key.scheme)
	}

	pub := options.pub
	if pub == nil {
		alg := packet.PubKeyAlgoECDSA
		if secretkey.CanonicalCurveName(key.curve) == secretkey.CurveEd25519 {
			alg = packet.PubKeyAlgoEdDSA
		}

		pub, err = secretkey.NewECPublicKey(alg, key.curve, key.q, options.created)
		if err != nil {
			return nil, err
		}
	} else if name, ok := pub.Curve(); ok && name != secretkey.CanonicalCurveName(key.curve) {
		return nil, keyerror.Policy("public key curve %s does not match %s", name, key.curve)
	}

	d, err := recoverD(key, scheme, passphrase, options)
	if err != nil {
		return nil, err
	}

	defer clear(d)

	m, err := keymaterial.New(pub.Algorithm(), d)
	if err != nil {
		return nil, err
	}

	defer m.Wipe()

	options.engine.Logger().Debug("imported key expression", zap.String("key_id", pub.KeyIDString()), zap.String("curve", key.curve))

	return options.engine.Protect(pub, m, secretkey.Unprotected(), false)
}

func readProtectedKey(root *Node) (*protectedKey, error) {
	if root.Tag() != TagProtectedPrivateKey {
		return nil, keyerror.Format("expected %q, got %q", TagProtectedPrivateKey, root.Tag())
	}

	if len(root.List) < 2 || !root.List[1].IsList {
		return nil, keyerror.Format("missing algorithm block")
	}

	algorithm := root.List[1]
	if algorithm.Tag() != TagECC {
		return nil, keyerror.Format("unsupported algorithm family %q", algorithm.Tag())
	}

	// parameters are children of the algorithm block, or follow it
	params := append(append([]*Node{}, algorithm.List[1:]...), root.List[2:]...)

	find := func(tag string) *Node {
		for _, n := range params {
			if n.Tag() == tag {
				return n
			}
		}

		return nil
	}

	key := &protectedKey{}

	curve, ok := find(TagCurve).Value()
	if !ok {
		return nil, keyerror.Format("missing curve")
	}

	key.curve = string(curve)

	if key.q, ok = find(TagQ).Value(); !ok {
		return nil, keyerror.Format("missing q")
	}

	protected := find(TagProtected)
	if protected == nil {
		return nil, keyerror.Format("missing protected block")
	}

	// (protected scheme ((hash salt count) iv) ciphertext)
	if len(protected.List) != 4 || protected.List[1].IsList || !protected.List[2].IsList || protected.List[3].IsList {
		return nil, keyerror.Format("malformed protected block")
	}

	key.scheme = protected.List[1].String()
	key.ciphertext = protected.List[3].Atom

	s2kParams := protected.List[2]
	if len(s2kParams.List) != 2 || s2kParams.List[1].IsList {
		return nil, keyerror.Format("malformed protection parameters")
	}

	key.iv = s2kParams.List[1].Atom

	var err error

	if key.s2k, err = readS2K(s2kParams.List[0]); err != nil {
		return nil, err
	}

	return key, nil
}

// readS2K reads (hash salt count). The count is the raw number of octets to hash.
func readS2K(n *Node) (*s2k.Descriptor, error) {
	if !n.IsList || len(n.List) != 3 {
		return nil, keyerror.Format("malformed S2K parameters")
	}

	h, ok := hashNames[n.List[0].String()]
	if !ok {
		return nil, keyerror.Unsupported("S2K hash %q", n.List[0].String())
	}

	id, _ := s2k.HashID(h)

	salt := n.List[1].Atom
	if n.List[1].IsList || len(salt) != s2k.SaltSize {
		return nil, keyerror.Format("S2K salt must be %d octets", s2k.SaltSize)
	}

	count, err := strconv.Atoi(n.List[2].String())
	if err != nil || count <= 0 {
		return nil, keyerror.Format("invalid S2K count %q", n.List[2].String())
	}

	return &s2k.Descriptor{Mode: s2k.IteratedSalted, HashID: id, Salt: salt, Count: count}, nil
}

// recoverD decrypts the protected block and returns the private scalar of the inner expression.
func recoverD(key *protectedKey, scheme protectionScheme, passphrase []byte, options importOptions) ([]byte, error) {
	plaintext, err := options.engine.OpenBlock(scheme.cipher, scheme.algorithm, key.s2k, key.iv, key.ciphertext, passphrase)
	if err != nil {
		return nil, err
	}

	defer clear(plaintext)

	// the plaintext is padded to the block size
	inner, _, err := ParsePrefix(plaintext)
	if err != nil {
		options.engine.Logger().Debug("protected block does not decrypt to an expression", zap.Error(err))

		return nil, keyerror.Wrap(keyerror.KindIntegrity, err)
	}

	d, ok := inner.Search(TagD).Value()
	if !ok || len(d) == 0 {
		return nil, keyerror.Integrity("no private scalar in protected block")
	}

	out := make([]byte, len(d))
	copy(out, d)

	clear(d)

	return out, nil
}
