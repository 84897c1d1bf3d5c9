// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey

import (
	"crypto"
	"crypto/rand"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/siderolabs/go-pgp-secretkey/pkg/checksum"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keymaterial"
	"github.com/siderolabs/go-pgp-secretkey/pkg/s2k"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

// ErrNoPrivateKey is returned, with kind keyerror.KindPolicy, when an operation needs private
// material a stub does not have.
var ErrNoPrivateKey = errors.New("no private key in this secret key, public key present only")

type engineOptions struct {
	cipher  symmetric.Cipher
	deriver s2k.Deriver
	rand    io.Reader
	logger  *zap.Logger
}

// EngineOption represents a functional protection engine option.
type EngineOption func(*engineOptions)

// WithCipher sets the cipher mode used on key data. Defaults to CFB.
func WithCipher(c symmetric.Cipher) EngineOption {
	return func(o *engineOptions) {
		o.cipher = c
	}
}

// WithDeriver sets the passphrase deriver. Defaults to s2k.DefaultDeriver.
func WithDeriver(d s2k.Deriver) EngineOption {
	return func(o *engineOptions) {
		o.deriver = d
	}
}

// WithRand sets the source of salts and IVs. Defaults to crypto/rand.
func WithRand(r io.Reader) EngineOption {
	return func(o *engineOptions) {
		o.rand = r
	}
}

// WithLogger sets the logger for debug diagnostics. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// Engine extracts, protects and re-protects secret key material.
//
// Engine holds no key material between calls and is safe for concurrent use.
type Engine struct {
	opts engineOptions
}

// NewEngine returns an engine with the given options.
func NewEngine(opts ...EngineOption) *Engine {
	options := engineOptions{
		cipher:  symmetric.CFB{},
		deriver: s2k.DefaultDeriver{},
		rand:    rand.Reader,
		logger:  zap.NewNop(),
	}

	for _, o := range opts {
		o(&options)
	}

	return &Engine{opts: options}
}

// Extract returns the plaintext private key material of p.
//
// A packet without private material yields nil and no error. A wrong passphrase fails with
// keyerror.ErrIntegrity. The caller owns the returned material and should Wipe it when done.
func (e *Engine) Extract(p *Packet, passphrase []byte) (*keymaterial.Material, error) {
	if p.IsPrivateKeyEmpty() {
		return nil, nil //nolint:nilnil
	}

	raw, err := e.rawKeyData(p, passphrase)
	if err != nil {
		return nil, err
	}

	defer wipe(raw)

	m, err := keymaterial.Parse(p.public.algorithm, keymaterial.Body(raw, p.protection.Scheme()))
	if err != nil {
		if p.protection.Cipher() != symmetric.None && keyerror.KindOf(err) == keyerror.KindFormat {
			// a wrong key can still pass a two-octet sum
			e.opts.logger.Debug("decrypted key data does not parse", zap.String("key_id", p.public.KeyIDString()), zap.Error(err))

			return nil, keyerror.Wrap(keyerror.KindIntegrity, err)
		}

		return nil, err
	}

	return m, nil
}

// rawKeyData returns the plaintext key data of p, trailer included, after verifying the trailer.
func (e *Engine) rawKeyData(p *Packet, passphrase []byte) ([]byte, error) {
	var (
		raw []byte
		err error
	)

	switch prot := p.protection.(type) {
	case *Stub:
		return nil, keyerror.Wrap(keyerror.KindPolicy, ErrNoPrivateKey)
	case Cleartext:
		raw, err = keymaterial.Open(nil, symmetric.None, nil, nil, p.keyData, checksum.Sum16)
	case *Encrypted:
		var key []byte

		key, err = e.opts.deriver.DeriveKey(passphrase, prot.S2K, prot.Algorithm.KeySize())
		if err != nil {
			return nil, err
		}

		defer wipe(key)

		if p.public.version < 4 {
			e.opts.logger.Debug("opening legacy per-scalar framing", zap.String("key_id", p.public.KeyIDString()), zap.Uint8("version", p.public.version))

			raw, err = keymaterial.OpenLegacy(e.opts.cipher, prot.Algorithm, key, prot.IV, p.keyData)
		} else {
			raw, err = keymaterial.Open(e.opts.cipher, prot.Algorithm, key, prot.IV, p.keyData, prot.Checksum)
		}
	}

	if err != nil {
		if keyerror.KindOf(err) == keyerror.KindIntegrity {
			e.opts.logger.Debug("secret key checksum mismatch",
				zap.String("key_id", p.public.KeyIDString()),
				zap.Int("trailer_length", p.protection.Scheme().Size()),
				zap.Error(err),
			)
		}

		return nil, err
	}

	return raw, nil
}

// OpenBlock decrypts a passphrase protected block kept outside a packet, such as the protected
// part of a GnuPG key expression. The key for alg is derived from passphrase as desc describes;
// c is the cipher mode of the block. The caller owns the plaintext and should clear it.
func (e *Engine) OpenBlock(c symmetric.Cipher, alg symmetric.Algorithm, desc *s2k.Descriptor, iv, data, passphrase []byte) ([]byte, error) {
	key, err := e.opts.deriver.DeriveKey(passphrase, desc, alg.KeySize())
	if err != nil {
		return nil, err
	}

	defer wipe(key)

	return c.Decrypt(alg, key, iv, data)
}

// Logger returns the logger of the engine.
func (e *Engine) Logger() *zap.Logger {
	return e.opts.logger
}

// Protect builds a secret key packet for pub holding m, protected as recipe describes.
func (e *Engine) Protect(pub *PublicKey, m *keymaterial.Material, recipe *Recipe, subkey bool) (*Packet, error) {
	if m.Algorithm != pub.algorithm {
		return nil, keyerror.Policy("material for algorithm %d does not match public key algorithm %d", m.Algorithm, pub.algorithm)
	}

	body := m.Bytes()
	defer wipe(body)

	if _, err := keymaterial.Parse(pub.algorithm, body); err != nil {
		return nil, keyerror.Wrap(keyerror.KindPolicy, err)
	}

	if recipe.IsUnprotected() {
		raw := keymaterial.AppendTrailer(body, checksum.Sum16)
		defer wipe(raw)

		return NewPacket(pub, Cleartext{}, raw, subkey)
	}

	scheme := recipe.scheme()

	if pub.version < 4 && scheme != checksum.Sum16 {
		return nil, keyerror.Policy("version %d keys only carry a two-octet sum", pub.version)
	}

	raw := keymaterial.AppendTrailer(body, scheme)
	defer wipe(raw)

	return e.seal(pub, raw, recipe, scheme, subkey)
}

// ReprotectPacket decrypts p with oldPassphrase and protects the result as recipe describes.
//
// The plaintext trailer is carried over rather than recomputed, except when a SHA-1 trailer is
// dropped for cleartext storage: it is then replaced by a two-octet sum. The public key and the
// subkey flag are kept.
func (e *Engine) ReprotectPacket(p *Packet, oldPassphrase []byte, recipe *Recipe) (*Packet, error) {
	if p.IsPrivateKeyEmpty() {
		return nil, keyerror.Wrap(keyerror.KindPolicy, ErrNoPrivateKey)
	}

	raw, err := e.rawKeyData(p, oldPassphrase)
	if err != nil {
		return nil, err
	}

	defer wipe(raw)

	oldScheme := p.protection.Scheme()

	if recipe.IsUnprotected() {
		if oldScheme == checksum.SHA1 {
			e.opts.logger.Debug("replacing SHA-1 trailer with a two-octet sum", zap.String("key_id", p.public.KeyIDString()))

			sum := keymaterial.AppendTrailer(keymaterial.Body(raw, oldScheme), checksum.Sum16)
			defer wipe(sum)

			return NewPacket(p.public, Cleartext{}, sum, p.subkey)
		}

		return NewPacket(p.public, Cleartext{}, raw, p.subkey)
	}

	return e.seal(p.public, raw, recipe, oldScheme, p.subkey)
}

// seal encrypts raw plaintext, trailer included, under a fresh S2K and IV from recipe.
func (e *Engine) seal(pub *PublicKey, raw []byte, recipe *Recipe, scheme checksum.Scheme, subkey bool) (*Packet, error) {
	if recipe.wiped {
		return nil, keyerror.Policy("protection recipe was wiped")
	}

	alg := recipe.Symmetric()

	if pub.version < 4 && recipe.S2KHash() != crypto.MD5 {
		return nil, keyerror.Policy("version %d keys require an MD5 S2K, got %s", pub.version, recipe.S2KHash())
	}

	desc, err := recipe.newS2K(e.opts.rand)
	if err != nil {
		return nil, err
	}

	iv, err := alg.NewIV(e.opts.rand)
	if err != nil {
		return nil, err
	}

	key, err := e.opts.deriver.DeriveKey(recipe.passphrase, desc, alg.KeySize())
	if err != nil {
		return nil, err
	}

	defer wipe(key)

	var data []byte

	if pub.version < 4 {
		data, err = keymaterial.SealLegacy(e.opts.cipher, alg, key, iv, raw)
	} else {
		data, err = e.opts.cipher.Encrypt(alg, key, iv, raw)
	}

	if err != nil {
		return nil, err
	}

	return NewPacket(pub, &Encrypted{Algorithm: alg, S2K: desc, IV: iv, Checksum: scheme}, data, subkey)
}

func wipe(b []byte) {
	clear(b)
}
