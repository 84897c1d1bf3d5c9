// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package pgp generates passphrase protected OpenPGP keys and unlocks them for signing.
package pgp

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	pgpcrypto "github.com/ProtonMail/gopenpgp/v2/crypto"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

// Key generation defaults.
const (
	DefaultAlgorithm = packet.PubKeyAlgoEdDSA
	DefaultRSABits   = 3072
)

type generateOptions struct {
	engine    *secretkey.Engine
	curve     packet.Curve
	algorithm packet.PublicKeyAlgorithm
	rsaBits   int
}

// GenerateOption represents a functional key generation option.
type GenerateOption func(*generateOptions)

// WithAlgorithm sets the public key algorithm of the primary key. Defaults to EdDSA.
func WithAlgorithm(alg packet.PublicKeyAlgorithm) GenerateOption {
	return func(o *generateOptions) {
		o.algorithm = alg
	}
}

// WithCurve sets the curve of ECDSA and EdDSA keys.
func WithCurve(curve packet.Curve) GenerateOption {
	return func(o *generateOptions) {
		o.curve = curve
	}
}

// WithRSABits sets the modulus size of RSA keys.
func WithRSABits(bits int) GenerateOption {
	return func(o *generateOptions) {
		o.rsaBits = bits
	}
}

// WithEngine sets the protection engine. Defaults to secretkey.NewEngine().
func WithEngine(engine *secretkey.Engine) GenerateOption {
	return func(o *generateOptions) {
		o.engine = engine
	}
}

// Key is a transferable secret key: the primary key and its subkeys, each with the packets following it.
//
// A Key is immutable and safe for concurrent use.
type Key struct {
	engine   *secretkey.Engine
	entities []*secretkey.Entity
}

// GenerateKey generates a new key pair with a user id and self-signatures, and protects every secret
// key packet as recipe describes.
//
// The caller keeps ownership of recipe and wipes it when done.
func GenerateKey(name, comment, email string, lifetime time.Duration, recipe *secretkey.Recipe, opts ...GenerateOption) (*Key, error) {
	options := generateOptions{
		engine:    secretkey.NewEngine(),
		algorithm: DefaultAlgorithm,
		rsaBits:   DefaultRSABits,
	}

	for _, o := range opts {
		o(&options)
	}

	if recipe == nil {
		return nil, keyerror.Policy("no protection recipe")
	}

	entity, err := generateEntity(name, comment, email, uint32(lifetime/time.Second), &options)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	// self-signatures were made by NewEntity
	if err = entity.SerializePrivateWithoutSigning(&buf, nil); err != nil {
		return nil, fmt.Errorf("failed to serialize generated key: %w", err)
	}

	defer clear(buf.Bytes())

	cleartext, err := secretkey.ReadEntities(&buf)
	if err != nil {
		return nil, err
	}

	entities := make([]*secretkey.Entity, 0, len(cleartext))

	for _, e := range cleartext {
		protected, err := protect(options.engine, e, recipe)
		if err != nil {
			return nil, err
		}

		entities = append(entities, protected)
	}

	return NewKey(entities, WithEngine(options.engine))
}

// protect protects the key data of a cleartext entity from scratch, so the recipe's checksum applies.
func protect(engine *secretkey.Engine, e *secretkey.Entity, recipe *secretkey.Recipe) (*secretkey.Entity, error) {
	secret := e.SecretKey()

	m, err := engine.Extract(secret, nil)
	if err != nil {
		return nil, err
	}

	if m == nil {
		return nil, secretkey.ErrNoPrivateKey
	}

	defer m.Wipe()

	protected, err := engine.Protect(secret.PublicKey(), m, recipe, secret.IsSubkey())
	if err != nil {
		return nil, err
	}

	return secretkey.NewEntity(protected, e.Packets()...), nil
}

// NewKey returns a key from entities, the first of which must be a primary key.
//
// Only WithEngine applies.
func NewKey(entities []*secretkey.Entity, opts ...GenerateOption) (*Key, error) {
	options := generateOptions{engine: secretkey.NewEngine()}

	for _, o := range opts {
		o(&options)
	}

	if len(entities) == 0 {
		return nil, keyerror.Format("key does not contain any entity")
	}

	if !entities[0].SecretKey().IsMasterKey() {
		return nil, keyerror.Format("key does not start with a primary key")
	}

	for _, e := range entities[1:] {
		if e.SecretKey().IsMasterKey() {
			return nil, keyerror.Format("key contains more than one primary key")
		}
	}

	return &Key{
		engine:   options.engine,
		entities: append([]*secretkey.Entity(nil), entities...),
	}, nil
}

// ReadKey reads an armored key.
func ReadKey(r io.Reader, opts ...GenerateOption) (*Key, error) {
	entities, err := secretkey.ReadArmored(r)
	if err != nil {
		return nil, err
	}

	return NewKey(entities, opts...)
}

// Entities returns the primary key and subkey entities.
func (p *Key) Entities() []*secretkey.Entity {
	return append([]*secretkey.Entity(nil), p.entities...)
}

// Primary returns the secret key packet of the primary key.
func (p *Key) Primary() *secretkey.Packet {
	return p.entities[0].SecretKey()
}

// Fingerprint returns the fingerprint of the primary key.
func (p *Key) Fingerprint() string {
	return hex.EncodeToString(p.Primary().Fingerprint())
}

// IsPrivateKeyEmpty reports whether no packet of the key carries private material.
func (p *Key) IsPrivateKeyEmpty() bool {
	for _, e := range p.entities {
		if !e.IsPrivateKeyEmpty() {
			return false
		}
	}

	return true
}

// Armor returns the key in the armored format.
func (p *Key) Armor() (string, error) {
	var sb strings.Builder

	if err := secretkey.WriteArmored(&sb, p.entities); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// ArmorPublic returns only the public key in armored format.
func (p *Key) ArmorPublic() (string, error) {
	key, err := p.publicKey()
	if err != nil {
		return "", err
	}

	return key.GetArmoredPublicKey()
}

// Reprotect returns the key protected as recipe describes. The caller wipes recipe when done.
func (p *Key) Reprotect(oldPassphrase []byte, recipe *secretkey.Recipe) (*Key, error) {
	entities, err := p.engine.ReprotectAll(p.entities, oldPassphrase, recipe)
	if err != nil {
		return nil, err
	}

	return &Key{engine: p.engine, entities: entities}, nil
}

// Strip returns the key with the private material of every packet removed.
func (p *Key) Strip() (*Key, error) {
	entities := make([]*secretkey.Entity, 0, len(p.entities))

	for _, e := range p.entities {
		stub, err := secretkey.BuildNoPrivateKey(e.Public())
		if err != nil {
			return nil, err
		}

		entities = append(entities, stub)
	}

	return &Key{engine: p.engine, entities: entities}, nil
}

// Unlock decrypts the key with passphrase for signing.
func (p *Key) Unlock(passphrase []byte) (*Unlocked, error) {
	public, err := p.publicKey()
	if err != nil {
		return nil, err
	}

	if !p.canSign(public.GetEntity()) {
		return nil, secretkey.ErrNoPrivateKey
	}

	cleartext, err := p.engine.ReprotectAll(p.entities, passphrase, secretkey.Unprotected())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	for _, e := range cleartext {
		if err = e.Encode(&buf); err != nil {
			return nil, err
		}
	}

	defer clear(buf.Bytes())

	key, err := pgpcrypto.NewKey(buf.Bytes())
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	return newUnlocked(key)
}

// IsExpired returns true if the key is expired with clock skew.
func (p *Key) IsExpired(clockSkew time.Duration) bool {
	key, err := p.publicKey()
	if err != nil {
		return true
	}

	return isExpired(key.GetEntity(), clockSkew)
}

// publicKey returns the gopenpgp view of the public part.
func (p *Key) publicKey() (*pgpcrypto.Key, error) {
	var buf bytes.Buffer

	for _, e := range p.entities {
		if err := e.Public().Encode(&buf); err != nil {
			return nil, err
		}
	}

	key, err := pgpcrypto.NewKey(buf.Bytes())
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	return key, nil
}

func isExpired(entity *openpgp.Entity, clockSkew time.Duration) bool {
	if clockSkew < 0 {
		panic("clock skew can't be negative")
	}

	now := time.Now()

	i := entity.PrimaryIdentity()
	if i == nil {
		return true
	}

	keyLifetimeSecs := i.SelfSignature.KeyLifetimeSecs

	if keyLifetimeSecs != nil && *keyLifetimeSecs < uint32(clockSkew/time.Second) {
		// if the key is short-lived, limit clock skew to the half of the key lifetime
		clockSkew = time.Duration(*keyLifetimeSecs) * time.Second / 2
	}

	expired := func(t time.Time) bool {
		return entity.PrimaryKey.KeyExpired(i.SelfSignature, t) || // primary key has expired
			i.SelfSignature.SigExpired(t) // user ID self-signature has expired
	}

	return expired(now.Add(clockSkew)) && expired(now.Add(-clockSkew))
}

// generateEntity generates a new PGP entity.
// Adapted from crypto.generateKey to be able to set the expiration.
func generateEntity(name, comment, email string, lifetimeSecs uint32, opts *generateOptions) (*openpgp.Entity, error) {
	cfg := &packet.Config{
		Algorithm:              opts.algorithm,
		Curve:                  opts.curve,
		RSABits:                opts.rsaBits,
		DefaultHash:            crypto.SHA256,
		DefaultCipher:          packet.CipherAES256,
		DefaultCompressionAlgo: packet.CompressionZLIB,
		KeyLifetimeSecs:        lifetimeSecs,
		SigLifetimeSecs:        lifetimeSecs,
	}

	entity, err := openpgp.NewEntity(name, comment, email, cfg)
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindUnsupported, err)
	}

	return entity, nil
}
