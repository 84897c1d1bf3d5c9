// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// Entity is a secret key packet together with the packets that follow it in a key ring:
// user ids, user attributes, signatures and trust packets, kept opaque.
//
// An Entity is immutable; Replace* and Reprotect return new entities.
type Entity struct {
	secret  *Packet
	packets []*packet.OpaquePacket
}

// NewEntity returns an entity for secret followed by packets. The packets are copied.
func NewEntity(secret *Packet, packets ...*packet.OpaquePacket) *Entity {
	return &Entity{secret: secret, packets: clonePackets(packets)}
}

// PublicEntity is a public key or public subkey packet together with the packets that follow it.
type PublicEntity struct {
	Key     *PublicKey
	Packets []*packet.OpaquePacket
	Subkey  bool
}

// ReadEntities reads a secret key ring. Every secret key or secret subkey packet starts a new entity.
func ReadEntities(r io.Reader) ([]*Entity, error) {
	var entities []*Entity

	err := readGroups(r, func(op *packet.OpaquePacket) (bool, error) {
		switch op.Tag {
		case TagSecretKey, TagSecretSubkey:
			secret, err := DecodePacket(op.Tag, op.Contents)
			if err != nil {
				return false, err
			}

			entities = append(entities, &Entity{secret: secret})

			return true, nil
		default:
			if len(entities) == 0 {
				return false, keyerror.Format("key ring starts with packet tag %d instead of a secret key", op.Tag)
			}

			last := entities[len(entities)-1]
			last.packets = append(last.packets, op)

			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}

	return entities, nil
}

// ReadPublicEntities reads a public key ring. Every public key or public subkey packet starts a new entity.
func ReadPublicEntities(r io.Reader) ([]*PublicEntity, error) {
	var entities []*PublicEntity

	err := readGroups(r, func(op *packet.OpaquePacket) (bool, error) {
		switch op.Tag {
		case TagPublicKey, TagPublicSubkey:
			pub, err := ParsePublicKey(op.Contents)
			if err != nil {
				return false, err
			}

			entities = append(entities, &PublicEntity{Key: pub, Subkey: op.Tag == TagPublicSubkey})

			return true, nil
		default:
			if len(entities) == 0 {
				return false, keyerror.Format("key ring starts with packet tag %d instead of a public key", op.Tag)
			}

			last := entities[len(entities)-1]
			last.Packets = append(last.Packets, op)

			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}

	return entities, nil
}

func readGroups(r io.Reader, visit func(op *packet.OpaquePacket) (bool, error)) error {
	reader := packet.NewOpaqueReader(r)
	found := false

	for {
		op, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return keyerror.Wrap(keyerror.KindFormat, err)
		}

		start, err := visit(op)
		if err != nil {
			return err
		}

		found = found || start
	}

	if !found {
		return keyerror.Format("no key packets found")
	}

	return nil
}

// ReadArmored reads an ASCII armored secret key ring.
func ReadArmored(r io.Reader) ([]*Entity, error) {
	block, err := armor.Decode(r)
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	if block.Type != openpgp.PrivateKeyType {
		return nil, keyerror.Format("unexpected armor type %q", block.Type)
	}

	return ReadEntities(block.Body)
}

// WriteArmored writes entities as an ASCII armored secret key ring.
func WriteArmored(w io.Writer, entities []*Entity) error {
	aw, err := armor.Encode(w, openpgp.PrivateKeyType, nil)
	if err != nil {
		return fmt.Errorf("failed to create armor writer: %w", err)
	}

	for _, entity := range entities {
		if err = entity.Encode(aw); err != nil {
			return err
		}
	}

	return aw.Close()
}

// Encode writes the secret key packet and the packets following it to w.
func (e *Entity) Encode(w io.Writer) error {
	if err := e.secret.Encode(w); err != nil {
		return err
	}

	for _, op := range e.packets {
		if err := op.Serialize(w); err != nil {
			return fmt.Errorf("failed to serialize packet: %w", err)
		}
	}

	return nil
}

// Bytes returns the binary encoding of e.
func (e *Entity) Bytes() ([]byte, error) {
	var buf bytes.Buffer

	if err := e.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// SecretKey returns the secret key packet.
func (e *Entity) SecretKey() *Packet {
	return e.secret
}

// Packets returns copies of the packets following the secret key packet.
func (e *Entity) Packets() []*packet.OpaquePacket {
	return clonePackets(e.packets)
}

// Public returns the public view of e.
func (e *Entity) Public() *PublicEntity {
	return &PublicEntity{Key: e.secret.public, Packets: e.Packets(), Subkey: e.secret.subkey}
}

// Encode writes the public key packet and the packets following it to w.
func (pub *PublicEntity) Encode(w io.Writer) error {
	tag := TagPublicKey
	if pub.Subkey {
		tag = TagPublicSubkey
	}

	key := &packet.OpaquePacket{Tag: tag, Contents: pub.Key.Bytes()}

	if err := key.Serialize(w); err != nil {
		return fmt.Errorf("failed to serialize public key: %w", err)
	}

	for _, op := range pub.Packets {
		if err := op.Serialize(w); err != nil {
			return fmt.Errorf("failed to serialize packet: %w", err)
		}
	}

	return nil
}

// KeyID returns the key id.
func (e *Entity) KeyID() uint64 {
	return e.secret.KeyID()
}

// IsPrivateKeyEmpty reports whether the entity carries no private material.
func (e *Entity) IsPrivateKeyEmpty() bool {
	return e.secret.IsPrivateKeyEmpty()
}

// UserIDs returns the user ids following the key packet.
func (e *Entity) UserIDs() []string {
	var ids []string

	for _, op := range e.packets {
		if op.Tag != TagUserID {
			continue
		}

		p, err := op.Parse()
		if err != nil {
			continue
		}

		if uid, ok := p.(*packet.UserId); ok {
			ids = append(ids, uid.Id)
		}
	}

	return ids
}

// ReplacePublic returns a new entity with the public component replaced by pub.
//
// The key ids must match; the protected key data is carried over unchanged.
func (e *Entity) ReplacePublic(pub *PublicEntity) (*Entity, error) {
	if pub.Key.KeyID() != e.KeyID() {
		return nil, keyerror.Policy("key ids do not match: %s != %s", pub.Key.KeyIDString(), e.secret.public.KeyIDString())
	}

	return &Entity{
		secret:  e.secret.withPublicKey(pub.Key),
		packets: clonePackets(pub.Packets),
	}, nil
}

func (e *Entity) withSecretKey(secret *Packet) *Entity {
	return &Entity{secret: secret, packets: clonePackets(e.packets)}
}

// Reprotect returns a copy of entity with its key data protected as recipe describes.
func (e *Engine) Reprotect(entity *Entity, oldPassphrase []byte, recipe *Recipe) (*Entity, error) {
	secret, err := e.ReprotectPacket(entity.secret, oldPassphrase, recipe)
	if err != nil {
		return nil, err
	}

	return entity.withSecretKey(secret), nil
}

// ReprotectAll reprotects every entity of a key ring. Stubs are passed through unchanged.
func (e *Engine) ReprotectAll(entities []*Entity, oldPassphrase []byte, recipe *Recipe) ([]*Entity, error) {
	out := make([]*Entity, 0, len(entities))

	for _, entity := range entities {
		if entity.IsPrivateKeyEmpty() {
			out = append(out, entity)

			continue
		}

		reprotected, err := e.Reprotect(entity, oldPassphrase, recipe)
		if err != nil {
			return nil, fmt.Errorf("failed to reprotect key %s: %w", entity.secret.public.KeyIDString(), err)
		}

		out = append(out, reprotected)
	}

	return out, nil
}

func clonePackets(packets []*packet.OpaquePacket) []*packet.OpaquePacket {
	if packets == nil {
		return nil
	}

	out := make([]*packet.OpaquePacket, len(packets))

	for i, op := range packets {
		out[i] = &packet.OpaquePacket{Tag: op.Tag, Reason: op.Reason, Contents: bytes.Clone(op.Contents)}
	}

	return out
}
