// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey

import (
	"github.com/siderolabs/go-pgp-secretkey/pkg/s2k"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

// NewNoPrivateKeyPacket returns a stub packet for pub without any private material.
//
// The cipher octet is CAST5, as GnuPG writes it; it is never used.
func NewNoPrivateKeyPacket(pub *PublicKey, subkey bool) (*Packet, error) {
	return NewPacket(pub, &Stub{
		Octet:     UsageChecksum,
		Algorithm: symmetric.CAST5,
		S2K:       s2k.NewGNUDummy(s2k.GNUNoPrivateKey),
	}, nil, subkey)
}

// NewDivertToCardPacket returns a stub packet for pub whose private key lives on the smart card
// with the given serial number.
//
// The serial is stored in a 16 octet field, zero filled or truncated.
func NewDivertToCardPacket(pub *PublicKey, serial []byte, subkey bool) (*Packet, error) {
	field := make([]byte, DivertToCardSerialSize)
	copy(field, serial)

	return NewPacket(pub, &Stub{
		Octet:     UsageChecksum,
		Algorithm: symmetric.None,
		S2K:       s2k.NewGNUDummy(s2k.GNUDivertToCard),
		IV:        field,
	}, nil, subkey)
}

// BuildNoPrivateKey returns a stripped secret key entity for pub.
func BuildNoPrivateKey(pub *PublicEntity) (*Entity, error) {
	secret, err := NewNoPrivateKeyPacket(pub.Key, pub.Subkey)
	if err != nil {
		return nil, err
	}

	return NewEntity(secret, pub.Packets...), nil
}

// BuildDivertToCard returns a stripped secret key entity for pub pointing at a smart card.
func BuildDivertToCard(pub *PublicEntity, serial []byte) (*Entity, error) {
	secret, err := NewDivertToCardPacket(pub.Key, serial, pub.Subkey)
	if err != nil {
		return nil, err
	}

	return NewEntity(secret, pub.Packets...), nil
}
