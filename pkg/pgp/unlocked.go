// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pgp

import (
	"time"

	pgpcrypto "github.com/ProtonMail/gopenpgp/v2/crypto"
)

// Unlocked is a decrypted key ready for signing.
type Unlocked struct {
	key     *pgpcrypto.Key
	keyring *pgpcrypto.KeyRing
}

func newUnlocked(key *pgpcrypto.Key) (*Unlocked, error) {
	keyRing, err := pgpcrypto.NewKeyRing(key)
	if err != nil {
		return nil, err
	}

	return &Unlocked{
		key:     key,
		keyring: keyRing,
	}, nil
}

// Fingerprint returns the fingerprint of the key.
func (u *Unlocked) Fingerprint() string {
	return u.key.GetFingerprint()
}

// Verify verifies the signature of the given data using the public key.
func (u *Unlocked) Verify(data, signature []byte) error {
	message := pgpcrypto.NewPlainMessage(data)

	sig := pgpcrypto.NewPGPSignature(signature)

	return u.keyring.VerifyDetached(message, sig, pgpcrypto.GetUnixTime())
}

// Sign signs the given data using the private key.
func (u *Unlocked) Sign(data []byte) ([]byte, error) {
	message := pgpcrypto.NewPlainMessage(data)

	signature, err := u.keyring.SignDetached(message)
	if err != nil {
		return nil, err
	}

	return signature.GetBinary(), nil
}

// IsUnlocked returns true if every private key is decrypted.
func (u *Unlocked) IsUnlocked() (bool, error) {
	return u.key.IsUnlocked()
}

// IsExpired returns true if the key is expired with clock skew.
func (u *Unlocked) IsExpired(clockSkew time.Duration) bool {
	return isExpired(u.key.GetEntity(), clockSkew)
}

// Clear wipes the private parameters. The key can not sign afterwards.
func (u *Unlocked) Clear() {
	u.keyring.ClearPrivateParams()
}
