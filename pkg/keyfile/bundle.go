// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keyfile

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/pgp"
)

// EnvVar is the name of the environment variable that contains the base64-encoded key bundle JSON.
const EnvVar = "PGP_SECRET_KEY"

// BundleJSON is the JSON representation of a key bundle.
type BundleJSON struct {
	// Name is the name (identity) the key belongs to.
	Name string `json:"name"`

	// PGPKey is the armored, passphrase protected secret key.
	PGPKey string `json:"pgp_key"`
}

// Bundle is a named secret key passed around as a single string.
type Bundle struct {
	Key  *pgp.Key
	Name string
}

// FromEnv returns the bundle value of EnvVar, if it is set.
func FromEnv() (valueBase64 string, ok bool) {
	return os.LookupEnv(EnvVar)
}

// Encode encodes the given name and key into a base64 encoded JSON string.
//
// The key data stays protected as it is.
func Encode(name string, key *pgp.Key) (string, error) {
	armoredPrivateKey, err := key.Armor()
	if err != nil {
		return "", fmt.Errorf("failed to armor private key: %w", err)
	}

	bundle := BundleJSON{
		Name:   name,
		PGPKey: armoredPrivateKey,
	}

	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(bundleJSON), nil
}

// Decode parses and decodes a bundle from a base64 encoded JSON string.
func Decode(valueBase64 string, opts ...pgp.GenerateOption) (*Bundle, error) {
	bundleJSON, err := base64.StdEncoding.DecodeString(valueBase64)
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	var bundle BundleJSON

	if err = json.Unmarshal(bundleJSON, &bundle); err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	key, err := pgp.ReadKey(strings.NewReader(bundle.PGPKey), opts...)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Name: bundle.Name,
		Key:  key,
	}, nil
}
