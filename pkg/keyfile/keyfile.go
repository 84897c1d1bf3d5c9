// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package keyfile stores armored, passphrase protected secret keys under the XDG data directory
// and in base64 environment bundles.
package keyfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"

	"github.com/siderolabs/go-pgp-secretkey/pkg/pgp"
	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

// DefaultKeyLifetime is the lifetime of generated keys.
const DefaultKeyLifetime = 4 * time.Hour

// Key is a secret key associated with a context and an identity.
type Key struct {
	*pgp.Key
	context  string
	identity string
}

// Store handles loading and saving keys.
type Store struct {
	dataFileDirectory string
	opts              []pgp.GenerateOption
	keyLifetime       time.Duration
}

// NewStore creates a new Store keeping its files in dataFileDirectory, relative to the XDG data home.
//
// opts apply to generated and read keys.
func NewStore(dataFileDirectory string, opts ...pgp.GenerateOption) *Store {
	return &Store{
		dataFileDirectory: dataFileDirectory,
		keyLifetime:       DefaultKeyLifetime,
		opts:              opts,
	}
}

// ReadValidKey reads a key from the filesystem.
//
// If the key is missing, invalid (e.g., expired, revoked) or stripped of its signing key,
// an error will be returned.
func (s *Store) ReadValidKey(context, email string) (*Key, error) {
	keyPath, err := s.keyFilePath(context, email)
	if err != nil {
		return nil, err
	}

	keyF, err := os.Open(keyPath)
	if err != nil {
		return nil, err
	}

	defer keyF.Close() //nolint:errcheck

	key, err := pgp.ReadKey(keyF, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", keyPath, err)
	}

	if err = key.Validate(); err != nil {
		return nil, err
	}

	return &Key{
		Key:      key,
		context:  context,
		identity: email,
	}, nil
}

// GenerateKey generates a new key pair protected as recipe describes.
func (s *Store) GenerateKey(context, email, clientNameWithVersion string, recipe *secretkey.Recipe) (*Key, error) {
	name := clientNameWithVersion
	comment := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)

	key, err := pgp.GenerateKey(name, comment, email, s.keyLifetime, recipe, s.opts...)
	if err != nil {
		return nil, err
	}

	return &Key{
		Key:      key,
		context:  context,
		identity: email,
	}, nil
}

// KeyExists reports whether a key file exists for the context and identity.
func (s *Store) KeyExists(context, email string) bool {
	keyPath, err := s.keyFilePath(context, email)
	if err != nil {
		return false
	}

	return fileExists(keyPath)
}

// DeleteKey deletes the key file.
func (s *Store) DeleteKey(context, email string) error {
	keyPath, err := s.keyFilePath(context, email)
	if err != nil {
		return err
	}

	return os.Remove(keyPath)
}

// WriteKey saves the key to disk and returns the save path.
func (s *Store) WriteKey(k *Key) (string, error) {
	armored, err := k.Armor()
	if err != nil {
		return "", err
	}

	keyPath, err := s.keyFilePath(k.context, k.identity)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(keyPath); !isWritable(dir) {
		return "", fmt.Errorf("key directory %s is not writable", dir)
	}

	err = os.WriteFile(keyPath, []byte(armored), 0o600)
	if err != nil {
		return "", err
	}

	return keyPath, err
}

func (s *Store) keyFilePath(context, identity string) (string, error) {
	keyName := fmt.Sprintf("%s-%s.pgp", context, identity)

	return xdg.DataFile(filepath.Join(s.dataFileDirectory, keyName))
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)

	return err == nil
}
