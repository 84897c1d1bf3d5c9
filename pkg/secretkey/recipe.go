// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey

import (
	"bytes"
	"crypto"
	"io"

	"github.com/siderolabs/go-pgp-secretkey/pkg/checksum"
	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
	"github.com/siderolabs/go-pgp-secretkey/pkg/s2k"
	"github.com/siderolabs/go-pgp-secretkey/pkg/symmetric"
)

// Protection recipe defaults.
const (
	DefaultSymmetric = symmetric.AES128
	DefaultS2KHash   = crypto.SHA256
	DefaultS2KMode   = s2k.IteratedSalted
	DefaultS2KCount  = 1 << 20
)

type recipeOptions struct {
	checksumDigest crypto.Hash
	s2kHash        crypto.Hash
	s2kCount       int
	s2kMode        s2k.Mode
	symmetric      symmetric.Algorithm
}

func newDefaultRecipeOptions() recipeOptions {
	return recipeOptions{
		symmetric: DefaultSymmetric,
		s2kHash:   DefaultS2KHash,
		s2kMode:   DefaultS2KMode,
		s2kCount:  DefaultS2KCount,
	}
}

// RecipeOption represents a functional protection recipe option.
type RecipeOption func(*recipeOptions)

// WithSymmetric sets the cipher protecting the key data.
func WithSymmetric(alg symmetric.Algorithm) RecipeOption {
	return func(o *recipeOptions) {
		o.symmetric = alg
	}
}

// WithS2KHash sets the hash of the passphrase derivation.
func WithS2KHash(h crypto.Hash) RecipeOption {
	return func(o *recipeOptions) {
		o.s2kHash = h
	}
}

// WithS2KMode sets the S2K specifier type.
func WithS2KMode(mode s2k.Mode) RecipeOption {
	return func(o *recipeOptions) {
		o.s2kMode = mode
	}
}

// WithS2KCount sets the number of octets an iterated S2K hashes. It is rounded up to an encodable count.
func WithS2KCount(count int) RecipeOption {
	return func(o *recipeOptions) {
		o.s2kCount = count
	}
}

// WithChecksumDigest protects the key data with a digest trailer instead of the two-octet sum.
//
// Only SHA-1 is defined for this.
func WithChecksumDigest(h crypto.Hash) RecipeOption {
	return func(o *recipeOptions) {
		o.checksumDigest = h
	}
}

// Recipe describes how to protect key data under a new passphrase.
//
// The recipe holds a copy of the passphrase until Wipe is called.
type Recipe struct {
	passphrase []byte
	opts       recipeOptions
	wiped      bool
}

// NewRecipe returns a recipe protecting key data under passphrase.
func NewRecipe(passphrase []byte, opts ...RecipeOption) (*Recipe, error) {
	options := newDefaultRecipeOptions()

	for _, o := range opts {
		o(&options)
	}

	if options.symmetric != symmetric.None {
		if options.symmetric.BlockSize() == 0 {
			return nil, keyerror.Unsupported("symmetric algorithm %s", options.symmetric)
		}

		if _, ok := s2k.HashID(options.s2kHash); !ok {
			return nil, keyerror.Unsupported("S2K hash %s", options.s2kHash)
		}

		switch options.s2kMode { //nolint:exhaustive
		case s2k.Simple, s2k.Salted, s2k.IteratedSalted:
		default:
			return nil, keyerror.Policy("cannot protect with %s S2K", options.s2kMode)
		}
	}

	if options.checksumDigest != 0 && options.checksumDigest != crypto.SHA1 {
		return nil, keyerror.Policy("only SHA-1 is supported for key checksum calculations, got %s", options.checksumDigest)
	}

	return &Recipe{passphrase: bytes.Clone(passphrase), opts: options}, nil
}

// Wipe zeroes the passphrase copy. A wiped recipe can no longer protect key data.
func (r *Recipe) Wipe() {
	clear(r.passphrase)

	r.passphrase = nil
	r.wiped = true
}

// Unprotected returns a recipe storing key data in the clear.
func Unprotected() *Recipe {
	opts := newDefaultRecipeOptions()
	opts.symmetric = symmetric.None

	return &Recipe{opts: opts}
}

// Symmetric returns the cipher of the recipe, symmetric.None for Unprotected.
func (r *Recipe) Symmetric() symmetric.Algorithm {
	return r.opts.symmetric
}

// S2KHash returns the hash of the passphrase derivation.
func (r *Recipe) S2KHash() crypto.Hash {
	return r.opts.s2kHash
}

// IsUnprotected reports whether the recipe stores key data in the clear.
func (r *Recipe) IsUnprotected() bool {
	return r.opts.symmetric == symmetric.None
}

func (r *Recipe) scheme() checksum.Scheme {
	if r.opts.checksumDigest == crypto.SHA1 {
		return checksum.SHA1
	}

	return checksum.Sum16
}

func (r *Recipe) newS2K(rand io.Reader) (*s2k.Descriptor, error) {
	return s2k.Generate(rand, r.opts.s2kMode, r.opts.s2kHash, r.opts.s2kCount)
}
