// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package keyerror defines the error type shared by the secret key packages.
package keyerror

import (
	"errors"
	"fmt"
)

// Kind classifies a key handling failure.
type Kind int

// Error kinds.
const (
	// KindFormat is a malformed packet or S-expression, an unknown tag or an unexpected token.
	KindFormat Kind = iota + 1
	// KindIntegrity is a checksum or digest mismatch after decryption: wrong passphrase or corrupted data.
	KindIntegrity
	// KindUnsupported is an unrecognized public key or cipher algorithm.
	KindUnsupported
	// KindPolicy is a request the key format does not permit, e.g. an illegal protection combination.
	KindPolicy
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format error"
	case KindIntegrity:
		return "integrity error"
	case KindUnsupported:
		return "unsupported algorithm"
	case KindPolicy:
		return "policy error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrFormat      = &Error{Kind: KindFormat}
	ErrIntegrity   = &Error{Kind: KindIntegrity}
	ErrUnsupported = &Error{Kind: KindUnsupported}
	ErrPolicy      = &Error{Kind: KindPolicy}
)

// Error is a key handling error of a given kind.
type Error struct {
	Err  error
	Kind Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Err: err}
}

// Format returns a KindFormat error.
func Format(format string, args ...any) error {
	return &Error{Kind: KindFormat, Err: fmt.Errorf(format, args...)}
}

// Integrity returns a KindIntegrity error.
func Integrity(format string, args ...any) error {
	return &Error{Kind: KindIntegrity, Err: fmt.Errorf(format, args...)}
}

// Unsupported returns a KindUnsupported error.
func Unsupported(format string, args ...any) error {
	return &Error{Kind: KindUnsupported, Err: fmt.Errorf(format, args...)}
}

// Policy returns a KindPolicy error.
func Policy(format string, args ...any) error {
	return &Error{Kind: KindPolicy, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}
