// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package secretkey

import (
	"bytes"
	"strings"
)

// Curve names as used in key exports.
const (
	CurveP256            = "P-256"
	CurveP384            = "P-384"
	CurveP521            = "P-521"
	CurveBrainpoolP256r1 = "brainpoolP256r1"
	CurveBrainpoolP384r1 = "brainpoolP384r1"
	CurveBrainpoolP512r1 = "brainpoolP512r1"
	CurveSecp256k1       = "secp256k1"
	CurveEd25519         = "Ed25519"
	CurveCurve25519      = "Curve25519"
)

// DER encoded OIDs without the tag and length octets.
var curveOIDs = map[string][]byte{
	CurveP256:            {0x2A, 0x86, 0x48, 0xCE, 0x3D, 0x03, 0x01, 0x07},
	CurveP384:            {0x2B, 0x81, 0x04, 0x00, 0x22},
	CurveP521:            {0x2B, 0x81, 0x04, 0x00, 0x23},
	CurveBrainpoolP256r1: {0x2B, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x07},
	CurveBrainpoolP384r1: {0x2B, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x0B},
	CurveBrainpoolP512r1: {0x2B, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x0D},
	CurveSecp256k1:       {0x2B, 0x81, 0x04, 0x00, 0x0A},
	CurveEd25519:         {0x2B, 0x06, 0x01, 0x04, 0x01, 0xDA, 0x47, 0x0F, 0x01},
	CurveCurve25519:      {0x2B, 0x06, 0x01, 0x04, 0x01, 0x97, 0x55, 0x01, 0x05, 0x01},
}

// curve name aliases found in GnuPG exports
var curveAliases = map[string]string{
	"nistp256":   CurveP256,
	"nistp384":   CurveP384,
	"nistp521":   CurveP521,
	"ed25519":    CurveEd25519,
	"cv25519":    CurveCurve25519,
	"curve25519": CurveCurve25519,
}

// CanonicalCurveName strips the "NIST " prefix and resolves known aliases.
func CanonicalCurveName(name string) string {
	name = strings.TrimPrefix(name, "NIST ")

	if alias, ok := curveAliases[strings.ToLower(name)]; ok {
		return alias
	}

	return name
}

// CurveOID returns the OID of a named curve.
func CurveOID(name string) ([]byte, bool) {
	oid, ok := curveOIDs[CanonicalCurveName(name)]

	return bytes.Clone(oid), ok
}

// CurveName returns the name of the curve with the given OID.
func CurveName(oid []byte) (string, bool) {
	for name, candidate := range curveOIDs {
		if bytes.Equal(candidate, oid) {
			return name, true
		}
	}

	return "", false
}
