/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package havensdk

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// tokenAlgorithms lists the signature algorithms the auth service is known to issue.
var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// TokenExpiry returns the expiry encoded in a JWT access token.
// The signature is not verified; the server remains the authority.
// A zero time and no error are returned for tokens without an exp claim.
func TokenExpiry(token string) (time.Time, error) {
	parsed, err := jwt.ParseSigned(token, tokenAlgorithms)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing access token: %w", err)
	}

	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, fmt.Errorf("error reading access token claims: %w", err)
	}

	if claims.Expiry == nil {
		return time.Time{}, nil
	}
	return claims.Expiry.Time(), nil
}

// IsTokenExpired reports whether the client's access token is a JWT whose
// exp claim lies before now. Opaque tokens are never reported as expired.
func (c *Client) IsTokenExpired(now time.Time) bool {
	exp, err := TokenExpiry(c.accessToken)
	if err != nil || exp.IsZero() {
		return false
	}
	return !now.Before(exp)
}
