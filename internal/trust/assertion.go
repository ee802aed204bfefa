// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// assertionValidity is the lifetime the iSHARE profile prescribes for
// client assertions and signed tokens.
const assertionValidity = 30 * time.Second

// ClientAssertion signs the iSHARE client-assertion JWT used to
// authenticate against another party's /connect/token endpoint.
func (c *Credentials) ClientAssertion(audience string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": c.EORI,
		"sub": c.EORI,
		"aud": audience,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(assertionValidity).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["x5c"] = c.X5C()

	signed, err := tok.SignedString(c.Key)
	if err != nil {
		return "", oops.Code(CodeBadCredentials).Wrapf(err, "signing client assertion")
	}
	return signed, nil
}
