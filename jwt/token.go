// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Token is a parsed, not yet verified, JWS compact serialized JWT.  Its claims
// must not be trusted until Verify succeeds.
type Token struct {
	// KeyID is the "kid" header parameter.
	KeyID string

	// Algorithm is the "alg" header parameter.
	Algorithm Alg

	Issuer    string
	Audience  []string
	Expiry    time.Time
	IssuedAt  time.Time
	NotBefore time.Time
	Nonce     string

	// Claims holds every claim of the payload.
	Claims map[string]interface{}

	jws *jwt.JSONWebToken
}

// ParseToken parses the raw token and decodes its header and payload.  The
// "exp" and "iat" claims are required.  A header "alg" that isn't one of algs
// fails with ErrUnsupportedAlg; any structural problem fails with
// ErrMalformedToken.  When no algs are given, DefaultAlgs() are allowed.
func ParseToken(raw string, algs ...Alg) (*Token, error) {
	const op = "jwt.ParseToken"
	if len(algs) == 0 {
		algs = DefaultAlgs()
	}
	if err := SupportedSigningAlgorithm(algs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%s: expected 3 segments and got %d: %w", op, len(parts), ErrMalformedToken)
	}
	hdr, err := decodeHeader(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%s: unable to decode header: %w", op, err)
	}
	if !slices.Contains(algs, Alg(hdr.Algorithm)) {
		return nil, fmt.Errorf("%s: header alg %q: %w", op, hdr.Algorithm, ErrUnsupportedAlg)
	}

	jws, err := jwt.ParseSigned(raw, joseAlgs(algs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedToken, err)
	}
	var (
		std   jwt.Claims
		extra struct {
			Nonce string `json:"nonce"`
		}
		all = map[string]interface{}{}
	)
	if err := jws.UnsafeClaimsWithoutVerification(&std, &extra, &all); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %w: %w", op, ErrMalformedToken, err)
	}
	if std.Expiry == nil {
		return nil, fmt.Errorf("%s: missing exp claim: %w", op, ErrMalformedToken)
	}
	if std.IssuedAt == nil {
		return nil, fmt.Errorf("%s: missing iat claim: %w", op, ErrMalformedToken)
	}

	t := &Token{
		KeyID:     hdr.KeyID,
		Algorithm: Alg(hdr.Algorithm),
		Issuer:    std.Issuer,
		Audience:  []string(std.Audience),
		Expiry:    std.Expiry.Time(),
		IssuedAt:  std.IssuedAt.Time(),
		Nonce:     extra.Nonce,
		Claims:    all,
		jws:       jws,
	}
	if std.NotBefore != nil {
		t.NotBefore = std.NotBefore.Time()
	}
	return t, nil
}

// Verify checks the token's signature with key.  A key that declares an
// algorithm other than the token's is rejected.
func (t *Token) Verify(key *jose.JSONWebKey) error {
	const op = "Token.Verify"
	if t == nil || t.jws == nil {
		return fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if key == nil {
		return fmt.Errorf("%s: key is nil: %w", op, ErrNilParameter)
	}
	if key.Algorithm != "" && key.Algorithm != string(t.Algorithm) {
		return fmt.Errorf("%s: key alg %q doesn't match token alg %q: %w", op, key.Algorithm, t.Algorithm, ErrInvalidSignature)
	}
	if err := t.jws.Claims(key); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	return nil
}

// HasAudience returns true when aud is one of the token's audiences.
func (t *Token) HasAudience(aud string) bool {
	return slices.Contains(t.Audience, aud)
}

type header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
}

func decodeHeader(seg string) (*header, error) {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	var h header
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	if h.Algorithm == "" {
		return nil, fmt.Errorf("missing alg: %w", ErrMalformedToken)
	}
	return &h, nil
}
