// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestGenerateKeys will generate a test key pair suitable for the alg.
func TestGenerateKeys(t *testing.T, alg Alg) (crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()
	require := require.New(t)
	switch alg {
	case ES256, ES384, ES512:
		curve := map[Alg]elliptic.Curve{ES256: elliptic.P256(), ES384: elliptic.P384(), ES512: elliptic.P521()}[alg]
		priv, err := ecdsa.GenerateKey(curve, rand.Reader)
		require.NoError(err)
		return priv.Public(), priv
	case RS256, RS384, RS512, PS256, PS384, PS512:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		return priv.Public(), priv
	case EdDSA:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(err)
		return pub, priv
	default:
		require.FailNowf("unsupported alg", "alg %s", alg)
		return nil, nil
	}
}

// TestSignJWT will bundle the provided claims into a test signed JWT.  When
// keyID isn't empty it's set as the "kid" header.
func TestSignJWT(t *testing.T, key crypto.PrivateKey, alg Alg, claims interface{}, keyID string) string {
	t.Helper()
	require := require.New(t)

	var signingKey interface{} = key
	if keyID != "" {
		signingKey = jose.JSONWebKey{Key: key, KeyID: keyID}
	}
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(err)
	return raw
}

// TestJWK returns the public key as a JSON Web Key suitable for a JWKS.
func TestJWK(t *testing.T, pub crypto.PublicKey, alg Alg, keyID string) jose.JSONWebKey {
	t.Helper()
	k := jose.JSONWebKey{
		Key:       pub,
		KeyID:     keyID,
		Algorithm: string(alg),
		Use:       "sig",
	}
	require.True(t, k.Valid(), "invalid public key")
	return k
}
