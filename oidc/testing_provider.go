// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"crypto"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/remotegate/oidcauth/jwt"
)

const (
	// TestClientID is the client id a TestProvider accepts by default.
	TestClientID = "test-client-id"

	// TestRedirectURI is the redirect URI a TestProvider accepts by default.
	TestRedirectURI = "https://gateway.example/callback"
)

// TestProvider is a local TLS server that acts as an OIDC provider for the
// id_token flow, which makes writing tests much easier.  It serves discovery,
// a JWKS and an authorization endpoint that redirects with a signed id_token.
// Its key set can be rotated, slowed down or made to fail.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwksRequests atomic.Int64

	mu           sync.Mutex
	signingAlg   jwt.Alg
	signingKeyID string
	signingKey   crypto.PrivateKey
	jwks         jose.JSONWebKeySet
	keyGen       int
	clientID     string
	redirectURI  string
	username     string
	customClaims map[string]interface{}
	jwksDelay    time.Duration
	jwksStatus   int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider.  It's stopped when the
// test and all its subtests complete.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		signingAlg:  jwt.ES256,
		clientID:    TestClientID,
		redirectURI: TestRedirectURI,
		username:    "alice@example.com",
		t:           t,
	}
	p.RotateKeys()

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the test provider's base URL, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Issuer returns the test provider's issuer.
func (p *TestProvider) Issuer() string { return p.Addr() }

// AuthorizationEndpoint returns the test provider's authorization endpoint.
func (p *TestProvider) AuthorizationEndpoint() string { return p.Addr() + "/auth" }

// JWKSEndpoint returns the test provider's JWKS endpoint.
func (p *TestProvider) JWKSEndpoint() string { return p.Addr() + "/certs" }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client that trusts the test provider and doesn't
// follow redirects, so the authorization endpoint's response can be read.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// JWKSRequests returns how many times the JWKS has been requested.
func (p *TestProvider) JWKSRequests() int {
	return int(p.jwksRequests.Load())
}

// SigningKeyID returns the key id of the current signing key.
func (p *TestProvider) SigningKeyID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signingKeyID
}

// SetClientID configures the client id the authorization endpoint accepts
// and uses as the id_token audience.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetRedirectURI configures the redirect URI the authorization endpoint
// accepts.
func (p *TestProvider) SetRedirectURI(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirectURI = uri
}

// SetUsername configures the "email" claim of issued id_tokens.
func (p *TestProvider) SetUsername(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = username
}

// SetCustomClaims lets you set claims to add to the id_tokens issued by the
// authorization endpoint.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetSigningAlg configures the algorithm of the keys generated by
// RotateKeys.  It doesn't rotate the current key.
func (p *TestProvider) SetSigningAlg(alg jwt.Alg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signingAlg = alg
}

// SetJWKSDelay delays every JWKS response.
func (p *TestProvider) SetJWKSDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jwksDelay = d
}

// SetJWKSStatus makes the JWKS endpoint fail with the status code.  Zero
// restores normal responses.
func (p *TestProvider) SetJWKSStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jwksStatus = status
}

// RotateKeys replaces the signing key with a new one that has a new key id.
// The JWKS publishes only the new key.
func (p *TestProvider) RotateKeys() {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, priv := jwt.TestGenerateKeys(p.t, p.signingAlg)
	p.keyGen++
	p.signingKeyID = fmt.Sprintf("test-key-%d", p.keyGen)
	p.signingKey = priv
	p.jwks = jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{jwt.TestJWK(p.t, pub, p.signingAlg, p.signingKeyID)},
	}
}

// TestClaims returns valid id_token claims for the nonce, issued now.
func (p *TestProvider) TestClaims(nonce string) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.claims(nonce, time.Now())
}

// SignToken signs the claims with the current signing key.
func (p *TestProvider) SignToken(claims map[string]interface{}) IdToken {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := p.sign(claims)
	require.NoError(p.t, err)
	return IdToken(raw)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.writeJSON(w, struct {
			Issuer         string   `json:"issuer"`
			AuthEndpoint   string   `json:"authorization_endpoint"`
			JWKSURI        string   `json:"jwks_uri"`
			ResponseTypes  []string `json:"response_types_supported"`
			SubjectTypes   []string `json:"subject_types_supported"`
			IDTokenSigning []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:         p.Issuer(),
			AuthEndpoint:   p.AuthorizationEndpoint(),
			JWKSURI:        p.JWKSEndpoint(),
			ResponseTypes:  []string{"id_token"},
			SubjectTypes:   []string{"public"},
			IDTokenSigning: []string{"ES256", "RS256", "HS256"},
		})

	case "/certs":
		p.jwksRequests.Add(1)
		p.mu.Lock()
		delay, status, jwks := p.jwksDelay, p.jwksStatus, p.jwks
		p.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return
			}
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		p.writeJSON(w, jwks)

	case "/auth":
		p.authorize(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// authorize implements the implicit id_token flow for an end user that's
// already signed in: it redirects back with the id_token in the fragment.
func (p *TestProvider) authorize(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	qv := req.URL.Query()
	switch {
	case qv.Get("client_id") != p.clientID:
		http.Error(w, "unknown client_id", http.StatusBadRequest)
		return
	case qv.Get("redirect_uri") != p.redirectURI:
		http.Error(w, "redirect_uri not allowed", http.StatusBadRequest)
		return
	}
	redirect, err := url.Parse(p.redirectURI)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fragment := url.Values{}
	if qv.Get("state") != "" {
		fragment.Set("state", qv.Get("state"))
	}
	switch {
	case qv.Get("response_type") != "id_token":
		fragment.Set("error", "unsupported_response_type")
	case !strings.Contains(" "+qv.Get("scope")+" ", " openid "):
		fragment.Set("error", "invalid_scope")
	case qv.Get("nonce") == "":
		fragment.Set("error", "invalid_request")
	default:
		raw, err := p.sign(p.claims(qv.Get("nonce"), time.Now()))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fragment.Set("id_token", raw)
	}
	redirect.Fragment = fragment.Encode()
	http.Redirect(w, req, redirect.String(), http.StatusFound)
}

// claims must be called with p.mu held.
func (p *TestProvider) claims(nonce string, now time.Time) map[string]interface{} {
	c := map[string]interface{}{
		"iss":   p.Issuer(),
		"aud":   []string{p.clientID},
		"sub":   "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6",
		"email": p.username,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"nonce": nonce,
	}
	for k, v := range p.customClaims {
		c[k] = v
	}
	return c
}

// sign must be called with p.mu held.
func (p *TestProvider) sign(claims map[string]interface{}) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.SignatureAlgorithm(p.signingAlg),
			Key:       jose.JSONWebKey{Key: p.signingKey, KeyID: p.signingKeyID},
		},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}
	return josejwt.Signed(sig).Claims(claims).Serialize()
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(out); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// TestConfig returns a valid Config for the test provider.  Options are
// applied after the provider's endpoints, client id, redirect URI and CA.
func TestConfig(t *testing.T, p *TestProvider, opt ...Option) *Config {
	t.Helper()
	opts := append([]Option{WithProviderCA(p.CACert())}, opt...)
	c, err := NewConfig(p.AuthorizationEndpoint(), p.JWKSEndpoint(), p.Issuer(), TestClientID, TestRedirectURI, opts...)
	require.NoError(t, err)
	return c
}

// TestAuthorize follows the authorization URL of the request and returns the
// state and id_token the test provider redirected back with.
func TestAuthorize(t *testing.T, p *TestProvider, authURL string) (state string, token IdToken) {
	t.Helper()
	require := require.New(t)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, authURL, http.NoBody)
	require.NoError(err)
	resp, err := p.HTTPClient().Do(req)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	fragment, err := url.ParseQuery(loc.Fragment)
	require.NoError(err)
	require.Empty(fragment.Get("error"))
	return fragment.Get("state"), IdToken(fragment.Get("id_token"))
}
