// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package properties loads an oidc.Config from the gateway's "openid-*"
// properties.  Properties are read from a file (a Java style .properties file,
// or yaml or json) and each can be overridden by an environment variable named
// after it in upper case with underscores, such as OPENID_ISSUER.
package properties

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/remotegate/oidcauth/jwt"
	"github.com/remotegate/oidcauth/oidc"
)

// Recognized properties.
const (
	AuthorizationEndpoint = "openid-authorization-endpoint"
	JWKSEndpoint          = "openid-jwks-endpoint"
	Issuer                = "openid-issuer"
	ClientID              = "openid-client-id"
	RedirectURI           = "openid-redirect-uri"
	UsernameClaimType     = "openid-username-claim-type"
	GroupsClaimType       = "openid-groups-claim-type"
	AttributesClaimType   = "openid-attributes-claim-type"
	Scope                 = "openid-scope"
	AllowedClockSkew      = "openid-allowed-clock-skew"
	MaxTokenValidity      = "openid-max-token-validity"
	MaxNonceValidity      = "openid-max-nonce-validity"
	SupportedAlgorithms   = "openid-supported-algorithms"
	ProviderCA            = "openid-provider-ca"
	JWKSCacheTTL          = "openid-jwks-cache-ttl"
	HTTPTimeout           = "openid-http-timeout"
	Discovery             = "openid-discovery"
)

// Load reads the properties file at path, applies environment overrides and
// returns the validated config.  An empty path reads the environment only.
// The file's format is taken from its extension.
//
// Supported options: WithLogger
func Load(ctx context.Context, path string, opt ...Option) (*oidc.Config, error) {
	const op = "properties.Load"
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%s: unable to read %s: %w: %w", op, path, oidc.ErrInvalidConfig, err)
		}
	}
	c, err := FromViper(ctx, v, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// FromViper returns the validated config for the properties held by v, with
// environment overrides enabled.
//
// Supported options: WithLogger
func FromViper(ctx context.Context, v *viper.Viper, opt ...Option) (*oidc.Config, error) {
	const op = "properties.FromViper"
	if v == nil {
		return nil, fmt.Errorf("%s: viper is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	r := &reader{v: v}
	var (
		authEndpoint = r.string(AuthorizationEndpoint)
		jwksEndpoint = r.string(JWKSEndpoint)
		issuer       = r.string(Issuer)
		clientID     = r.string(ClientID)
		redirectURI  = r.string(RedirectURI)
		cfgOpts      []oidc.Option
	)
	if s, ok := r.lookup(UsernameClaimType); ok {
		cfgOpts = append(cfgOpts, oidc.WithUsernameClaim(s))
	}
	if s, ok := r.lookup(GroupsClaimType); ok {
		cfgOpts = append(cfgOpts, oidc.WithGroupsClaim(s))
	}
	if s, ok := r.lookup(AttributesClaimType); ok {
		cfgOpts = append(cfgOpts, oidc.WithAttributeClaims(splitList(s)...))
	}
	if s, ok := r.lookup(Scope); ok {
		cfgOpts = append(cfgOpts, oidc.WithScope(s))
	}
	if d, ok := r.duration(AllowedClockSkew, time.Second); ok {
		cfgOpts = append(cfgOpts, oidc.WithAllowedClockSkew(d))
	}
	if d, ok := r.duration(MaxTokenValidity, time.Minute); ok {
		cfgOpts = append(cfgOpts, oidc.WithMaxTokenValidity(d))
	}
	if d, ok := r.duration(MaxNonceValidity, time.Minute); ok {
		cfgOpts = append(cfgOpts, oidc.WithMaxNonceValidity(d))
	}
	algsSet := false
	if s, ok := r.lookup(SupportedAlgorithms); ok {
		var algs []jwt.Alg
		for _, a := range splitList(s) {
			algs = append(algs, jwt.Alg(a))
		}
		cfgOpts = append(cfgOpts, oidc.WithSupportedSigningAlgs(algs...))
		algsSet = true
	}
	var caPEM string
	if path, ok := r.lookup(ProviderCA); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			r.fail(ProviderCA, err)
		}
		caPEM = string(b)
		cfgOpts = append(cfgOpts, oidc.WithProviderCA(caPEM))
	}
	if d, ok := r.duration(JWKSCacheTTL, time.Second); ok {
		cfgOpts = append(cfgOpts, oidc.WithJWKSCacheTTL(d))
	}
	timeout := oidc.DefaultHTTPTimeout
	if d, ok := r.duration(HTTPTimeout, time.Second); ok {
		timeout = d
		cfgOpts = append(cfgOpts, oidc.WithHTTPTimeout(d))
	}
	discovery := r.bool(Discovery)
	if err := r.result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if discovery && issuer != "" && (authEndpoint == "" || jwksEndpoint == "") {
		endpoints, err := oidc.Discover(ctx, issuer,
			oidc.WithProviderCA(caPEM),
			oidc.WithHTTPTimeout(timeout),
			oidc.WithLogger(opts.withLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if authEndpoint == "" {
			authEndpoint = endpoints.AuthorizationEndpoint
		}
		if jwksEndpoint == "" {
			jwksEndpoint = endpoints.JWKSEndpoint
		}
		if !algsSet && len(endpoints.SigningAlgs) > 0 {
			cfgOpts = append(cfgOpts, oidc.WithSupportedSigningAlgs(endpoints.SigningAlgs...))
		}
		opts.withLogger.Debug("discovered provider endpoints", "issuer", issuer, "authorization_endpoint", authEndpoint, "jwks_endpoint", jwksEndpoint)
	}

	c, err := oidc.NewConfig(authEndpoint, jwksEndpoint, issuer, clientID, redirectURI, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// reader reads properties and collects every malformed value.
type reader struct {
	v      *viper.Viper
	result *multierror.Error
}

func (r *reader) fail(key string, err error) {
	r.result = multierror.Append(r.result, fmt.Errorf("%s: %w: %w", key, oidc.ErrInvalidConfig, err))
}

func (r *reader) string(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

// lookup returns the property and whether it's set to a non-blank value.
func (r *reader) lookup(key string) (string, bool) {
	s := r.string(key)
	return s, s != ""
}

// duration reads an integer property in units of unit.
func (r *reader) duration(key string, unit time.Duration) (time.Duration, bool) {
	if _, ok := r.lookup(key); !ok {
		return 0, false
	}
	n, err := cast.ToIntE(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
		return 0, false
	}
	return time.Duration(n) * unit, true
}

func (r *reader) bool(key string) bool {
	if _, ok := r.lookup(key); !ok {
		return false
	}
	b, err := cast.ToBoolE(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
		return false
	}
	return b
}

// splitList splits a comma separated property value, dropping empty and
// repeated items.
func splitList(s string) []string {
	return strutil.RemoveDuplicatesStable(strutil.ParseStringSlice(s, ","), false)
}
