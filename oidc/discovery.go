// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"

	"github.com/remotegate/oidcauth/jwt"
	sdkhttp "github.com/remotegate/oidcauth/sdk/http"
)

// ProviderEndpoints are the provider metadata learned through OIDC discovery.
type ProviderEndpoints struct {
	Issuer                string
	AuthorizationEndpoint string
	JWKSEndpoint          string

	// SigningAlgs are the id_token signing algorithms the provider advertises
	// that are also supported here.
	SigningAlgs []jwt.Alg
}

// Discover fetches the issuer's "/.well-known/openid-configuration" document.
// The document's issuer must match the issuer exactly.
//
// Supported options: WithHTTPClient, WithProviderCA, WithHTTPTimeout,
// WithLogger
func Discover(ctx context.Context, issuer string, opt ...Option) (*ProviderEndpoints, error) {
	const op = "oidc.Discover"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	opts := getDiscoveryOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = sdkhttp.NewClient(opts.withProviderCA, opts.withHTTPTimeout); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w: %w", op, ErrInvalidCACert, err)
		}
	}
	ctx, cancel := context.WithTimeout(gooidc.ClientContext(ctx, client), opts.withHTTPTimeout)
	defer cancel()

	p, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscoveryFailed, err)
	}
	var meta struct {
		JWKSURI    string   `json:"jwks_uri"`
		SigningAlg []string `json:"id_token_signing_alg_values_supported"`
	}
	if err := p.Claims(&meta); err != nil {
		return nil, fmt.Errorf("%s: unable to decode provider metadata: %w: %w", op, ErrDiscoveryFailed, err)
	}
	endpoints := &ProviderEndpoints{
		Issuer:                issuer,
		AuthorizationEndpoint: p.Endpoint().AuthURL,
		JWKSEndpoint:          meta.JWKSURI,
	}
	if endpoints.AuthorizationEndpoint == "" || endpoints.JWKSEndpoint == "" {
		return nil, fmt.Errorf("%s: provider metadata is missing endpoints: %w", op, ErrDiscoveryFailed)
	}
	for _, a := range meta.SigningAlg {
		if jwt.SupportedSigningAlgorithm(jwt.Alg(a)) != nil {
			opts.withLogger.Debug("ignoring unsupported provider signing alg", "alg", a)
			continue
		}
		endpoints.SigningAlgs = append(endpoints.SigningAlgs, jwt.Alg(a))
	}
	return endpoints, nil
}

// discoveryOptions is the set of available options
type discoveryOptions struct {
	withHTTPClient  *http.Client
	withProviderCA  string
	withHTTPTimeout time.Duration
	withLogger      hclog.Logger
}

func discoveryDefaults() discoveryOptions {
	return discoveryOptions{
		withHTTPTimeout: DefaultHTTPTimeout,
		withLogger:      hclog.NewNullLogger(),
	}
}

func getDiscoveryOpts(opt ...Option) discoveryOptions {
	opts := discoveryDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withHTTPTimeout <= 0 {
		opts.withHTTPTimeout = DefaultHTTPTimeout
	}
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
