// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// oidcauth provides the relying party side of OpenID Connect implicit flow
// authentication for a remote access gateway.  The gateway redirects a user to
// the provider, receives an ID token back, verifies it, and maps its claims to
// a gateway identity.
//
//   - oidc: configuration, nonce and state registries, token validation,
//     claim mapping and the authentication flow.
//   - oidc/properties: loads a configuration from a properties or yaml file
//     and the environment.
//   - oidc/redisstore: a Redis backed store so several gateway instances can
//     share authentication attempts.
//   - jwt: JWS parsing, signature verification and JWKS key sets.
package oidcauth
