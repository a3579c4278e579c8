// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc authenticates end users of a gateway with an OpenID Connect
provider, using the id_token flow (response_type=id_token).  A local identity
is derived only from an id_token whose signature, issuer, audience, timing and
nonce have all been validated.

Primary types provided by the package

* Config: the relying party configuration (provider endpoints, issuer, client
id, redirect URI, claim names, clock skew, token and nonce validity).

* Flow: orchestrates one authentication attempt.  BeginAuthentication returns
the authorization URL to redirect the end user to, and
CompleteAuthentication validates the id_token returned with the state and
returns an AuthenticatedIdentity.

* NonceRegistry and StateRegistry: issue nonces and states, and consume each
of them at most once.

* Store: holds nonces and states between the redirect and the callback.
MemoryStore serves a single process; the redisstore package serves several.

* Validator: validates an id_token against the provider's signing keys (see
the jwt package) and the expected nonce.

* ClaimMapper: maps validated claims to an AuthenticatedIdentity.

Errors

Validation failures are reported with sentinel errors, such as
ErrTokenExpired or ErrUnknownState, which can be tested with errors.Is.
IsValidationError distinguishes them from configuration (ErrInvalidConfig)
and network (ErrKeySetUnavailable) failures.  A rejected attempt is never
retried: the end user must begin a new one.

Testing

TestProvider is a local provider for tests.  It serves discovery, a JWKS and
an authorization endpoint that redirects back with a signed id_token.
*/
package oidc
