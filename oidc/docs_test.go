// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/remotegate/oidcauth/oidc"
)

func Example() {
	// Create a new Config
	c, err := oidc.NewConfig(
		"https://your-issuer.com/authorize",
		"https://your-issuer.com/.well-known/jwks.json",
		"https://your-issuer.com/",
		"your_client_id",
		"https://your-gateway.com/callback",
		oidc.WithGroupsClaim("roles"),
		oidc.WithAttributeClaims("name", "locale:language"),
	)
	if err != nil {
		// handle error
	}

	// Create a flow
	f, err := oidc.NewFlow(c)
	if err != nil {
		// handle error
	}
	defer f.Done()

	// Begin an authentication attempt and redirect the user to the provider
	req, err := f.BeginAuthentication(context.Background())
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", req.URL)

	// Complete the attempt with the state and id_token the provider returned
	// to the redirect URI.
	callback := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := f.CompleteAuthentication(r.Context(), r.FormValue("state"), oidc.IdToken(r.FormValue("id_token")))
		switch {
		case errors.Is(err, oidc.ErrUnknownState):
			http.Error(w, "authentication attempt expired", http.StatusUnauthorized)
			return
		case oidc.IsValidationError(err):
			http.Error(w, "authentication rejected", http.StatusUnauthorized)
			return
		case err != nil:
			http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "hello %s", id.Username())
	}
	http.HandleFunc("/callback", callback)
}

func ExampleNewFlow() {
	c, err := oidc.NewConfig(
		"https://your-issuer.com/authorize",
		"https://your-issuer.com/.well-known/jwks.json",
		"https://your-issuer.com/",
		"your_client_id",
		"https://your-gateway.com/callback",
	)
	if err != nil {
		// handle error
	}
	f, err := oidc.NewFlow(c, oidc.WithSweepInterval(0))
	if err != nil {
		// handle error
	}
	defer f.Done()

	req, err := f.BeginAuthentication(context.Background())
	if err != nil {
		// handle error
	}
	fmt.Println(req.State != req.Nonce)

	// Output:
	// true
}
