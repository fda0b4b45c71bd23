// Package google implements the OAuth2 authorization-code flow against
// Google and builds token sources from stored per-client credentials.
//
// The actual token-exchange protocol is delegated to golang.org/x/oauth2;
// this package only fixes the endpoint, the Gmail scopes and the consent
// parameters that guarantee refresh-token issuance.
package google
