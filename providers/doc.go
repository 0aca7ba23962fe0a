// Package providers holds the OAuth2 protocol adapter shared by every
// built-in provider variant. Variants live in sub-packages and only supply
// endpoints, scopes, and quirks.
package providers
