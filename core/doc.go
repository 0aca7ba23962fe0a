// Package core holds the integration domain: the authorization state store,
// the token vault and refresh scheduler, the consent ledger, the audit trail
// and the Service that orchestrates them. Provider adapters and durable
// stores live in sibling packages and depend on core, never the reverse.
package core
