package core

import (
	"sort"
	"strings"
)

// ScopeCatalog is the static registry of scopes each provider supports. It is
// read-only after construction.
type ScopeCatalog struct {
	byProvider map[string][]ScopeDescriptor
	index      map[string]map[string]ScopeDescriptor
}

func NewScopeCatalog(entries ...ScopeDescriptor) *ScopeCatalog {
	catalog := &ScopeCatalog{
		byProvider: map[string][]ScopeDescriptor{},
		index:      map[string]map[string]ScopeDescriptor{},
	}
	for _, entry := range entries {
		providerID := normalizeProviderID(entry.ProviderID)
		scopeID := normalizeScopeID(entry.ScopeID)
		if providerID == "" || scopeID == "" {
			continue
		}
		entry.ProviderID = providerID
		entry.ScopeID = scopeID
		if strings.TrimSpace(entry.ProviderScope) == "" {
			entry.ProviderScope = scopeID
		}
		if _, ok := catalog.index[providerID]; !ok {
			catalog.index[providerID] = map[string]ScopeDescriptor{}
		}
		if _, exists := catalog.index[providerID][scopeID]; exists {
			continue
		}
		catalog.index[providerID][scopeID] = entry
		catalog.byProvider[providerID] = append(catalog.byProvider[providerID], entry)
	}
	for providerID := range catalog.byProvider {
		sort.SliceStable(catalog.byProvider[providerID], func(i, j int) bool {
			return catalog.byProvider[providerID][i].ScopeID < catalog.byProvider[providerID][j].ScopeID
		})
	}
	return catalog
}

func (c *ScopeCatalog) Providers() []string {
	if c == nil {
		return []string{}
	}
	out := make([]string, 0, len(c.byProvider))
	for providerID := range c.byProvider {
		out = append(out, providerID)
	}
	sort.Strings(out)
	return out
}

func (c *ScopeCatalog) Scopes(providerID string) []ScopeDescriptor {
	if c == nil {
		return []ScopeDescriptor{}
	}
	entries := c.byProvider[normalizeProviderID(providerID)]
	return append([]ScopeDescriptor{}, entries...)
}

func (c *ScopeCatalog) Lookup(providerID string, scopeID string) (ScopeDescriptor, bool) {
	if c == nil {
		return ScopeDescriptor{}, false
	}
	scopes, ok := c.index[normalizeProviderID(providerID)]
	if !ok {
		return ScopeDescriptor{}, false
	}
	descriptor, ok := scopes[normalizeScopeID(scopeID)]
	return descriptor, ok
}

func (c *ScopeCatalog) RequiredScopes(providerID string) []string {
	out := []string{}
	for _, descriptor := range c.Scopes(providerID) {
		if descriptor.Required {
			out = append(out, descriptor.ScopeID)
		}
	}
	return out
}

// Validate checks a requested scope set against the catalog and returns it
// normalized, deduplicated and with required scopes added.
func (c *ScopeCatalog) Validate(providerID string, scopes []string) ([]string, error) {
	providerID = normalizeProviderID(providerID)
	if providerID == "" {
		return nil, NewValidationError("provider_id", "provider id is required")
	}
	if c == nil || len(c.index[providerID]) == 0 {
		return nil, NewValidationError("provider_id", "provider %q has no scope catalog", providerID)
	}
	requested := normalizeScopes(scopes)
	if len(requested) == 0 {
		return nil, NewValidationError("scopes", "at least one scope is required")
	}
	for _, scopeID := range requested {
		if _, ok := c.index[providerID][scopeID]; !ok {
			return nil, NewValidationError("scopes", "scope %q is not supported by provider %q", scopeID, providerID)
		}
	}
	return normalizeScopes(append(requested, c.RequiredScopes(providerID)...)), nil
}

// ProviderScopes maps catalog scope ids to provider-native scope strings.
// Unknown ids are passed through.
func (c *ScopeCatalog) ProviderScopes(providerID string, scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := map[string]struct{}{}
	for _, scopeID := range scopes {
		native := strings.TrimSpace(scopeID)
		if descriptor, ok := c.Lookup(providerID, scopeID); ok {
			native = descriptor.ProviderScope
		}
		if native == "" {
			continue
		}
		if _, exists := seen[native]; exists {
			continue
		}
		seen[native] = struct{}{}
		out = append(out, native)
	}
	return out
}

// ScopeIDs maps provider-native scopes reported by a token endpoint back to
// catalog ids. Native scopes missing from the catalog are dropped.
func (c *ScopeCatalog) ScopeIDs(providerID string, providerScopes []string) []string {
	if c == nil {
		return []string{}
	}
	byNative := map[string]string{}
	for _, descriptor := range c.byProvider[normalizeProviderID(providerID)] {
		byNative[descriptor.ProviderScope] = descriptor.ScopeID
	}
	out := []string{}
	for _, native := range providerScopes {
		native = strings.TrimSpace(native)
		if scopeID, ok := byNative[native]; ok {
			out = append(out, scopeID)
			continue
		}
		if _, ok := c.Lookup(providerID, native); ok {
			out = append(out, normalizeScopeID(native))
		}
	}
	return normalizeScopes(out)
}

func normalizeScopeID(scopeID string) string {
	return strings.ToLower(strings.TrimSpace(scopeID))
}
