package core

import (
	"sort"
	"strings"
)

const (
	ScopeDeltaGranted    = "granted"
	ScopeDeltaExpanded   = "expanded"
	ScopeDeltaDowngraded = "downgraded"
	ScopeDeltaRevoked    = "revoked"
	ScopeDeltaUnchanged  = "unchanged"
)

// ScopeDelta describes how a consent grant changed the effective scopes.
type ScopeDelta struct {
	Kind    string
	Added   []string
	Removed []string
}

func ComputeScopeDelta(previous, current []string) ScopeDelta {
	prevSet := toScopeSet(previous)
	currSet := toScopeSet(current)

	added := make([]string, 0, len(currSet))
	removed := make([]string, 0, len(prevSet))
	for scope := range currSet {
		if _, ok := prevSet[scope]; !ok {
			added = append(added, scope)
		}
	}
	for scope := range prevSet {
		if _, ok := currSet[scope]; !ok {
			removed = append(removed, scope)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	kind := ScopeDeltaUnchanged
	switch {
	case len(prevSet) == 0 && len(currSet) > 0:
		kind = ScopeDeltaGranted
	case len(currSet) == 0 && len(prevSet) > 0:
		kind = ScopeDeltaRevoked
	case len(removed) > 0:
		kind = ScopeDeltaDowngraded
	case len(added) > 0:
		kind = ScopeDeltaExpanded
	}
	return ScopeDelta{Kind: kind, Added: added, Removed: removed}
}

func (d ScopeDelta) Metadata() map[string]any {
	return map[string]any{
		"scope_delta":    d.Kind,
		"scopes_added":   append([]string(nil), d.Added...),
		"scopes_removed": append([]string(nil), d.Removed...),
	}
}

func normalizeScopes(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	set := toScopeSet(values)
	out := make([]string, 0, len(set))
	for scope := range set {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

func toScopeSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" {
			continue
		}
		set[trimmed] = struct{}{}
	}
	return set
}
