package oauth

import (
	"sort"
	"strings"
)

// ParseScopes splits a space-separated scope string into its scope names,
// dropping empty entries.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// JoinScopes renders a scope list back into the space-separated wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopesSubset reports whether every requested scope appears in granted.
func ScopesSubset(requested, granted []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		set[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// HasScope reports whether scope (wire form) contains the named scope.
func HasScope(scope, name string) bool {
	for _, s := range ParseScopes(scope) {
		if s == name {
			return true
		}
	}
	return false
}

// NormalizeScope parses, de-duplicates and sorts a scope string so equal
// scope sets compare equal as strings.
func NormalizeScope(scope string) string {
	seen := make(map[string]struct{})
	var scopes []string
	for _, s := range ParseScopes(scope) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return JoinScopes(scopes)
}
