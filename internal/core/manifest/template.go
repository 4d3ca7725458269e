// Package manifest renders Kubernetes Deployment manifests from placeholder
// templates. This is part of the Functional Core - rendering is pure; the
// kube shell applies the result to a cluster.
package manifest

import (
	"regexp"
	"sort"
)

// =============================================================================
// Placeholder Substitution
// =============================================================================

// tokenRegex matches {token} placeholders. Token names are lowercase with
// underscores, e.g. {name}, {port_expose}.
var tokenRegex = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// Substitute replaces {token} placeholders with values from the map.
//
// Behavior:
//   - {token} - replaced with values["token"] if present, otherwise kept as-is
//   - Unmatched text is left unchanged
//
// Examples:
//
//	Substitute("{name}-head", map[string]string{"name": "gateway"})
//	// Returns: "gateway-head"
//
//	Substitute("{missing}", map[string]string{})
//	// Returns: "{missing}"
func Substitute(text string, values map[string]string) string {
	if values == nil {
		values = make(map[string]string)
	}

	return tokenRegex.ReplaceAllStringFunc(text, func(match string) string {
		token := match[1 : len(match)-1]
		if val, ok := values[token]; ok {
			return val
		}
		return match
	})
}

// ExtractTokens extracts unique placeholder token names from a template,
// in order of first appearance.
func ExtractTokens(text string) []string {
	seen := make(map[string]bool)
	var tokens []string

	for _, match := range tokenRegex.FindAllStringSubmatch(text, -1) {
		token := match[1]
		if !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
	}

	return tokens
}

// UnresolvedTokens returns the tokens in text that have no value in the map,
// sorted by name. A fully resolvable template returns nil.
func UnresolvedTokens(text string, values map[string]string) []string {
	var missing []string
	for _, token := range ExtractTokens(text) {
		if _, ok := values[token]; !ok {
			missing = append(missing, token)
		}
	}
	sort.Strings(missing)
	return missing
}
