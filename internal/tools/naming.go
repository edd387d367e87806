package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// MaxToolNameLength is the longest tool name accepted by the backends.
const MaxToolNameLength = 64

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// NamespacedName builds the registry name for a provider-sourced tool:
// {provider}__{tool}, sanitized to alphanumerics and underscores. Names over
// the length limit are truncated and suffixed with a short hash of the
// original so distinct long names stay distinct.
func NamespacedName(provider, tool string) string {
	name := sanitize(provider) + "__" + sanitize(tool)
	if len(name) <= MaxToolNameLength {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	return name[:MaxToolNameLength-len(suffix)] + suffix
}

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// Namespace returns the registry namespace for a provider, matching the
// prefix NamespacedName produces.
func Namespace(provider string) string {
	return sanitize(provider)
}

// ResolveNames maps a provider's tool names to their namespaced registry
// names, rejecting residual collisions after namespacing. Two tools mapping
// to the same registry name is a configuration error surfaced at startup,
// not silently resolved.
func ResolveNames(provider string, toolNames []string) ([]string, error) {
	out := make([]string, len(toolNames))
	seen := make(map[string]string, len(toolNames))
	for i, orig := range toolNames {
		n := NamespacedName(provider, orig)
		if prev, ok := seen[n]; ok {
			return nil, fmt.Errorf("tool name collision: %q and %q both map to %q", prev, orig, n)
		}
		seen[n] = orig
		out[i] = n
	}
	return out, nil
}

// SplitNamespace returns the provider part of a namespaced name, or "" for a
// built-in.
func SplitNamespace(name string) string {
	if i := strings.Index(name, "__"); i > 0 {
		return name[:i]
	}
	return ""
}
