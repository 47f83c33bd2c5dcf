package message

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// HrefMap maps opaque placeholder tokens to the real URLs they mask.
type HrefMap map[string]string

// HrefToken returns the deterministic placeholder used for url.
func HrefToken(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "{{_" + hex.EncodeToString(sum[:])[:12] + "}}"
}

// Add masks url and returns its placeholder.
func (m HrefMap) Add(url string) string {
	token := HrefToken(url)
	m[token] = url
	return token
}

// Mask replaces every known URL in s by its placeholder. Longer URLs are
// replaced first so prefixes do not clobber them.
func (m HrefMap) Mask(s string) string {
	tokens := make([]string, 0, len(m))
	for token := range m {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return len(m[tokens[i]]) > len(m[tokens[j]]) })
	for _, token := range tokens {
		s = strings.ReplaceAll(s, m[token], token)
	}
	return s
}

// Render walks a decoded JSON value and restores real URLs in every string,
// returning a new value. The input is not modified.
func (m HrefMap) Render(v any) any {
	if len(m) == 0 {
		return v
	}
	switch t := v.(type) {
	case string:
		return m.renderString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = m.Render(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = m.Render(val)
		}
		return out
	default:
		return v
	}
}

func (m HrefMap) renderString(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for token, url := range m {
		s = strings.ReplaceAll(s, token, url)
	}
	return s
}
