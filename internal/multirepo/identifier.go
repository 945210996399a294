package multirepo

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

// IdentifierKind classifies how a repository reference was expressed.
type IdentifierKind string

const (
	IdentifierNumeric IdentifierKind = "numeric"
	IdentifierPath    IdentifierKind = "path"
	IdentifierURL     IdentifierKind = "url"
)

// ClassifyIdentifier determines how the caller named the repository:
// a numeric id, a filesystem path, or a URL (spec 4.1 step b,
// "resolves the identifier (numeric id, path, or URL-derived hash)").
func ClassifyIdentifier(identifier string) IdentifierKind {
	if _, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return IdentifierNumeric
	}
	if u, err := url.Parse(identifier); err == nil && u.Scheme != "" && u.Host != "" {
		return IdentifierURL
	}
	return IdentifierPath
}

// CanonicalKey normalizes an identifier into the stable string used as
// both the allow-list entry and the stores map key: numeric ids and
// paths pass through unchanged (paths are already stable), URLs are
// reduced to a content hash so "https://x/y.git" and "https://x/y"
// resolve to the same key regardless of formatting differences.
func CanonicalKey(identifier string) string {
	switch ClassifyIdentifier(identifier) {
	case IdentifierURL:
		return urlHash(identifier)
	default:
		return identifier
	}
}

func urlHash(rawURL string) string {
	normalized := strings.TrimSuffix(strings.TrimSuffix(rawURL, "/"), ".git")
	sum := sha256.Sum256([]byte(normalized))
	return "url:" + hex.EncodeToString(sum[:])[:16]
}
