package store

import (
	"regexp"
	"strings"
)

var (
	invalidCollectionChars = regexp.MustCompile(`[^a-z0-9_\-.]`)
	ipv4Pattern            = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// SanitizeCollectionName maps an arbitrary string onto the constrained
// collection-name alphabet. The mapping is deterministic: lowercase,
// "/" to "_", remaining invalid characters to "_", ".." and "__"
// collapsed, leading/trailing "_-." stripped, padded to at least 3
// characters, truncated to 63, and prefixed with "col_" when the result
// looks like an IPv4 address.
func SanitizeCollectionName(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = invalidCollectionChars.ReplaceAllString(s, "_")

	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	s = strings.Trim(s, "_-.")

	for len(s) < 3 {
		s += "_"
	}
	if len(s) > 63 {
		s = s[:63]
	}

	if ipv4Pattern.MatchString(s) {
		s = "col_" + s
	}
	return s
}

// DeriveCollectionName builds the collection name for a base and an
// embedding model. Changing the model yields a disjoint collection (and
// registry), so vectors from different models never mix.
func DeriveCollectionName(base, model string) string {
	return SanitizeCollectionName(base + "_" + model)
}
