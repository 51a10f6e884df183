// Package keepid implements document id validation, HTTP URI
// normalization (RFC 3986 §6.2.2), tag key/value validation, and
// casefolding rules shared by every keep store.
package keepid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	kerrors "github.com/hughpyle/keep/internal/errors"
)

const (
	// MaxIDLength is the maximum byte length of a document id.
	MaxIDLength = 1024
	// MaxTagKeyLength is the maximum byte length of a tag key.
	MaxTagKeyLength = 128
	// MaxTagValueLength is the maximum byte length of a tag value.
	MaxTagValueLength = 4096
	// SystemTagPrefix marks a tag key as system-managed.
	SystemTagPrefix = "_"
)

// InternalTags are system tags never user-writable even with the prefix
// stripped off by an operator (defense in depth over the prefix check).
var InternalTags = map[string]bool{
	"_updated_date": true,
	"_accessed_date": true,
	"_focus_part":   true,
}

var (
	tagKeyRE  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]{0,127}$`)
	idBlocked = regexp.MustCompile(`[\x00-\x1f\x7f` + "`" + `<>|;"'\\]`)
	partIDRE  = regexp.MustCompile(`@[pP]\{?\d+\}?`)
)

// IsSystemTag reports whether key is system-managed (`_`-prefixed).
func IsSystemTag(key string) bool {
	return strings.HasPrefix(key, SystemTagPrefix)
}

// IsPartID reports whether id addresses a part sub-entry (`{base}@p{N}`).
func IsPartID(id string) bool {
	return partIDRE.MatchString(id)
}

// IsVersionID reports whether id addresses a version sub-entry
// (`{base}@v{N}`).
func IsVersionID(id string) bool {
	return strings.Contains(id, "@v")
}

// IsHidden reports whether id is a sysdoc (begins with `.`).
func IsHidden(id string) bool {
	base := BaseID(id)
	return strings.HasPrefix(base, ".")
}

// BaseID strips any `@v{N}`/`@p{N}` suffix from id.
func BaseID(id string) string {
	if i := strings.Index(id, "@v"); i >= 0 {
		return id[:i]
	}
	if i := strings.Index(id, "@p"); i >= 0 {
		return id[:i]
	}
	return id
}

// VersionSuffixedID returns the addressable id for an archived version.
func VersionSuffixedID(id string, number int) string {
	return fmt.Sprintf("%s@v%d", id, number)
}

// PartSuffixedID returns the addressable id for a part.
func PartSuffixedID(id string, number int) string {
	return fmt.Sprintf("%s@p%d", id, number)
}

// ValidateTagKey validates a tag key against the allowed pattern and
// length, skipping the pattern check for system tags (`_`-prefixed keys
// are constructed internally, not user input).
func ValidateTagKey(key string) error {
	if key == "" {
		return kerrors.Invalid("tag key must not be empty", nil)
	}
	if len(key) > MaxTagKeyLength {
		return kerrors.Invalid(fmt.Sprintf("tag key %q exceeds %d bytes", key, MaxTagKeyLength), nil)
	}
	if IsSystemTag(key) {
		return nil
	}
	if !tagKeyRE.MatchString(key) {
		return kerrors.Invalid(fmt.Sprintf("tag key %q does not match [a-zA-Z_][a-zA-Z0-9_-]*", key), nil)
	}
	return nil
}

// ValidateTagValue validates a tag value's length.
func ValidateTagValue(value string) error {
	if len(value) > MaxTagValueLength {
		return kerrors.Invalid(fmt.Sprintf("tag value exceeds %d bytes", MaxTagValueLength), nil)
	}
	return nil
}

// ValidateID validates a document id: printable, bounded length, free of
// control/shell/quote characters, and never addressing a sub-entry
// directly (ids are base ids only; `@v`/`@p` forms are derived).
func ValidateID(id string) error {
	if id == "" {
		return kerrors.Invalid("id must not be empty", nil)
	}
	if len(id) > MaxIDLength {
		return kerrors.Invalid(fmt.Sprintf("id exceeds %d bytes", MaxIDLength), nil)
	}
	if idBlocked.MatchString(id) {
		return kerrors.Invalid(fmt.Sprintf("id %q contains a disallowed character", id), nil)
	}
	if IsVersionID(id) || IsPartID(id) {
		return kerrors.Invalid(fmt.Sprintf("id %q addresses a version or part sub-entry", id), nil)
	}
	return nil
}

// FilterNonSystemTags returns the subset of tags whose keys are not
// system-managed.
func FilterNonSystemTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if !IsSystemTag(k) {
			out[k] = v
		}
	}
	return out
}

// CasefoldTags casefolds tag keys (never values), skipping system tags.
// Used for the canonical DocumentStore copy so lookups are
// case-insensitive on key while values retain canonical case for
// display.
func CasefoldTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if IsSystemTag(k) {
			out[k] = v
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

// CasefoldTagsForIndex casefolds both keys and values, skipping system
// tags. Used for the VectorStore's metadata-prefilter copy.
func CasefoldTagsForIndex(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if IsSystemTag(k) {
			out[k] = v
			continue
		}
		out[strings.ToLower(k)] = strings.ToLower(v)
	}
	return out
}

// TagsEqual reports whether two non-system tag maps are identical.
func TagsEqual(a, b map[string]string) bool {
	na, nb := FilterNonSystemTags(a), FilterNonSystemTags(b)
	if len(na) != len(nb) {
		return false
	}
	for k, v := range na {
		if nb[k] != v {
			return false
		}
	}
	return true
}

// SortedTagKeys returns the non-system tag keys of tags, sorted.
func SortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		if !IsSystemTag(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ContentHash returns the full 64-hex SHA-256 of content and its short
// (last 10 hex) form.
func ContentHash(content string) (short string, full string) {
	sum := sha256.Sum256([]byte(content))
	full = hex.EncodeToString(sum[:])
	if len(full) > 10 {
		short = full[len(full)-10:]
	} else {
		short = full
	}
	return short, full
}
