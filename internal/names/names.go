// Package names implements the catalog naming rules of §3: hierarchical,
// slash-delimited, case-sensitive identifiers, plus the derived prefix and
// JSON-pointer forms used by storage mappings, snapshot indices, and role
// grants. Grounded on crates/models/src/names/references.rs's TOKEN /
// CATALOG_NAME_RE / CATALOG_PREFIX_RE regex family.
package names

import (
	"fmt"
	"regexp"
	"strings"
)

// token is a single path component: Unicode letters, digits, and a
// restricted punctuation set.
const token = `[\p{L}\p{N}\-_.]+`

var (
	catalogNameRe   = regexp.MustCompile(`^` + token + `(/` + token + `)*$`)
	catalogPrefixRe = regexp.MustCompile(`^(` + token + `/)*$`)
	jsonPointerRe   = regexp.MustCompile(`^(/([^/~]|(~[01]))+)*$`)
)

// Catalog is a validated hierarchical catalog name, e.g. "acmeCo/orders".
type Catalog string

// Validate reports whether c is a well-formed catalog name.
func (c Catalog) Validate() error {
	if !catalogNameRe.MatchString(string(c)) {
		return fmt.Errorf("invalid catalog name %q: must be one or more /-separated tokens of letters, digits, -, _, .", c)
	}
	return nil
}

// String implements fmt.Stringer.
func (c Catalog) String() string { return string(c) }

// Prefix is a catalog-name prefix, always ending in '/', used to key
// storage mappings, role grants, and snapshot indices (§3, §4.2, §4.3).
type Prefix string

// Validate reports whether p is a well-formed catalog prefix.
func (p Prefix) Validate() error {
	if p != "" && !strings.HasSuffix(string(p), "/") {
		return fmt.Errorf("invalid catalog prefix %q: must end in '/'", p)
	}
	if !catalogPrefixRe.MatchString(string(p)) {
		return fmt.Errorf("invalid catalog prefix %q", p)
	}
	return nil
}

// IsPrefixOf reports whether p is a path-component prefix of name: either
// name itself under p, or p == "" (the root prefix, matching everything).
func (p Prefix) IsPrefixOf(name Catalog) bool {
	return p == "" || strings.HasPrefix(string(name), string(p))
}

// LongestMatching returns the longest prefix in prefixes (assumed sorted
// ascending) that is a prefix of name, and whether one was found. Used by
// the storage-mapping resolver (§4.2) and the snapshot's authorization
// indices (§4.3), both of which rely on longest-prefix-match semantics
// over lexicographically sorted vectors.
func LongestMatching(prefixes []Prefix, name Catalog) (Prefix, bool) {
	var best Prefix
	var found bool
	for _, p := range prefixes {
		if p.IsPrefixOf(name) && (!found || len(p) > len(best)) {
			best, found = p, true
		}
	}
	return best, found
}

// JSONPointer is a validated RFC 6901 JSON pointer, used to scope
// validation errors (§7) to the offending location within a draft.
type JSONPointer string

// Validate reports whether p is a well-formed JSON pointer.
func (p JSONPointer) Validate() error {
	if !jsonPointerRe.MatchString(string(p)) {
		return fmt.Errorf("invalid JSON pointer %q", p)
	}
	return nil
}

// Tail returns the final token of a JSON pointer, used as the default
// field name for a canonical projection (§4.4 step 3).
func (p JSONPointer) Tail() string {
	parts := strings.Split(string(p), "/")
	if len(parts) == 0 {
		return ""
	}
	tail := parts[len(parts)-1]
	tail = strings.ReplaceAll(tail, "~1", "/")
	tail = strings.ReplaceAll(tail, "~0", "~")
	return tail
}

// IsVariableLengthArraySuffix reports whether the pointer ends in the
// "/-" append locator, which is never projected (§4.4 step 3).
func (p JSONPointer) IsVariableLengthArraySuffix() bool {
	return strings.HasSuffix(string(p), "/-")
}

// Scope builds the flow://...#/json/pointer URL used to tag validation
// errors to a location within the draft (§7).
func Scope(catalogName Catalog, pointer JSONPointer) string {
	return fmt.Sprintf("flow://%s#%s", catalogName, pointer)
}

// UnauthorizedScope builds the flow://unauthorized/{name} pseudo-scope
// emitted alongside PermissionDenied errors (§7).
func UnauthorizedScope(catalogName Catalog) string {
	return fmt.Sprintf("flow://unauthorized/%s", catalogName)
}

// SpecType enumerates the four catalog entity kinds (§3).
type SpecType string

const (
	SpecTypeCapture         SpecType = "capture"
	SpecTypeCollection      SpecType = "collection"
	SpecTypeMaterialization SpecType = "materialization"
	SpecTypeTest            SpecType = "test"
)

// Valid reports whether s is one of the four known kinds.
func (s SpecType) Valid() bool {
	switch s {
	case SpecTypeCapture, SpecTypeCollection, SpecTypeMaterialization, SpecTypeTest:
		return true
	default:
		return false
	}
}
