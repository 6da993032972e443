// Package mapping holds the declarative attribute-mapping configuration:
// which external identity types correspond to which directory
// properties, and the validated set they live in.
package mapping

import (
	"github.com/isometry/directory-resolver/internal/directory"
)

// Mapping is one configured correspondence between an external identity
// type and a directory property.
type Mapping struct {
	// EntityKind is the directory object kind this mapping resolves.
	EntityKind directory.ObjectKind

	// DirectoryProperty is the searchable property queried for this
	// mapping. PropertyNotSet is invalid.
	DirectoryProperty directory.Property

	// ExternalType is the external identity type (claim type) this
	// mapping represents. May be empty for auxiliary or metadata-only
	// mappings.
	ExternalType string

	// ExternalTypeLabel is the human-readable name of ExternalType used
	// in display text. Falls back to ExternalType when empty.
	ExternalTypeLabel string

	// UseMainMapping marks an auxiliary lookup key: a match against
	// this mapping is re-expressed through the entity kind's primary
	// mapping before being surfaced.
	UseMainMapping bool

	// MetadataKey, when set, populates the named key of a resolved
	// entity's metadata with this mapping's property value.
	MetadataKey string

	// PrefixBypassToken short-circuits the backend entirely: input
	// starting with this token synthesizes a match from the remainder.
	PrefixBypassToken string

	// DisplayProperty supplies the human-readable text for matches,
	// falling back to the matched value when unset.
	DisplayProperty directory.Property

	// ExactMatchOnly forces equality predicates for this mapping even
	// when the request allows prefix matching.
	ExactMatchOnly bool

	// GuestDirectoryProperty is set only on the identity mapping. It
	// replaces DirectoryProperty when the matched user is a guest.
	GuestDirectoryProperty directory.Property
}

// IsIdentity reports whether this is the distinguished identity
// mapping. The identity mapping is the one that carries a guest
// property; ordinary mappings leave it unset.
func (m Mapping) IsIdentity() bool {
	return m.GuestDirectoryProperty != directory.PropertyNotSet
}

// SupportsWildcard reports whether the mapping's property may appear in
// a starts-with predicate. Only the unique-identifier property refuses
// wildcards: backends reject it in wildcard form.
func (m Mapping) SupportsWildcard() bool {
	return m.DirectoryProperty != directory.PropertyObjectGUID
}

// Label returns the display name for the mapping's external type.
func (m Mapping) Label() string {
	if m.ExternalTypeLabel != "" {
		return m.ExternalTypeLabel
	}
	return m.ExternalType
}

// PropertyFor returns the property that holds the identity value for a
// user of the given subtype. Non-identity mappings and group mappings
// always answer DirectoryProperty.
func (m Mapping) PropertyFor(subtype directory.Subtype) directory.Property {
	if m.IsIdentity() && subtype == directory.SubtypeGuest {
		return m.GuestDirectoryProperty
	}
	return m.DirectoryProperty
}
