package mapping

import (
	"fmt"
	"slices"

	"github.com/isometry/directory-resolver/internal/directory"
)

// Set is a validated collection of attribute mappings, iterated in
// insertion order. Every mutation is checked against the full rule set
// on a scratch copy first, so a rejected mutation leaves the set
// untouched.
type Set struct {
	mappings []Mapping
}

// NewSet builds a set from the given mappings, validating them as a
// whole. Order is preserved.
func NewSet(mappings []Mapping) (*Set, error) {
	s := &Set{mappings: slices.Clone(mappings)}
	if err := validateAll(s.mappings); err != nil {
		return nil, err
	}
	return s, nil
}

// Add appends a mapping after validating the resulting set.
func (s *Set) Add(m Mapping) error {
	next := append(slices.Clone(s.mappings), m)
	if err := validateAll(next); err != nil {
		return err
	}
	s.mappings = next
	return nil
}

// Remove deletes the mapping for the given external type. Removing the
// identity mapping is refused.
func (s *Set) Remove(externalType string) error {
	idx := s.indexOf(externalType)
	if idx < 0 {
		return fmt.Errorf("attribute mapping: no mapping for external type %q", externalType)
	}
	if s.mappings[idx].IsIdentity() {
		return fmt.Errorf("attribute mapping: the identity mapping (%q) cannot be removed", externalType)
	}
	s.mappings = append(s.mappings[:idx:idx], s.mappings[idx+1:]...)
	return nil
}

// Update replaces the mapping identified by oldExternalType. The change
// is simulated against a scratch copy of the whole set before
// committing, so a cross-field violation anywhere in the set rejects
// the update atomically.
func (s *Set) Update(oldExternalType string, m Mapping) error {
	idx := s.indexOf(oldExternalType)
	if idx < 0 {
		return fmt.Errorf("attribute mapping: no mapping for external type %q", oldExternalType)
	}
	next := slices.Clone(s.mappings)
	next[idx] = m
	if err := validateAll(next); err != nil {
		return err
	}
	s.mappings = next
	return nil
}

// GetByExternalType returns the mapping configured for the external
// type, if any.
func (s *Set) GetByExternalType(externalType string) (Mapping, bool) {
	if externalType == "" {
		return Mapping{}, false
	}
	if idx := s.indexOf(externalType); idx >= 0 {
		return s.mappings[idx], true
	}
	return Mapping{}, false
}

// All returns the mappings in insertion order. The slice is a copy.
func (s *Set) All() []Mapping {
	return slices.Clone(s.mappings)
}

// Len returns the number of mappings in the set.
func (s *Set) Len() int { return len(s.mappings) }

// Identity returns the distinguished identity mapping, if configured.
func (s *Set) Identity() (Mapping, bool) {
	for _, m := range s.mappings {
		if m.IsIdentity() {
			return m, true
		}
	}
	return Mapping{}, false
}

// GroupMapping returns the sole primary group mapping, if configured.
func (s *Set) GroupMapping() (Mapping, bool) {
	for _, m := range s.mappings {
		if m.EntityKind == directory.KindGroup && !m.UseMainMapping {
			return m, true
		}
	}
	return Mapping{}, false
}

// Primary returns the entity kind's primary mapping: the identity
// mapping for users, the sole group mapping for groups.
func (s *Set) Primary(kind directory.ObjectKind) (Mapping, bool) {
	if kind == directory.KindUser {
		return s.Identity()
	}
	return s.GroupMapping()
}

func (s *Set) indexOf(externalType string) int {
	for i, m := range s.mappings {
		if m.ExternalType != "" && m.ExternalType == externalType {
			return i
		}
	}
	return -1
}

// validateAll checks every configured rule over the whole candidate
// slice. Errors name the violated rule so configuration mistakes are
// actionable.
func validateAll(mappings []Mapping) error {
	var groupPrimaries, identities int

	for i, m := range mappings {
		if m.DirectoryProperty == directory.PropertyNotSet {
			return fmt.Errorf("attribute mapping %d: directory property must be set", i)
		}
		if !m.DirectoryProperty.ValidFor(m.EntityKind) {
			return fmt.Errorf("attribute mapping %d: property %s is not readable on %s objects",
				i, m.DirectoryProperty, m.EntityKind)
		}
		if m.DisplayProperty != directory.PropertyNotSet && !m.DisplayProperty.ValidFor(m.EntityKind) {
			return fmt.Errorf("attribute mapping %d: display property %s is not readable on %s objects",
				i, m.DisplayProperty, m.EntityKind)
		}
		if m.UseMainMapping && m.ExternalType != "" {
			return fmt.Errorf("attribute mapping %d: a use-main-mapping entry cannot declare external type %q",
				i, m.ExternalType)
		}
		if !m.UseMainMapping && m.ExternalType == "" && m.MetadataKey == "" {
			return fmt.Errorf("attribute mapping %d: either an external type or a metadata key is required", i)
		}
		if m.IsIdentity() {
			identities++
			if m.EntityKind != directory.KindUser {
				return fmt.Errorf("attribute mapping %d: the identity mapping must have entity kind user", i)
			}
			if !m.GuestDirectoryProperty.ValidFor(directory.KindUser) {
				return fmt.Errorf("attribute mapping %d: guest property %s is not readable on user objects",
					i, m.GuestDirectoryProperty)
			}
		}
		if m.EntityKind == directory.KindGroup && !m.UseMainMapping {
			groupPrimaries++
		}

		for j := 0; j < i; j++ {
			prev := mappings[j]
			if m.MetadataKey != "" && m.MetadataKey == prev.MetadataKey && m.EntityKind == prev.EntityKind {
				return fmt.Errorf("attribute mapping %d: duplicate metadata key %q for %s objects",
					i, m.MetadataKey, m.EntityKind)
			}
			if m.ExternalType != "" && m.ExternalType == prev.ExternalType {
				return fmt.Errorf("attribute mapping %d: duplicate external type %q", i, m.ExternalType)
			}
			if m.PrefixBypassToken != "" && m.PrefixBypassToken == prev.PrefixBypassToken {
				return fmt.Errorf("attribute mapping %d: duplicate prefix bypass token %q", i, m.PrefixBypassToken)
			}
			if m.DirectoryProperty == prev.DirectoryProperty && m.EntityKind == prev.EntityKind {
				return fmt.Errorf("attribute mapping %d: property %s is already mapped for %s objects",
					i, m.DirectoryProperty, m.EntityKind)
			}
		}
	}

	if groupPrimaries > 1 {
		return fmt.Errorf("attribute mapping: only one external type can represent a group (found %d)", groupPrimaries)
	}
	if identities > 1 {
		return fmt.Errorf("attribute mapping: only one identity mapping may exist (found %d)", identities)
	}
	return nil
}
