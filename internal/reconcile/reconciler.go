// Package reconcile matches raw directory objects back to attribute
// mappings and produces de-duplicated, display-ready entities.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/mapping"
	"github.com/isometry/directory-resolver/internal/request"
)

// ResolvedEntity is the engine's output record for one matched
// directory object.
type ResolvedEntity struct {
	// Mapping is the effective mapping: the matched mapping itself, or
	// the entity kind's primary mapping when the match came through a
	// use-main-mapping auxiliary key.
	Mapping mapping.Mapping

	// Value is the external-type value to surface.
	Value string

	// Object is the raw directory object the match came from.
	Object directory.Object

	// MatchedValue is the directory property value that satisfied the
	// request's exactness test.
	MatchedValue string

	// Metadata carries extra data keyed by the metadata-bearing
	// mappings whose entity kind matches the object.
	Metadata map[string]string

	// DisplayText is the human-readable representation.
	DisplayText string
}

// Reconciler turns raw objects into resolved entities for one request.
// De-duplication state is request-local; construct one per operation.
type Reconciler struct {
	set           *mapping.Set
	displayPrefix string
	seen          map[dedupeKey]struct{}
}

type dedupeKey struct {
	kind         directory.ObjectKind
	externalType string
	value        string
}

// New builds a reconciler over the request's mapping snapshot.
func New(set *mapping.Set, displayPrefix string) *Reconciler {
	return &Reconciler{
		set:           set,
		displayPrefix: displayPrefix,
		seen:          make(map[dedupeKey]struct{}),
	}
}

// Reconcile evaluates every (object, relevant mapping) pair. The
// exactness re-check matters: a single OR'd backend filter can return
// objects that satisfied a different disjunct than the mapping being
// evaluated, and those must not count as matches for it.
func (r *Reconciler) Reconcile(rc *request.Context, objects []directory.Object) []ResolvedEntity {
	var entities []ResolvedEntity
	for i := range objects {
		obj := &objects[i]
		for _, m := range rc.Relevant {
			if m.EntityKind != obj.Kind {
				continue
			}
			// Metadata-only mappings never produce entities themselves.
			if m.ExternalType == "" && !m.UseMainMapping {
				continue
			}
			if entity, ok := r.resolveOne(rc, m, obj); ok {
				entities = append(entities, entity)
			}
		}
	}
	return entities
}

func (r *Reconciler) resolveOne(rc *request.Context, m mapping.Mapping, obj *directory.Object) (ResolvedEntity, bool) {
	matched := obj.Value(m.PropertyFor(obj.Subtype))
	if matched == "" || !r.matches(rc, m, matched) {
		return ResolvedEntity{}, false
	}

	effective, value, ok := r.effectiveMapping(m, obj, matched)
	if !ok {
		return ResolvedEntity{}, false
	}

	key := dedupeKey{
		kind:         effective.EntityKind,
		externalType: effective.ExternalType,
		value:        strings.ToLower(value),
	}
	if _, dup := r.seen[key]; dup {
		return ResolvedEntity{}, false
	}
	r.seen[key] = struct{}{}

	return ResolvedEntity{
		Mapping:      effective,
		Value:        value,
		Object:       *obj,
		MatchedValue: matched,
		Metadata:     r.collectMetadata(obj),
		DisplayText:  r.displayText(effective, obj, value),
	}, true
}

// Synthesize builds an entity with no backing directory object. The
// prefix-bypass path and the resolve-raw-input fallback both surface
// values the backend was never asked about.
func Synthesize(m mapping.Mapping, value, displayPrefix string) ResolvedEntity {
	display := displayPrefix + value
	if !m.IsIdentity() {
		display = fmt.Sprintf("%s(%s) %s", displayPrefix, m.Label(), value)
	}
	return ResolvedEntity{
		Mapping:      m,
		Value:        value,
		MatchedValue: value,
		DisplayText:  display,
	}
}

// matches applies the request's exactness mode: equality under exact
// matching, case-insensitive prefix otherwise. A mapping that demands
// exact matching keeps equality even in a prefix-mode request.
func (r *Reconciler) matches(rc *request.Context, m mapping.Mapping, value string) bool {
	if rc.ExactMatch || m.ExactMatchOnly || !m.SupportsWildcard() {
		return strings.EqualFold(value, rc.Input)
	}
	return strings.HasPrefix(strings.ToLower(value), strings.ToLower(rc.Input))
}

// effectiveMapping resolves use-main-mapping indirection: an auxiliary
// match is re-expressed through the entity kind's primary mapping, with
// the emitted value re-read from the primary's own property. An empty
// re-read skips the match entirely; better to omit than to emit an
// entity with an empty value.
func (r *Reconciler) effectiveMapping(m mapping.Mapping, obj *directory.Object, matched string) (mapping.Mapping, string, bool) {
	if !m.UseMainMapping {
		return m, matched, true
	}
	primary, ok := r.set.Primary(m.EntityKind)
	if !ok {
		return mapping.Mapping{}, "", false
	}
	value := obj.Value(primary.PropertyFor(obj.Subtype))
	if value == "" {
		return mapping.Mapping{}, "", false
	}
	return primary, value, true
}

func (r *Reconciler) collectMetadata(obj *directory.Object) map[string]string {
	var metadata map[string]string
	for _, m := range r.set.All() {
		if m.MetadataKey == "" || m.EntityKind != obj.Kind {
			continue
		}
		if value := obj.Value(m.DirectoryProperty); value != "" {
			if metadata == nil {
				metadata = make(map[string]string)
			}
			metadata[m.MetadataKey] = value
		}
	}
	return metadata
}

// displayText renders the identity mapping as the bare value; every
// other mapping is labelled with its external type's display name and
// shows the display property when one is configured.
func (r *Reconciler) displayText(m mapping.Mapping, obj *directory.Object, value string) string {
	if m.IsIdentity() {
		return r.displayPrefix + value
	}
	display := value
	if m.DisplayProperty != directory.PropertyNotSet {
		if v := obj.Value(m.DisplayProperty); v != "" {
			display = v
		}
	}
	return fmt.Sprintf("%s(%s) %s", r.displayPrefix, m.Label(), display)
}
