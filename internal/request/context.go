// Package request derives, per incoming operation, which attribute
// mappings are in play and whether matching must be exact.
package request

import (
	"errors"
	"fmt"
	"slices"

	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/mapping"
)

// Operation names the three engine entry points.
type Operation int

const (
	OpSearch Operation = iota
	OpValidate
	OpAugment
)

func (o Operation) String() string {
	switch o {
	case OpSearch:
		return "search"
	case OpValidate:
		return "validate"
	case OpAugment:
		return "augment"
	default:
		return "unknown"
	}
}

// ErrNoRelevantMapping reports that the incoming reference's external
// type is not configured. Validate cannot proceed without it; Search
// treats it as an ordinary empty result.
var ErrNoRelevantMapping = errors.New("no attribute mapping for external type")

// Context is the ephemeral per-operation state: one is built per
// incoming call and discarded when the call returns. Nothing in it is
// shared between concurrent requests.
type Context struct {
	Operation  Operation
	Input      string
	ExactMatch bool
	Relevant   []mapping.Mapping
	MaxResults int
}

// ForValidate builds the context for validating an already-known
// reference: exactly one mapping is relevant, matching is exact.
func ForValidate(set *mapping.Set, externalType, value string) (*Context, error) {
	m, ok := set.GetByExternalType(externalType)
	if !ok || m.UseMainMapping {
		return nil, fmt.Errorf("%w: %q", ErrNoRelevantMapping, externalType)
	}
	return &Context{
		Operation:  OpValidate,
		Input:      value,
		ExactMatch: true,
		Relevant:   []mapping.Mapping{m},
		MaxResults: 2, // one expected; a second match flags ambiguity
	}, nil
}

// ForSearch builds the context for free-text search. A non-empty
// hierarchyScope restricts relevant mappings to the one external type
// the caller is browsing under; otherwise every mapping whose entity
// kind is requested participates.
func ForSearch(set *mapping.Set, input string, kinds []directory.ObjectKind, hierarchyScope string, exactOnly bool, maxResults int) *Context {
	var relevant []mapping.Mapping
	for _, m := range set.All() {
		if !slices.Contains(kinds, m.EntityKind) {
			continue
		}
		if hierarchyScope != "" && m.ExternalType != hierarchyScope {
			continue
		}
		relevant = append(relevant, m)
	}
	return &Context{
		Operation:  OpSearch,
		Input:      input,
		ExactMatch: exactOnly,
		Relevant:   relevant,
		MaxResults: maxResults,
	}
}
