// Package resolver resolves human search input and opaque external
// identity references into canonical user and group records held in
// one or more directory tenants, and resolves a known user's group
// memberships for access-control augmentation.
//
// The engine exposes the three operations a host identity-provider
// framework calls into: Search (free text, many possible matches),
// Validate (exactly one match expected for a known reference) and
// Augment (group memberships for a known user). Attribute mappings
// decide which external identity types correspond to which directory
// properties; tenants are queried concurrently and individual tenant
// failures never fail the operation.
package resolver

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/isometry/directory-resolver/internal/augment"
	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/executor"
	"github.com/isometry/directory-resolver/internal/filter"
	"github.com/isometry/directory-resolver/internal/mapping"
	"github.com/isometry/directory-resolver/internal/reconcile"
	"github.com/isometry/directory-resolver/internal/request"
)

// ErrNotFound reports that Validate produced no definite single match.
// Zero matches and ambiguous matches both surface as ErrNotFound; an
// ambiguity is additionally logged, never silently narrowed to one.
var ErrNotFound = errors.New("resolver: no matching entity")

// Re-exported collaborator types, so hosts wire the engine without
// reaching into internal packages.
type (
	ResolvedEntity = reconcile.ResolvedEntity
	EntityKind     = directory.ObjectKind
	Tenant         = directory.Tenant
	Backend        = directory.Backend
	Mapping        = mapping.Mapping
	MappingSet     = mapping.Set
	Provider       = mapping.Provider
)

const (
	KindUser  = directory.KindUser
	KindGroup = directory.KindGroup
)

// Flags are the global configuration switches governing every request.
type Flags struct {
	// FilterExactMatchOnly forces equality predicates for Search.
	FilterExactMatchOnly bool

	// AlwaysResolveUserInput synthesizes an identity-mapping entity
	// from the raw input when Search finds no directory match.
	AlwaysResolveUserInput bool

	// MaxResults caps results per tenant when the caller passes none.
	MaxResults int

	// Timeout bounds each tenant's unit of work.
	Timeout time.Duration

	// DisplayPrefix is prepended to every entity's display text.
	DisplayPrefix string

	// PageSize and the retry settings tune the query executor.
	PageSize       int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// Engine is the directory resolution and augmentation engine. It is
// safe for concurrent use: every request captures its own mapping
// snapshot and builds its own query state.
type Engine struct {
	provider *mapping.Provider
	tenants  []*directory.Tenant
	flags    Flags
	log      zerolog.Logger
}

// New assembles an engine over a mapping provider and tenant list.
func New(provider *mapping.Provider, tenants []*directory.Tenant, flags Flags, log zerolog.Logger) *Engine {
	return &Engine{provider: provider, tenants: tenants, flags: flags, log: log}
}

// Search resolves free-text input into display-ready entities across
// every tenant. kinds restricts the object kinds searched;
// hierarchyScope, when non-empty, restricts matching to the one
// external type being browsed; maxCount overrides the configured
// per-tenant result cap when positive.
func (e *Engine) Search(ctx context.Context, input string, kinds []EntityKind, hierarchyScope string, maxCount int) ([]ResolvedEntity, error) {
	set, version := e.provider.Snapshot()
	maxResults := e.flags.MaxResults
	if maxCount > 0 {
		maxResults = maxCount
	}

	rc := request.ForSearch(set, input, kinds, hierarchyScope, e.flags.FilterExactMatchOnly, maxResults)
	e.log.Debug().
		Str("input", input).
		Uint64("config_version", version).
		Int("relevant_mappings", len(rc.Relevant)).
		Msg("search request")

	if entities, bypassed := e.prefixBypass(rc); bypassed {
		return entities, nil
	}

	objects := executor.Execute(ctx, filter.Build(rc, e.tenants), e.executorOptions(rc.MaxResults))
	entities := reconcile.New(set, e.flags.DisplayPrefix).Reconcile(rc, objects)

	// The identity fallback only makes sense when users were asked for.
	if len(entities) == 0 && e.flags.AlwaysResolveUserInput && input != "" &&
		slices.Contains(kinds, KindUser) {
		if identity, ok := set.Identity(); ok {
			entities = append(entities, reconcile.Synthesize(identity, input, e.flags.DisplayPrefix))
		}
	}
	if len(entities) > maxResults {
		entities = entities[:maxResults]
	}
	return entities, nil
}

// Validate resolves an already-known external reference to exactly one
// entity. A reference whose external type is not configured, that
// matches nothing, or that matches ambiguously returns ErrNotFound.
func (e *Engine) Validate(ctx context.Context, externalType, value string) (*ResolvedEntity, error) {
	set, _ := e.provider.Snapshot()

	rc, err := request.ForValidate(set, externalType, value)
	if err != nil {
		e.log.Debug().Str("external_type", externalType).Msg("external type not configured")
		return nil, ErrNotFound
	}

	if entities, bypassed := e.prefixBypass(rc); bypassed {
		if len(entities) != 1 {
			return nil, ErrNotFound
		}
		return &entities[0], nil
	}

	objects := executor.Execute(ctx, filter.Build(rc, e.tenants), e.executorOptions(rc.MaxResults))
	entities := reconcile.New(set, e.flags.DisplayPrefix).Reconcile(rc, objects)

	switch len(entities) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &entities[0], nil
	default:
		e.log.Warn().
			Str("external_type", externalType).
			Str("value", value).
			Int("matches", len(entities)).
			Msg("validation matched more than one entity")
		return nil, ErrNotFound
	}
}

// Augment returns the group values the user belongs to, merged across
// all tenants.
func (e *Engine) Augment(ctx context.Context, userRef string) ([]string, error) {
	set, _ := e.provider.Snapshot()
	return augment.New(set, e.tenants, e.executorOptions(e.flags.MaxResults)).Resolve(ctx, userRef)
}

// prefixBypass short-circuits the backend when the input carries a
// mapping's bypass token: the remainder is surfaced as the match
// directly. An empty remainder yields zero entities; either way no
// backend query is issued.
func (e *Engine) prefixBypass(rc *request.Context) ([]ResolvedEntity, bool) {
	for _, m := range rc.Relevant {
		if m.PrefixBypassToken == "" || !strings.HasPrefix(rc.Input, m.PrefixBypassToken) {
			continue
		}
		remainder := strings.TrimPrefix(rc.Input, m.PrefixBypassToken)
		if remainder == "" {
			return nil, true
		}
		return []ResolvedEntity{reconcile.Synthesize(m, remainder, e.flags.DisplayPrefix)}, true
	}
	return nil, false
}

// executorOptions carries the request's per-tenant result cap, not the
// configured default: callers may raise the cap per call.
func (e *Engine) executorOptions(maxResults int) executor.Options {
	return executor.Options{
		Timeout:        e.flags.Timeout,
		MaxResults:     maxResults,
		PageSize:       e.flags.PageSize,
		MaxRetries:     e.flags.MaxRetries,
		InitialBackoff: e.flags.InitialBackoff,
		MaxBackoff:     e.flags.MaxBackoff,
		BackoffFactor:  e.flags.BackoffFactor,
		Logger:         e.log,
	}
}
