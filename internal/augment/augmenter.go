// Package augment resolves a known user's group memberships across all
// configured tenants for access-control augmentation.
package augment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/executor"
	"github.com/isometry/directory-resolver/internal/mapping"
)

// Resolver resolves group memberships for a known user reference.
type Resolver struct {
	set     *mapping.Set
	tenants []*directory.Tenant
	opts    executor.Options
}

// New builds a resolver over the request's mapping snapshot.
func New(set *mapping.Set, tenants []*directory.Tenant, opts executor.Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Resolver{set: set, tenants: tenants, opts: opts}
}

// Resolve returns the user's group values gathered from every tenant.
// All tenants' contributions are merged: first-match short-circuiting
// would make the result depend on tenant latency, which is the wrong
// behavior for multi-tenant deployments. Per-tenant failures contribute
// nothing, mirroring the search executor.
func (r *Resolver) Resolve(ctx context.Context, userRef string) ([]string, error) {
	identity, ok := r.set.Identity()
	if !ok {
		return nil, fmt.Errorf("augment: no identity mapping configured")
	}
	groupMapping, ok := r.set.GroupMapping()
	if !ok {
		return nil, fmt.Errorf("augment: no group mapping configured")
	}

	perTenant := make([][]string, len(r.tenants))
	var g errgroup.Group
	for i, tenant := range r.tenants {
		i, tenant := i, tenant
		g.Go(func() error {
			perTenant[i] = r.resolveTenant(ctx, tenant, identity, groupMapping, userRef)
			return nil
		})
	}
	_ = g.Wait()

	// Merge preserving tenant order, case-insensitively de-duplicated.
	seen := make(map[string]struct{})
	var merged []string
	for _, groups := range perTenant {
		for _, group := range groups {
			key := strings.ToLower(group)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, group)
		}
	}
	return merged, nil
}

func (r *Resolver) resolveTenant(ctx context.Context, tenant *directory.Tenant, identity, groupMapping mapping.Mapping, userRef string) []string {
	tctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	log := r.opts.Logger.With().Str("tenant", tenant.Name).Logger()

	user := r.locateUser(tctx, tenant, identity, userRef)
	if user == nil {
		log.Debug().Str("user", userRef).Msg("user not present in tenant, no groups contributed")
		return nil
	}

	var groups []string
	if groupMapping.DirectoryProperty == directory.PropertyObjectGUID {
		// The transitive lookup captures nested membership and is
		// preferred whenever the group value is the unique identifier.
		groups = r.transitiveGroups(tctx, tenant, user, log)
	} else {
		// Direct enumeration reads the configured property off each
		// group. Nested membership is not captured; that is the
		// documented trade-off of non-identifier group properties.
		groups = r.directGroups(tctx, tenant, user, groupMapping, log)
	}

	log.Debug().
		Int("groups", len(groups)).
		Dur("elapsed", time.Since(start)).
		Msg("tenant augmentation completed")
	return groups
}

// locateUser finds the user by the identity property, retrying as a
// guest when the member-form lookup misses: guests store the logical
// identity in a different property. A lookup over a property the
// tenant cannot evaluate is skipped, matching the filter builder.
func (r *Resolver) locateUser(ctx context.Context, tenant *directory.Tenant, identity mapping.Mapping, userRef string) *directory.Object {
	escaped := ldap.EscapeFilter(userRef)

	lookups := []struct {
		property directory.Property
		subtype  directory.Subtype
	}{
		{identity.DirectoryProperty, directory.SubtypeMember},
		{identity.GuestDirectoryProperty, directory.SubtypeGuest},
	}
	for _, lookup := range lookups {
		if !tenant.Supports(lookup.property) {
			continue
		}
		filterExpr := fmt.Sprintf("(&(%s=%s)(%s=%s))",
			lookup.property, escaped, directory.PropertyUserType, lookup.subtype)
		if user := r.queryOneUser(ctx, tenant, filterExpr); user != nil {
			return user
		}
	}
	return nil
}

func (r *Resolver) queryOneUser(ctx context.Context, tenant *directory.Tenant, filterExpr string) *directory.Object {
	q := directory.Query{
		Kind:     directory.KindUser,
		Filter:   filterExpr,
		Select:   directory.ClassificationAttributes(directory.KindUser),
		PageSize: 1,
	}
	pager, err := tenant.Backend.Query(ctx, q)
	if err != nil {
		r.opts.Logger.Warn().Err(err).Str("tenant", tenant.Name).Msg("user lookup failed")
		return nil
	}
	defer pager.Close()

	page, _, err := pager.Next(ctx)
	if err != nil || len(page) == 0 {
		return nil
	}
	return &page[0]
}

func (r *Resolver) transitiveGroups(ctx context.Context, tenant *directory.Tenant, user *directory.Object, log zerolog.Logger) []string {
	pager, err := tenant.Backend.TransitiveGroupsOf(ctx, user.DistinguishedName, r.opts.PageSize)
	if err != nil {
		log.Warn().Err(err).Msg("transitive membership lookup failed")
		return nil
	}
	defer pager.Close()

	var groups []string
	for {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("membership pagination cancelled")
			return groups
		}
		page, more, err := pager.Next(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("membership pagination failed, keeping partial results")
			return groups
		}
		groups = append(groups, page...)
		if !more {
			return groups
		}
	}
}

func (r *Resolver) directGroups(ctx context.Context, tenant *directory.Tenant, user *directory.Object, groupMapping mapping.Mapping, log zerolog.Logger) []string {
	selectAttrs := append(
		directory.ClassificationAttributes(directory.KindGroup),
		groupMapping.DirectoryProperty.String(),
	)
	pager, err := tenant.Backend.DirectGroupsOf(ctx, user.DistinguishedName, selectAttrs, r.opts.PageSize)
	if err != nil {
		log.Warn().Err(err).Msg("direct membership lookup failed")
		return nil
	}
	defer pager.Close()

	var groups []string
	for {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("membership pagination cancelled")
			return groups
		}
		page, more, err := pager.Next(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("membership pagination failed, keeping partial results")
			return groups
		}
		for _, group := range page {
			if tenant.SecurityGroupsOnly && !group.SecurityEnabled {
				continue
			}
			if value := group.Value(groupMapping.DirectoryProperty); value != "" {
				groups = append(groups, value)
			}
		}
		if !more {
			return groups
		}
	}
}
