// Package filter turns a request context plus the configured tenants
// into backend-native filter expressions and property selections, one
// value per tenant per object kind.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/mapping"
	"github.com/isometry/directory-resolver/internal/request"
)

// TenantQuery is the request-scoped query state for one tenant. It is
// built fresh for every request and handed through the executor by
// value; the tenant descriptor itself is never written to, so two
// concurrent requests can share a tenant without contaminating each
// other's filters.
type TenantQuery struct {
	Tenant *directory.Tenant
	User   directory.Query
	Group  directory.Query
}

// Build produces one TenantQuery per tenant. A kind with no usable
// clause for a tenant gets an empty filter, which the executor reads as
// "do not query this kind there".
func Build(rc *request.Context, tenants []*directory.Tenant) []TenantQuery {
	queries := make([]TenantQuery, 0, len(tenants))
	for _, t := range tenants {
		queries = append(queries, TenantQuery{
			Tenant: t,
			User:   buildKind(rc, t, directory.KindUser),
			Group:  buildKind(rc, t, directory.KindGroup),
		})
	}
	return queries
}

func buildKind(rc *request.Context, tenant *directory.Tenant, kind directory.ObjectKind) directory.Query {
	escaped := ldap.EscapeFilter(rc.Input)

	var clauses []string
	selected := map[string]struct{}{}

	for _, m := range rc.Relevant {
		if m.EntityKind != kind {
			continue
		}
		// Metadata-only mappings select their property but never filter.
		if m.ExternalType == "" && !m.UseMainMapping {
			if tenant.Supports(m.DirectoryProperty) {
				selected[m.DirectoryProperty.String()] = struct{}{}
			}
			continue
		}
		clause, props, ok := buildClause(rc, tenant, m, escaped)
		if !ok {
			continue
		}
		clauses = append(clauses, clause)
		for _, p := range props {
			selected[p.String()] = struct{}{}
		}
		if m.DisplayProperty != directory.PropertyNotSet && tenant.Supports(m.DisplayProperty) {
			selected[m.DisplayProperty.String()] = struct{}{}
		}
	}

	if len(clauses) == 0 {
		return directory.Query{Kind: kind}
	}

	filterExpr := clauses[0]
	if len(clauses) > 1 {
		filterExpr = "(|" + strings.Join(clauses, "") + ")"
	}

	for _, attr := range directory.ClassificationAttributes(kind) {
		selected[attr] = struct{}{}
	}
	attrs := make([]string, 0, len(selected))
	for attr := range selected {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	return directory.Query{Kind: kind, Filter: filterExpr, Select: attrs}
}

// buildClause renders one mapping's predicate. The returned ok is false
// when the mapping cannot participate for this tenant and request:
// unsupported property, or a unique-identifier mapping fed input that
// is not a well-formed identifier.
func buildClause(rc *request.Context, tenant *directory.Tenant, m mapping.Mapping, escaped string) (string, []directory.Property, bool) {
	if !tenant.Supports(m.DirectoryProperty) {
		return "", nil, false
	}

	if m.IsIdentity() {
		return buildIdentityClause(rc, tenant, m, escaped)
	}

	pred, ok := predicate(rc, m.DirectoryProperty, m.ExactMatchOnly, escaped)
	if !ok {
		return "", nil, false
	}
	return pred, []directory.Property{m.DirectoryProperty}, true
}

// buildIdentityClause emits the member/guest disjunction: members and
// guests store the logical identity in different properties, so the
// identity mapping matches either form, each constrained to its own
// subtype.
func buildIdentityClause(rc *request.Context, tenant *directory.Tenant, m mapping.Mapping, escaped string) (string, []directory.Property, bool) {
	var parts []string
	var props []directory.Property

	if pred, ok := predicate(rc, m.DirectoryProperty, m.ExactMatchOnly, escaped); ok {
		parts = append(parts, fmt.Sprintf("(&%s(%s=%s))",
			pred, directory.PropertyUserType, directory.SubtypeMember))
		props = append(props, m.DirectoryProperty)
	}
	if tenant.Supports(m.GuestDirectoryProperty) {
		if pred, ok := predicate(rc, m.GuestDirectoryProperty, m.ExactMatchOnly, escaped); ok {
			parts = append(parts, fmt.Sprintf("(&%s(%s=%s))",
				pred, directory.PropertyUserType, directory.SubtypeGuest))
			props = append(props, m.GuestDirectoryProperty)
		}
	}

	switch len(parts) {
	case 0:
		return "", nil, false
	case 1:
		return parts[0], props, true
	default:
		return "(|" + strings.Join(parts, "") + ")", props, true
	}
}

// predicate renders a single attribute comparison. The unique
// identifier is forced to equality and must parse as a well-formed
// identifier; other properties follow the request's exactness mode.
func predicate(rc *request.Context, p directory.Property, exactOnly bool, escaped string) (string, bool) {
	if p == directory.PropertyObjectGUID {
		if _, err := uuid.Parse(rc.Input); err != nil {
			return "", false
		}
		return fmt.Sprintf("(%s=%s)", p, escaped), true
	}
	if rc.ExactMatch || exactOnly {
		return fmt.Sprintf("(%s=%s)", p, escaped), true
	}
	return fmt.Sprintf("(%s=%s*)", p, escaped), true
}
