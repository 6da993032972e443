package directory

import "context"

// Query is one filtered search over a single object kind. An empty
// Filter means the kind is not queried at all.
type Query struct {
	Kind     ObjectKind
	Filter   string
	Select   []string
	PageSize int
}

// Pager yields directory objects one backend page at a time. Next
// returns the next page and whether further pages remain; callers stop
// paging by simply not calling Next again, so cancellation between
// pages is prompt. Close releases any backend resources held open
// across pages.
type Pager interface {
	Next(ctx context.Context) ([]Object, bool, error)
	Close() error
}

// StringPager is a Pager over bare identifier values, used by the
// transitive membership lookup.
type StringPager interface {
	Next(ctx context.Context) ([]string, bool, error)
	Close() error
}

// BatchResult is the outcome of one sub-request of a batched query.
// Err carries the sub-request's own status; one failing sub-request
// does not invalidate its siblings.
type BatchResult struct {
	Query Query
	Pager Pager
	Err   error
}

// Backend is the wire-protocol collaborator for one tenant. The engine
// never constructs filters a conforming backend cannot evaluate:
// AND/OR composition, equality, and trailing-wildcard predicates over
// the attribute names in propertyNames.
type Backend interface {
	// Query starts a paginated search for one object kind.
	Query(ctx context.Context, q Query) (Pager, error)

	// QueryBatch issues several sub-queries in one round trip and
	// reports per-sub-request status.
	QueryBatch(ctx context.Context, qs []Query) ([]BatchResult, error)

	// TransitiveGroupsOf returns the unique identifiers of every group
	// the user belongs to, including nested memberships.
	TransitiveGroupsOf(ctx context.Context, userDN string, pageSize int) (StringPager, error)

	// DirectGroupsOf enumerates the groups the user is a direct member
	// of. Nested membership is not captured.
	DirectGroupsOf(ctx context.Context, userDN string, selectAttrs []string, pageSize int) (Pager, error)
}

// Tenant describes one configured directory backend connection. The
// descriptor is immutable after construction: per-request filter and
// select state travels in request-scoped values built by the filter
// builder, never on the tenant itself, so concurrent requests cannot
// observe each other's scratch state.
type Tenant struct {
	Name    string
	Backend Backend

	// User-subtype exclusions applied while paging results.
	ExcludeGuests  bool
	ExcludeMembers bool

	// SecurityGroupsOnly drops distribution groups from group pages.
	SecurityGroupsOnly bool

	// Unsupported lists properties this tenant's directory cannot
	// evaluate. Mappings over these contribute no clause for this
	// tenant only.
	Unsupported []Property
}

// Supports reports whether the tenant can evaluate the property.
func (t *Tenant) Supports(p Property) bool {
	for _, u := range t.Unsupported {
		if u == p {
			return false
		}
	}
	return true
}
