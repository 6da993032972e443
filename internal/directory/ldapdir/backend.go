package ldapdir

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/isometry/directory-resolver/internal/directory"
)

// Matching-rule-in-chain OID: expands nested group membership on the
// server side in a single search.
const transitiveMemberFilter = "(member:1.2.840.113556.1.4.1941:=%s)"

const defaultPageSize = 100

// Backend implements directory.Backend over LDAP.
type Backend struct {
	cfg  *Config
	pool *pool
	log  zerolog.Logger
}

// New validates the configuration and builds a backend. Connections are
// dialed lazily on first use.
func New(cfg Config, log zerolog.Logger) (*Backend, error) {
	c := cfg.withDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("ldap backend config: %w", err)
	}
	return &Backend{cfg: c, pool: newPool(c), log: log}, nil
}

// Close shuts the connection pool down.
func (b *Backend) Close() error {
	return b.pool.close()
}

// Query starts a paged search for one object kind.
func (b *Backend) Query(ctx context.Context, q directory.Query) (directory.Pager, error) {
	pc, err := b.pool.get(ctx)
	if err != nil {
		return nil, err
	}
	sc := &sharedConn{pc: pc, refs: 1}
	return b.newPager(sc, q), nil
}

// QueryBatch runs several sub-queries over one pooled connection, the
// closest LDAP analogue to a batched round trip. Each sub-request
// carries its own status; the connection returns to the pool once every
// sub-request's pager is closed.
func (b *Backend) QueryBatch(ctx context.Context, qs []directory.Query) ([]directory.BatchResult, error) {
	pc, err := b.pool.get(ctx)
	if err != nil {
		return nil, err
	}
	sc := &sharedConn{pc: pc, refs: int32(len(qs))}

	results := make([]directory.BatchResult, 0, len(qs))
	for _, q := range qs {
		results = append(results, directory.BatchResult{
			Query: q,
			Pager: b.newPager(sc, q),
		})
	}
	return results, nil
}

// TransitiveGroupsOf resolves nested group membership server-side and
// yields the groups' unique identifiers.
func (b *Backend) TransitiveGroupsOf(ctx context.Context, userDN string, pageSize int) (directory.StringPager, error) {
	q := directory.Query{
		Kind:     directory.KindGroup,
		Filter:   fmt.Sprintf(transitiveMemberFilter, ldap.EscapeFilter(userDN)),
		Select:   []string{"objectGUID"},
		PageSize: pageSize,
	}
	pager, err := b.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return &guidPager{inner: pager}, nil
}

// DirectGroupsOf enumerates groups listing the user as a direct member.
func (b *Backend) DirectGroupsOf(ctx context.Context, userDN string, selectAttrs []string, pageSize int) (directory.Pager, error) {
	return b.Query(ctx, directory.Query{
		Kind:     directory.KindGroup,
		Filter:   fmt.Sprintf("(member=%s)", ldap.EscapeFilter(userDN)),
		Select:   selectAttrs,
		PageSize: pageSize,
	})
}

func (b *Backend) newPager(sc *sharedConn, q directory.Query) *entryPager {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &entryPager{
		backend: b,
		conn:    sc,
		kind:    q.Kind,
		filter:  kindFilter(q.Kind, rewriteGUIDPredicates(q.Filter)),
		attrs:   q.Select,
		paging:  ldap.NewControlPaging(uint32(pageSize)),
	}
}

// kindFilter scopes the request filter to the object classes of the
// kind being searched.
func kindFilter(kind directory.ObjectKind, filter string) string {
	switch kind {
	case directory.KindUser:
		return fmt.Sprintf("(&(objectClass=user)(objectCategory=person)%s)", filter)
	case directory.KindGroup:
		return fmt.Sprintf("(&(objectClass=group)%s)", filter)
	default:
		return filter
	}
}

var guidPredicateRegex = regexp.MustCompile(`\(objectGUID=([0-9a-fA-F-]{36})\)`)

// rewriteGUIDPredicates converts textual GUID equality predicates into
// the binary comparison form the server evaluates. The filter builder
// guarantees GUID predicates are equality-only over well-formed GUIDs;
// a malformed value is left untouched and simply matches nothing.
func rewriteGUIDPredicates(filter string) string {
	return guidPredicateRegex.ReplaceAllStringFunc(filter, func(match string) string {
		guid := guidPredicateRegex.FindStringSubmatch(match)[1]
		raw, err := guidStringToBytes(guid)
		if err != nil {
			return match
		}
		return fmt.Sprintf("(objectGUID=%s)", ldap.EscapeFilter(string(raw)))
	})
}

// sharedConn lets several pagers borrow one pooled connection; it goes
// back to the pool when the last pager closes. A protocol failure marks
// the connection bad so it is discarded instead of recycled.
type sharedConn struct {
	pc   *pooledConn
	refs int32
	bad  int32
}

func (s *sharedConn) markBad() {
	atomic.StoreInt32(&s.bad, 1)
}

func (s *sharedConn) done() {
	if atomic.AddInt32(&s.refs, -1) != 0 {
		return
	}
	if atomic.LoadInt32(&s.bad) != 0 {
		s.pc.discard()
		return
	}
	s.pc.release()
}

// entryPager pages through one search using the paging control cookie.
type entryPager struct {
	backend *Backend
	conn    *sharedConn
	kind    directory.ObjectKind
	filter  string
	attrs   []string
	paging  *ldap.ControlPaging
	done    bool
	closed  bool
}

func (p *entryPager) Next(ctx context.Context) ([]directory.Object, bool, error) {
	if p.done || p.closed {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	req := ldap.NewSearchRequest(
		p.backend.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, int(p.backend.cfg.Timeout.Seconds()), false,
		p.filter,
		p.attrs,
		[]ldap.Control{p.paging},
	)

	result, err := p.conn.pc.conn.Search(req)
	if err != nil {
		p.done = true
		p.conn.markBad()
		return nil, false, categorize("search", err)
	}

	page := make([]directory.Object, 0, len(result.Entries))
	for _, entry := range result.Entries {
		page = append(page, entryToObject(entry, p.kind))
	}

	more := false
	if ctrl, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok && len(ctrl.Cookie) > 0 {
		p.paging.SetCookie(ctrl.Cookie)
		more = true
	}
	if !more {
		p.done = true
	}

	p.backend.log.Trace().
		Stringer("kind", p.kind).
		Int("entries", len(page)).
		Bool("more", more).
		Msg("search page")
	return page, more, nil
}

func (p *entryPager) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.conn.done()
	return nil
}

// guidPager projects an entry pager down to the groups' identifiers.
type guidPager struct {
	inner directory.Pager
}

func (p *guidPager) Next(ctx context.Context) ([]string, bool, error) {
	page, more, err := p.inner.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	values := make([]string, 0, len(page))
	for i := range page {
		if page[i].GUID != "" {
			values = append(values, page[i].GUID)
		}
	}
	return values, more, nil
}

func (p *guidPager) Close() error {
	return p.inner.Close()
}
