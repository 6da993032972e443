package augment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/executor"
	"github.com/isometry/directory-resolver/internal/mapping"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Query(ctx context.Context, q directory.Query) (directory.Pager, error) {
	args := m.Called(ctx, q)
	if p, ok := args.Get(0).(directory.Pager); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) QueryBatch(ctx context.Context, qs []directory.Query) ([]directory.BatchResult, error) {
	args := m.Called(ctx, qs)
	if r, ok := args.Get(0).([]directory.BatchResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) TransitiveGroupsOf(ctx context.Context, userDN string, pageSize int) (directory.StringPager, error) {
	args := m.Called(ctx, userDN, pageSize)
	if p, ok := args.Get(0).(directory.StringPager); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) DirectGroupsOf(ctx context.Context, userDN string, selectAttrs []string, pageSize int) (directory.Pager, error) {
	args := m.Called(ctx, userDN, selectAttrs, pageSize)
	if p, ok := args.Get(0).(directory.Pager); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

type objectPager struct {
	objs []directory.Object
	done bool
}

func (p *objectPager) Next(context.Context) ([]directory.Object, bool, error) {
	if p.done {
		return nil, false, nil
	}
	p.done = true
	return p.objs, false, nil
}

func (p *objectPager) Close() error { return nil }

type stringPager struct {
	values []string
	done   bool
}

func (p *stringPager) Next(context.Context) ([]string, bool, error) {
	if p.done {
		return nil, false, nil
	}
	p.done = true
	return p.values, false, nil
}

func (p *stringPager) Close() error { return nil }

func augmentSet(t *testing.T, groupProp directory.Property) *mapping.Set {
	t.Helper()
	set, err := mapping.NewSet([]mapping.Mapping{
		{
			EntityKind:             directory.KindUser,
			DirectoryProperty:      directory.PropertyUserPrincipalName,
			GuestDirectoryProperty: directory.PropertyMail,
			ExternalType:           "identity",
		},
		{
			EntityKind:        directory.KindGroup,
			DirectoryProperty: groupProp,
			ExternalType:      "group",
		},
	})
	require.NoError(t, err)
	return set
}

func testOpts() executor.Options {
	return executor.Options{
		Timeout:  time.Second,
		PageSize: 10,
		Logger:   zerolog.Nop(),
	}
}

func memberUser(dn string) directory.Object {
	return directory.Object{
		Kind:              directory.KindUser,
		DistinguishedName: dn,
		Subtype:           directory.SubtypeMember,
	}
}

func TestResolveTransitiveForIdentifierGroupMapping(t *testing.T) {
	b := new(mockBackend)
	tn := &directory.Tenant{Name: "main", Backend: b}

	b.On("Query", mock.MatchedBy(func(ctx context.Context) bool { return true }),
		mock.MatchedBy(func(q directory.Query) bool {
			return q.Kind == directory.KindUser && q.Filter == "(&(userPrincipalName=alice@example.com)(userType=Member))"
		})).Return(&objectPager{objs: []directory.Object{memberUser("CN=alice,DC=example")}}, nil)
	b.On("TransitiveGroupsOf", mock.Anything, "CN=alice,DC=example", 10).
		Return(&stringPager{values: []string{"guid-1", "guid-2"}}, nil)

	groups, err := New(augmentSet(t, directory.PropertyObjectGUID), []*directory.Tenant{tn}, testOpts()).
		Resolve(context.Background(), "alice@example.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"guid-1", "guid-2"}, groups)
	b.AssertNotCalled(t, "DirectGroupsOf", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveDirectForNonIdentifierGroupMapping(t *testing.T) {
	b := new(mockBackend)
	tn := &directory.Tenant{Name: "main", Backend: b}

	b.On("Query", mock.Anything, mock.Anything).
		Return(&objectPager{objs: []directory.Object{memberUser("CN=bob,DC=example")}}, nil)
	groups := []directory.Object{
		{Kind: directory.KindGroup, AccountName: "eng", SecurityEnabled: true},
		{Kind: directory.KindGroup, AccountName: "all-hands", SecurityEnabled: false},
	}
	b.On("DirectGroupsOf", mock.Anything, "CN=bob,DC=example", mock.Anything, 10).
		Return(&objectPager{objs: groups}, nil)

	got, err := New(augmentSet(t, directory.PropertyAccountName), []*directory.Tenant{tn}, testOpts()).
		Resolve(context.Background(), "bob@example.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"eng", "all-hands"}, got)
	b.AssertNotCalled(t, "TransitiveGroupsOf", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveSecurityGroupsOnly(t *testing.T) {
	b := new(mockBackend)
	tn := &directory.Tenant{Name: "main", Backend: b, SecurityGroupsOnly: true}

	b.On("Query", mock.Anything, mock.Anything).
		Return(&objectPager{objs: []directory.Object{memberUser("CN=bob,DC=example")}}, nil)
	groups := []directory.Object{
		{Kind: directory.KindGroup, AccountName: "eng", SecurityEnabled: true},
		{Kind: directory.KindGroup, AccountName: "newsletter", SecurityEnabled: false},
	}
	b.On("DirectGroupsOf", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&objectPager{objs: groups}, nil)

	got, err := New(augmentSet(t, directory.PropertyAccountName), []*directory.Tenant{tn}, testOpts()).
		Resolve(context.Background(), "bob@example.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"eng"}, got)
}

func TestResolveFallsBackToGuestLookup(t *testing.T) {
	b := new(mockBackend)
	tn := &directory.Tenant{Name: "main", Backend: b}

	// The member-form lookup misses; the guest-form one hits.
	b.On("Query", mock.Anything, mock.MatchedBy(func(q directory.Query) bool {
		return q.Filter == "(&(userPrincipalName=guest@partner.com)(userType=Member))"
	})).Return(&objectPager{}, nil)
	b.On("Query", mock.Anything, mock.MatchedBy(func(q directory.Query) bool {
		return q.Filter == "(&(mail=guest@partner.com)(userType=Guest))"
	})).Return(&objectPager{objs: []directory.Object{memberUser("CN=guest,DC=example")}}, nil)
	b.On("TransitiveGroupsOf", mock.Anything, "CN=guest,DC=example", 10).
		Return(&stringPager{values: []string{"guid-9"}}, nil)

	got, err := New(augmentSet(t, directory.PropertyObjectGUID), []*directory.Tenant{tn}, testOpts()).
		Resolve(context.Background(), "guest@partner.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"guid-9"}, got)
}

func TestResolveSkipsGuestLookupOnUnsupportingTenant(t *testing.T) {
	b := new(mockBackend)
	tn := &directory.Tenant{
		Name:        "main",
		Backend:     b,
		Unsupported: []directory.Property{directory.PropertyMail},
	}

	b.On("Query", mock.Anything, mock.MatchedBy(func(q directory.Query) bool {
		return q.Filter == "(&(userPrincipalName=guest@partner.com)(userType=Member))"
	})).Return(&objectPager{}, nil)

	got, err := New(augmentSet(t, directory.PropertyObjectGUID), []*directory.Tenant{tn}, testOpts()).
		Resolve(context.Background(), "guest@partner.com")

	require.NoError(t, err)
	assert.Empty(t, got)
	// The guest-form lookup uses the unsupported property and is skipped.
	b.AssertNumberOfCalls(t, "Query", 1)
}

func TestResolveMergesAcrossTenantsAndDeduplicates(t *testing.T) {
	b1, b2 := new(mockBackend), new(mockBackend)
	t1 := &directory.Tenant{Name: "one", Backend: b1}
	t2 := &directory.Tenant{Name: "two", Backend: b2}

	b1.On("Query", mock.Anything, mock.Anything).
		Return(&objectPager{objs: []directory.Object{memberUser("CN=u,DC=one")}}, nil)
	b1.On("TransitiveGroupsOf", mock.Anything, mock.Anything, mock.Anything).
		Return(&stringPager{values: []string{"Alpha", "Beta"}}, nil)

	b2.On("Query", mock.Anything, mock.Anything).
		Return(&objectPager{objs: []directory.Object{memberUser("CN=u,DC=two")}}, nil)
	b2.On("TransitiveGroupsOf", mock.Anything, mock.Anything, mock.Anything).
		Return(&stringPager{values: []string{"alpha", "Gamma"}}, nil)

	got, err := New(augmentSet(t, directory.PropertyObjectGUID), []*directory.Tenant{t1, t2}, testOpts()).
		Resolve(context.Background(), "u@example.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, got)
}

func TestResolveTenantFailureContributesNothing(t *testing.T) {
	good, bad := new(mockBackend), new(mockBackend)
	t1 := &directory.Tenant{Name: "bad", Backend: bad}
	t2 := &directory.Tenant{Name: "good", Backend: good}

	bad.On("Query", mock.Anything, mock.Anything).
		Return(nil, directory.NewError("search", directory.ErrorCategoryConnection, false, errors.New("down")))
	good.On("Query", mock.Anything, mock.Anything).
		Return(&objectPager{objs: []directory.Object{memberUser("CN=u,DC=good")}}, nil)
	good.On("TransitiveGroupsOf", mock.Anything, mock.Anything, mock.Anything).
		Return(&stringPager{values: []string{"g1"}}, nil)

	got, err := New(augmentSet(t, directory.PropertyObjectGUID), []*directory.Tenant{t1, t2}, testOpts()).
		Resolve(context.Background(), "u@example.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, got)
}

func TestResolveRequiresIdentityAndGroupMappings(t *testing.T) {
	onlyIdentity, err := mapping.NewSet([]mapping.Mapping{{
		EntityKind:             directory.KindUser,
		DirectoryProperty:      directory.PropertyUserPrincipalName,
		GuestDirectoryProperty: directory.PropertyMail,
		ExternalType:           "identity",
	}})
	require.NoError(t, err)

	_, err = New(onlyIdentity, nil, testOpts()).Resolve(context.Background(), "u@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no group mapping")

	onlyGroup, err := mapping.NewSet([]mapping.Mapping{{
		EntityKind:        directory.KindGroup,
		DirectoryProperty: directory.PropertyAccountName,
		ExternalType:      "group",
	}})
	require.NoError(t, err)

	_, err = New(onlyGroup, nil, testOpts()).Resolve(context.Background(), "u@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no identity mapping")
}
