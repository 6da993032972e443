package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/directory-resolver/internal/directory"
)

func identityMapping() Mapping {
	return Mapping{
		EntityKind:             directory.KindUser,
		DirectoryProperty:      directory.PropertyUserPrincipalName,
		GuestDirectoryProperty: directory.PropertyMail,
		ExternalType:           "identity",
	}
}

func groupMapping() Mapping {
	return Mapping{
		EntityKind:        directory.KindGroup,
		DirectoryProperty: directory.PropertyAccountName,
		ExternalType:      "group",
	}
}

func validSet(t *testing.T) *Set {
	t.Helper()
	set, err := NewSet([]Mapping{identityMapping(), groupMapping()})
	require.NoError(t, err)
	return set
}

func TestNewSetValid(t *testing.T) {
	set := validSet(t)
	assert.Equal(t, 2, set.Len())

	id, ok := set.Identity()
	require.True(t, ok)
	assert.Equal(t, "identity", id.ExternalType)

	grp, ok := set.GroupMapping()
	require.True(t, ok)
	assert.Equal(t, "group", grp.ExternalType)
}

func TestNewSetRejectsUnsetProperty(t *testing.T) {
	_, err := NewSet([]Mapping{{EntityKind: directory.KindUser, ExternalType: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory property must be set")
}

func TestNewSetRejectsPropertyInvalidForKind(t *testing.T) {
	// givenName is not readable on group objects.
	_, err := NewSet([]Mapping{{
		EntityKind:        directory.KindGroup,
		DirectoryProperty: directory.PropertyGivenName,
		ExternalType:      "g",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not readable on group objects")
}

func TestNewSetRejectsUseMainWithExternalType(t *testing.T) {
	_, err := NewSet([]Mapping{identityMapping(), {
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyMail,
		UseMainMapping:    true,
		ExternalType:      "mail-claim",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use-main-mapping")
}

func TestNewSetRequiresExternalTypeOrMetadataKey(t *testing.T) {
	_, err := NewSet([]Mapping{{
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyMail,
	}})
	require.Error(t, err)

	// A metadata key alone is enough.
	_, err = NewSet([]Mapping{{
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyMail,
		MetadataKey:       "email",
	}})
	assert.NoError(t, err)
}

func TestNewSetRejectsSecondGroupPrimary(t *testing.T) {
	_, err := NewSet([]Mapping{groupMapping(), {
		EntityKind:        directory.KindGroup,
		DirectoryProperty: directory.PropertyMail,
		ExternalType:      "group-mail",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one external type can represent a group")
}

func TestNewSetRejectsSecondIdentity(t *testing.T) {
	second := identityMapping()
	second.ExternalType = "identity2"
	second.DirectoryProperty = directory.PropertyAccountName
	_, err := NewSet([]Mapping{identityMapping(), second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one identity mapping")
}

func TestNewSetRejectsGroupIdentity(t *testing.T) {
	_, err := NewSet([]Mapping{{
		EntityKind:             directory.KindGroup,
		DirectoryProperty:      directory.PropertyAccountName,
		GuestDirectoryProperty: directory.PropertyMail,
		ExternalType:           "g",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity mapping must have entity kind user")
}

func TestNewSetRejectsDuplicates(t *testing.T) {
	base := []Mapping{identityMapping(), groupMapping()}

	cases := map[string]Mapping{
		"duplicate external type": {
			EntityKind:        directory.KindUser,
			DirectoryProperty: directory.PropertyMail,
			ExternalType:      "identity",
		},
		"duplicate property for kind": {
			EntityKind:        directory.KindUser,
			DirectoryProperty: directory.PropertyUserPrincipalName,
			ExternalType:      "upn2",
		},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSet(append([]Mapping{}, append(base, m)...))
			assert.Error(t, err)
		})
	}
}

func TestNewSetRejectsDuplicateBypassToken(t *testing.T) {
	first := identityMapping()
	first.PrefixBypassToken = "id:"
	second := Mapping{
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyMail,
		ExternalType:      "mail-claim",
		PrefixBypassToken: "id:",
	}
	_, err := NewSet([]Mapping{first, second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate prefix bypass token")
}

func TestAddRejectedLeavesSetUntouched(t *testing.T) {
	set := validSet(t)
	err := set.Add(Mapping{
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyUserPrincipalName, // duplicate property
		ExternalType:      "upn2",
	})
	require.Error(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestRemoveRefusesIdentity(t *testing.T) {
	set := validSet(t)
	err := set.Remove("identity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be removed")
	assert.Equal(t, 2, set.Len())

	require.NoError(t, set.Remove("group"))
	assert.Equal(t, 1, set.Len())
}

func TestUpdateIsAtomic(t *testing.T) {
	set := validSet(t)
	require.NoError(t, set.Add(Mapping{
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyMail,
		ExternalType:      "mail-claim",
	}))

	// Updating mail-claim onto the identity's property must fail and
	// leave all three mappings as they were.
	err := set.Update("mail-claim", Mapping{
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyUserPrincipalName,
		ExternalType:      "mail-claim",
	})
	require.Error(t, err)

	m, ok := set.GetByExternalType("mail-claim")
	require.True(t, ok)
	assert.Equal(t, directory.PropertyMail, m.DirectoryProperty)

	// A valid update commits.
	require.NoError(t, set.Update("mail-claim", Mapping{
		EntityKind:        directory.KindUser,
		DirectoryProperty: directory.PropertyDisplayName,
		ExternalType:      "display-claim",
	}))
	_, ok = set.GetByExternalType("mail-claim")
	assert.False(t, ok)
	m, ok = set.GetByExternalType("display-claim")
	require.True(t, ok)
	assert.Equal(t, directory.PropertyDisplayName, m.DirectoryProperty)
}

func TestAllReturnsInsertionOrderCopy(t *testing.T) {
	set := validSet(t)
	all := set.All()
	require.Len(t, all, 2)
	assert.Equal(t, "identity", all[0].ExternalType)
	assert.Equal(t, "group", all[1].ExternalType)

	all[0].ExternalType = "mutated"
	fresh := set.All()
	assert.Equal(t, "identity", fresh[0].ExternalType)
}

func TestPropertyFor(t *testing.T) {
	id := identityMapping()
	assert.Equal(t, directory.PropertyUserPrincipalName, id.PropertyFor(directory.SubtypeMember))
	assert.Equal(t, directory.PropertyMail, id.PropertyFor(directory.SubtypeGuest))

	grp := groupMapping()
	assert.Equal(t, directory.PropertyAccountName, grp.PropertyFor(directory.SubtypeGuest))
}
