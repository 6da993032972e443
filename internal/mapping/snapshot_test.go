package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/directory-resolver/internal/directory"
)

func TestProviderSnapshotIsStable(t *testing.T) {
	set := validSet(t)
	p := NewProvider(set)

	snap, version := p.Snapshot()
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, 2, snap.Len())

	// Installing a new set must not disturb the earlier snapshot.
	bigger := validSet(t)
	require.NoError(t, bigger.Add(Mapping{
		EntityKind:        directory.KindGroup,
		DirectoryProperty: directory.PropertyMail,
		UseMainMapping:    true,
	}))
	newVersion := p.Install(bigger)
	assert.Equal(t, uint64(2), newVersion)

	assert.Equal(t, 2, snap.Len())
	fresh, v := p.Snapshot()
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, 3, fresh.Len())
}

func TestProviderVersionMonotonic(t *testing.T) {
	p := NewProvider(validSet(t))
	v1 := p.Version()
	p.Install(validSet(t))
	p.Install(validSet(t))
	assert.Equal(t, v1+2, p.Version())
}
