package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsDistinctNonOverlappingRegions(t *testing.T) {
	s := New[byte]()
	a := s.Allocate(8)
	b := s.Allocate(8)
	for i := range a {
		a[i] = 0xAA
	}
	for i := range b {
		b[i] = 0xBB
	}
	for _, v := range a {
		assert.Equal(t, byte(0xAA), v)
	}
	for _, v := range b {
		assert.Equal(t, byte(0xBB), v)
	}
}

func TestAllocateGrowsPastStackletCapacity(t *testing.T) {
	s := New[byte]()
	first := s.Top()
	s.Allocate(defaultStackletCapacity + 1)
	assert.NotEqual(t, first, s.Top(), "allocation larger than a stacklet must grow the chain")
	assert.Equal(t, first, s.Top().prev)
}

func TestDeallocateUnwindsAndReclaimsEmptiedStackletIntoCache(t *testing.T) {
	s := New[byte]()
	s.Allocate(defaultStackletCapacity + 1) // force growth
	grownTop := s.Top()
	s.Deallocate(defaultStackletCapacity + 1)
	assert.NotEqual(t, grownTop, s.Top(), "deallocating the grown stacklet's only allocation must pop back")
	assert.True(t, s.Empty())
}

func TestEmptyIsTrueOnlyWithNoLiveAllocationsAndNoPriorStacklet(t *testing.T) {
	s := New[byte]()
	assert.True(t, s.Empty())
	s.Allocate(4)
	assert.False(t, s.Empty())
	s.Deallocate(4)
	assert.True(t, s.Empty())
}

func TestReleaseDetachesChainAndInstallsFreshStack(t *testing.T) {
	s := New[byte]()
	s.Allocate(16)
	released := s.Release()
	assert.Equal(t, 16, released.Used())
	assert.True(t, s.Empty())
	assert.NotEqual(t, released, s.Top())
}

func TestAdoptIntoRejectsNonEmptyStack(t *testing.T) {
	s := New[byte]()
	s.Allocate(4)

	other := New[byte]()
	released := other.Release()

	err := s.AdoptInto(released)
	require.Error(t, err)
}

func TestAdoptIntoSucceedsOnEmptyStack(t *testing.T) {
	s := New[byte]()
	donor := New[byte]()
	donor.Allocate(32)
	released := donor.Release()

	require.NoError(t, s.AdoptInto(released))
	assert.Equal(t, 32, s.Top().Used())
}

func TestAdoptIntoRejectsInteriorStacklet(t *testing.T) {
	s := New[byte]()
	donor := New[byte]()
	donor.Allocate(defaultStackletCapacity + 1) // force growth so donor has an interior stacklet
	released := donor.Release()
	interior := released.prev
	require.NotNil(t, interior)

	err := s.AdoptInto(interior)
	require.Error(t, err)
}

func TestDeallocateClampsToCurrentStackletUsage(t *testing.T) {
	s := New[byte]()
	s.Allocate(4)
	s.Deallocate(100) // must not underflow
	assert.True(t, s.Empty())
}
