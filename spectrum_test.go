package eonclos

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshotAll copies the markers of every link of the ledger
func snapshotAll(sl *SpectrumLedger) [][]int {
	rtn := make([][]int, len(sl.links))
	for linkID := range sl.links {
		rtn[linkID] = sl.Snapshot(linkID)
	}
	return rtn
}

func testPath(fab *Fabric, t *testing.T, src, dst, spine int) Path {
	t.Helper()
	paths, err := fab.FindPaths(src, dst)
	require.NoError(t, err)
	return paths[spine]
}

func TestLedgerStartsFree(t *testing.T) {
	sl := CreateSpectrumLedger(3, 5)
	assert.Equal(t, 5, sl.Slots())
	for linkID := 0; linkID < 3; linkID++ {
		assert.Equal(t, []int{FreeSlot, FreeSlot, FreeSlot, FreeSlot, FreeSlot}, sl.Snapshot(linkID))
		assert.Equal(t, 0, sl.Occupied(linkID))
	}
}

func TestCheckAvailability(t *testing.T) {
	fab := newTestFabric(t, 2, 2, 2, 8)
	sl := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())
	p := testPath(fab, t, 0, 0, 0)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, sl.CheckAvailability(p.Links[:], 3))
	assert.Empty(t, sl.CheckAvailability(p.Links[:], 9))
	assert.Empty(t, sl.CheckAvailability(p.Links[:], 0))

	// occupy slots 2..3 on the second link only
	other := testPath(fab, t, 1, 2, 0)
	require.Equal(t, p.Links[1], other.Links[1])
	require.NoError(t, sl.Allocate(other, 2, 2, 7))

	assert.Equal(t, []int{4, 5}, sl.CheckAvailability(p.Links[:], 3))
	assert.Equal(t, []int{0, 4, 5, 6}, sl.CheckAvailability(p.Links[:], 2))
	start, found := sl.FirstFit(p.Links[:], 2)
	assert.True(t, found)
	assert.Equal(t, 0, start)
	start, found = sl.FirstFit(p.Links[:], 3)
	assert.True(t, found)
	assert.Equal(t, 4, start)
	_, found = sl.FirstFit(p.Links[:], 5)
	assert.False(t, found)
}

func TestFirstFitEmptyLedgerIsZero(t *testing.T) {
	fab := newTestFabric(t, 2, 2, 2, 10)
	sl := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())
	p := testPath(fab, t, 0, 3, 1)
	for width := 1; width <= 10; width++ {
		start, found := sl.FirstFit(p.Links[:], width)
		assert.True(t, found)
		assert.Equal(t, 0, start, "width %d", width)
	}
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	fab := newTestFabric(t, 2, 2, 2, 8)
	sl := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())
	require.NoError(t, sl.Allocate(testPath(fab, t, 1, 1, 0), 0, 3, 11))

	before := snapshotAll(sl)
	p := testPath(fab, t, 2, 3, 1)
	require.NoError(t, sl.Allocate(p, 3, 4, 12))
	for _, linkID := range p.Links {
		assert.Equal(t, 4, sl.Occupied(linkID))
	}
	assert.NotEmpty(t, cmp.Diff(before, snapshotAll(sl)))

	sl.Release(p, 3, 4)
	if diff := cmp.Diff(before, snapshotAll(sl)); diff != "" {
		t.Errorf("ledger after release mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocateConflictWritesNothing(t *testing.T) {
	fab := newTestFabric(t, 2, 2, 2, 8)
	sl := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())

	// a connection on the egress link only shares one link with p
	held := testPath(fab, t, 2, 1, 1)
	require.NoError(t, sl.Allocate(held, 5, 2, 1))
	before := snapshotAll(sl)

	p := testPath(fab, t, 0, 1, 0)
	require.Equal(t, held.Links[3], p.Links[3])
	err := sl.Allocate(p, 4, 2, 2)
	assert.True(t, errors.Is(err, ErrAllocationConflict), "got %v", err)
	assert.Empty(t, cmp.Diff(before, snapshotAll(sl)))

	for _, tc := range []struct{ start, width, id int }{
		{-1, 2, 3}, {7, 2, 3}, {0, 0, 3}, {0, 2, FreeSlot},
	} {
		err := sl.Allocate(p, tc.start, tc.width, tc.id)
		assert.True(t, errors.Is(err, ErrAllocationConflict), "%+v", tc)
	}
	assert.Empty(t, cmp.Diff(before, snapshotAll(sl)))
}

func TestReleaseIsIdempotent(t *testing.T) {
	fab := newTestFabric(t, 2, 2, 2, 8)
	sl := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())
	p := testPath(fab, t, 0, 0, 0)
	require.NoError(t, sl.Allocate(p, 2, 3, 4))

	sl.Release(p, 2, 3)
	after := snapshotAll(sl)
	sl.Release(p, 2, 3)
	sl.Release(p, -2, 20)
	assert.Empty(t, cmp.Diff(after, snapshotAll(sl)))
}

func TestOwnersAndVerify(t *testing.T) {
	fab := newTestFabric(t, 2, 2, 2, 8)
	sl := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())
	p := testPath(fab, t, 0, 0, 0)
	require.NoError(t, sl.Allocate(p, 0, 2, 5))
	require.NoError(t, sl.Allocate(p, 4, 3, 6))

	owners, err := sl.Owners(p.Links[0])
	require.NoError(t, err)
	assert.Equal(t, map[int]SlotRange{5: {Start: 0, End: 2}, 6: {Start: 4, End: 7}}, owners)
	assert.InDelta(t, 5.0/8.0, sl.Utilization(p.Links[0]), 1e-12)
	assert.Equal(t, "5 5 . . 6 6 6 .", sl.SpectrumString(p.Links[0]))
	assert.NoError(t, sl.Verify())

	// split connection 5 across the gap
	sl.links[p.Links[2]][3] = 5
	assert.Error(t, sl.Verify())
	_, err = sl.Owners(p.Links[2])
	assert.Error(t, err)
}

func TestLedgerConcurrentReaders(t *testing.T) {
	fab := newTestFabric(t, 2, 2, 2, 32)
	sl := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())
	paths, err := fab.FindPaths(0, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for id := 0; id < 16; id++ {
			p := paths[id%2]
			start, found := sl.FirstFit(p.Links[:], 2)
			if !found {
				return
			}
			assert.NoError(t, sl.Allocate(p, start, 2, id))
		}
	}()
	for reader := 0; reader < 4; reader++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, sl.Verify())
				_ = sl.Occupied(paths[0].Links[0])
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, sl.Occupied(paths[0].Links[0]))
}
