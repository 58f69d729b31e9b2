package eonclos

// spectrum.go holds the spectrum ledger: for every link of the fabric a fixed-length
// array of slot markers, each either FreeSlot or the id of the connection holding it.
//
// The ledger follows a single-writer discipline.  Availability scans and snapshots
// take the read lock, so observers may look at the ledger while a run is under way;
// allocation and release take the write lock and touch every link of a path
// under it, so a connection is always either marked on all its links or on none.

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FreeSlot marks a slot held by no connection
const FreeSlot = -1

// SpectrumLedger records slot ownership on every link of a fabric
type SpectrumLedger struct {
	mu    sync.RWMutex
	slots int
	links [][]int
}

// CreateSpectrumLedger is a constructor.  Every slot of every link starts free.
func CreateSpectrumLedger(numLinks, slots int) *SpectrumLedger {
	sl := new(SpectrumLedger)
	sl.slots = slots
	sl.links = make([][]int, numLinks)
	for idx := range sl.links {
		markers := make([]int, slots)
		for s := range markers {
			markers[s] = FreeSlot
		}
		sl.links[idx] = markers
	}
	return sl
}

// Slots returns the number of slots on each link
func (sl *SpectrumLedger) Slots() int {
	return sl.slots
}

// rangeFree reports whether [start, start+width) is free on every one of the links.
// The caller holds at least the read lock.
func (sl *SpectrumLedger) rangeFree(links []int, start, width int) bool {
	for _, linkID := range links {
		markers := sl.links[linkID]
		for s := start; s < start+width; s++ {
			if markers[s] != FreeSlot {
				return false
			}
		}
	}
	return true
}

// CheckAvailability returns, in ascending order, every start index i in
// 0..slots-width for which slots [i, i+width) are free on all the given links.
// A single occupied slot on any one link disqualifies the start.
func (sl *SpectrumLedger) CheckAvailability(links []int, width int) []int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	starts := make([]int, 0)
	if width <= 0 || width > sl.slots {
		return starts
	}
	for idx := 0; idx <= sl.slots-width; idx++ {
		if sl.rangeFree(links, idx, width) {
			starts = append(starts, idx)
		}
	}
	return starts
}

// FirstFit returns the lowest start index at which width slots are free on all the
// given links.  The boolean is false if there is none.
func (sl *SpectrumLedger) FirstFit(links []int, width int) (int, bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if width <= 0 || width > sl.slots {
		return -1, false
	}
	for idx := 0; idx <= sl.slots-width; idx++ {
		if sl.rangeFree(links, idx, width) {
			return idx, true
		}
	}
	return -1, false
}

// Allocate marks slots [start, start+width) on every link of the path with connID.
// The range must be free on every link; if it is not, or lies outside the link,
// nothing is written and the error wraps ErrAllocationConflict.
func (sl *SpectrumLedger) Allocate(p Path, start, width, connID int) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if connID == FreeSlot {
		return errors.Wrapf(ErrAllocationConflict, "connection id %d is the free marker", connID)
	}
	if width <= 0 || start < 0 || start+width > sl.slots {
		return errors.Wrapf(ErrAllocationConflict, "slots [%d,%d) outside [0,%d)", start, start+width, sl.slots)
	}

	// verify every link before writing any of them
	for _, linkID := range p.Links {
		markers := sl.links[linkID]
		for s := start; s < start+width; s++ {
			if markers[s] != FreeSlot {
				return errors.Wrapf(ErrAllocationConflict, "link %d slot %d held by %d, wanted by %d",
					linkID, s, markers[s], connID)
			}
		}
	}

	for _, linkID := range p.Links {
		markers := sl.links[linkID]
		for s := start; s < start+width; s++ {
			markers[s] = connID
		}
	}
	return nil
}

// Release clears slots [start, start+width) on every link of the path.
// Clearing slots that are already free is a no-op.
func (sl *SpectrumLedger) Release(p Path, start, width int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	lo := max(start, 0)
	hi := min(start+width, sl.slots)
	for _, linkID := range p.Links {
		markers := sl.links[linkID]
		for s := lo; s < hi; s++ {
			markers[s] = FreeSlot
		}
	}
}

// Snapshot returns a copy of the slot markers of a link
func (sl *SpectrumLedger) Snapshot(linkID int) []int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	rtn := make([]int, sl.slots)
	copy(rtn, sl.links[linkID])
	return rtn
}

// Occupied returns the number of slots of a link held by some connection
func (sl *SpectrumLedger) Occupied(linkID int) int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	cnt := 0
	for _, marker := range sl.links[linkID] {
		if marker != FreeSlot {
			cnt += 1
		}
	}
	return cnt
}

// Utilization returns the fraction of a link's slots that are held
func (sl *SpectrumLedger) Utilization(linkID int) float64 {
	return float64(sl.Occupied(linkID)) / float64(sl.slots)
}

// SlotRange is a half-open range of slots [Start, End)
type SlotRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Owners returns, for every connection marked on the link, the range it holds.
// The error is non-nil if some connection's slots on the link are not contiguous.
func (sl *SpectrumLedger) Owners(linkID int) (map[int]SlotRange, error) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return ownersOf(sl.links[linkID], linkID)
}

func ownersOf(markers []int, linkID int) (map[int]SlotRange, error) {
	owners := make(map[int]SlotRange)
	prev := FreeSlot
	for s, marker := range markers {
		if marker != FreeSlot {
			sr, present := owners[marker]
			switch {
			case !present:
				owners[marker] = SlotRange{Start: s, End: s + 1}
			case prev == marker:
				sr.End = s + 1
				owners[marker] = sr
			default:
				return nil, errors.Errorf("link %d: connection %d holds non-contiguous slots %d and %d",
					linkID, marker, sr.End-1, s)
			}
		}
		prev = marker
	}
	return owners, nil
}

// Verify scans every link and reports the first link on which a connection's
// slots are not one contiguous block
func (sl *SpectrumLedger) Verify() error {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	for linkID, markers := range sl.links {
		if _, err := ownersOf(markers, linkID); err != nil {
			return err
		}
	}
	return nil
}

// SpectrumString renders the markers of a link on one line, '.' for a free slot
func (sl *SpectrumLedger) SpectrumString(linkID int) string {
	markers := sl.Snapshot(linkID)
	fields := make([]string, len(markers))
	for s, marker := range markers {
		if marker == FreeSlot {
			fields[s] = "."
		} else {
			fields[s] = fmt.Sprintf("%d", marker)
		}
	}
	return strings.Join(fields, " ")
}
