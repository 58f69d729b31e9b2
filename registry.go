package eonclos

// registry.go holds the connection registry: the admitted connections that still
// hold spectrum, indexed by id, and a min-heap on expiry time used to find the
// connections whose holding time ends at a given tick.

import (
	"container/heap"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Connection is an admitted request: where it runs and which slots it holds
type Connection struct {
	ID      int  `json:"id" yaml:"id"`
	Src     int  `json:"src" yaml:"src"`
	Dst     int  `json:"dst" yaml:"dst"`
	Path    Path `json:"path" yaml:"path"`
	Start   int  `json:"start" yaml:"start"`
	Width   int  `json:"width" yaml:"width"`
	Arrival int  `json:"arrival" yaml:"arrival"`
	Expiry  int  `json:"expiry" yaml:"expiry"`
}

// Slots returns the half-open range of slots the connection holds
func (conn *Connection) Slots() SlotRange {
	return SlotRange{Start: conn.Start, End: conn.Start + conn.Width}
}

// expiryHeap and its methods implement a min-priority heap
// on (expiry, id) of live connections
type expiryHeap []*Connection

func (h expiryHeap) Len() int { return len(h) }
func (h expiryHeap) Less(i, j int) bool {
	if h[i].Expiry != h[j].Expiry {
		return h[i].Expiry < h[j].Expiry
	}
	return h[i].ID < h[j].ID
}
func (h expiryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(*Connection))
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// ConnRegistry owns the live connections of a run
type ConnRegistry struct {
	conns    map[int]*Connection
	expiries expiryHeap
}

// CreateConnRegistry is a constructor
func CreateConnRegistry() *ConnRegistry {
	reg := new(ConnRegistry)
	reg.conns = make(map[int]*Connection)
	reg.expiries = expiryHeap{}
	heap.Init(&reg.expiries)
	return reg
}

// Register adds a connection.  Ids are unique among live connections.
func (reg *ConnRegistry) Register(conn *Connection) error {
	_, present := reg.conns[conn.ID]
	if present {
		return errors.Wrapf(ErrInvalidRequest, "connection %d already registered", conn.ID)
	}
	reg.conns[conn.ID] = conn
	heap.Push(&reg.expiries, conn)
	return nil
}

// Get returns the live connection with the given id
func (reg *ConnRegistry) Get(id int) (*Connection, bool) {
	conn, present := reg.conns[id]
	return conn, present
}

// Remove drops a live connection ahead of its expiry.  Its heap entry is
// discarded when it reaches the top.
func (reg *ConnRegistry) Remove(id int) (*Connection, bool) {
	conn, present := reg.conns[id]
	if present {
		delete(reg.conns, id)
	}
	return conn, present
}

// Len returns the number of live connections
func (reg *ConnRegistry) Len() int {
	return len(reg.conns)
}

// Active returns the live connections in ascending id order
func (reg *ConnRegistry) Active() []*Connection {
	rtn := make([]*Connection, 0, len(reg.conns))
	for _, conn := range reg.conns {
		rtn = append(rtn, conn)
	}
	slices.SortFunc(rtn, func(a, b *Connection) int { return a.ID - b.ID })
	return rtn
}

// Expiring removes from the registry, and returns in id order, every connection
// whose expiry is exactly t.  A connection whose expiry already lies behind t
// was missed by an earlier tick, which is reported as an error.
func (reg *ConnRegistry) Expiring(t int) ([]*Connection, error) {
	rtn := make([]*Connection, 0)
	for reg.expiries.Len() > 0 {
		top := reg.expiries[0]
		if top.Expiry > t {
			break
		}
		if top.Expiry < t && reg.conns[top.ID] == top {
			return rtn, errors.Errorf("connection %d expired at %d but was still live at %d",
				top.ID, top.Expiry, t)
		}
		heap.Pop(&reg.expiries)
		if reg.conns[top.ID] != top {
			// removed ahead of its expiry
			continue
		}
		delete(reg.conns, top.ID)
		rtn = append(rtn, top)
	}
	return rtn, nil
}

// NextExpiry returns the earliest expiry among live connections
func (reg *ConnRegistry) NextExpiry() (int, bool) {
	for reg.expiries.Len() > 0 && reg.conns[reg.expiries[0].ID] != reg.expiries[0] {
		heap.Pop(&reg.expiries)
	}
	if reg.expiries.Len() == 0 {
		return 0, false
	}
	return reg.expiries[0].Expiry, true
}
