package eonclos

// routes.go enumerates the candidate paths between an ingress port and an egress
// port of the fabric, and checks fabric connectivity with the gonum graph package.
//
// In a three-stage Clos fabric every (ingress, egress) pair has exactly one path
// per spine switch, so candidate paths are computed directly rather than searched.
// The graph representation confirms, when the fabric is built, that the link
// arena really connects every ingress port to every egress port in four hops.

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// pathHops is the number of links on every path through the fabric
const pathHops = 4

// Path is one candidate route through the fabric: the spine switch it crosses
// and its links, in order [ingress, W1->S, S->W2, egress]
type Path struct {
	Spine int
	Links [pathHops]int
}

// EgressOnly returns the single-link slice holding the path's egress link
func (p Path) EgressOnly() []int {
	return p.Links[pathHops-1:]
}

// rtEndpts is the key for cached candidate paths
type rtEndpts struct {
	srcID, dstID int
}

// FindPaths returns the candidate paths from port src to port dst, one per spine
// switch, ordered by spine index.  That order is the tie-break for path selection.
// Occupancy is not consulted.  The caller owns the returned slice.
func (fab *Fabric) FindPaths(src, dst int) ([]Path, error) {
	fab.pathMu.Lock()
	defer fab.pathMu.Unlock()

	endpoints := rtEndpts{srcID: src, dstID: dst}
	paths, found := fab.pathCache[endpoints]
	if found {
		return slices.Clone(paths), nil
	}

	inLink, err := fab.IngressLink(src)
	if err != nil {
		return nil, err
	}
	outLink, err := fab.EgressLink(dst)
	if err != nil {
		return nil, err
	}

	srcSwitch := src / fab.desc.P
	dstSwitch := dst / fab.desc.P

	paths = make([]Path, 0, fab.desc.S)
	for s := 0; s < fab.desc.S; s++ {
		p := Path{Spine: s}
		p.Links[0] = inLink
		p.Links[1] = fab.up[srcSwitch*fab.desc.S+s]
		p.Links[2] = fab.down[s*fab.desc.W+dstSwitch]
		p.Links[3] = outLink
		paths = append(paths, p)
	}
	fab.pathCache[endpoints] = paths

	return slices.Clone(paths), nil
}

// ShowPath returns a string that lists the endpoints visited by a path,
// e.g. "in_0,W1_0,S_1,W2_0,out_1"
func (fab *Fabric) ShowPath(p Path) string {
	names := make([]string, 0, pathHops+1)
	for idx, linkID := range p.Links {
		ls := fab.links[linkID]
		if idx == 0 {
			names = append(names, ls.from.String())
		}
		names = append(names, ls.to.String())
	}
	return strings.Join(names, ",")
}

// fabricNodes gives each stage endpoint a distinct gonum node id.  Ingress and
// egress endpoints are numbered by their global port, switches follow.
type fabricNodes struct {
	ports, w, s int
}

func (fn fabricNodes) ingress(port int) int64 { return int64(port) }
func (fn fabricNodes) first(w int) int64 { return int64(fn.ports + w) }
func (fn fabricNodes) spine(s int) int64 { return int64(fn.ports + fn.w + s) }
func (fn fabricNodes) second(w int) int64 { return int64(fn.ports + fn.w + fn.s + w) }
func (fn fabricNodes) egress(port int) int64 { return int64(fn.ports + 2*fn.w + fn.s + port) }
func (fn fabricNodes) count() int { return 2*fn.ports + 2*fn.w + fn.s }
func (fn fabricNodes) node(id int64) graph.Node { return simple.Node(id) }

// buildFabricGraph returns a directed graph with one edge per link of the arena
func (fab *Fabric) buildFabricGraph() (*simple.DirectedGraph, fabricNodes) {
	fn := fabricNodes{ports: fab.NumPorts(), w: fab.desc.W, s: fab.desc.S}
	g := simple.NewDirectedGraph()
	for id := 0; id < fn.count(); id++ {
		g.AddNode(simple.Node(int64(id)))
	}

	for _, ls := range fab.links {
		var from, to int64
		switch ls.family {
		case ingressLink:
			from = fn.ingress(ls.to.idx*fab.desc.P + ls.from.idx)
			to = fn.first(ls.to.idx)
		case uplink:
			from = fn.first(ls.from.idx)
			to = fn.spine(ls.to.idx)
		case downlink:
			from = fn.spine(ls.from.idx)
			to = fn.second(ls.to.idx)
		case egressLink:
			from = fn.second(ls.from.idx)
			to = fn.egress(ls.from.idx*fab.desc.P + ls.to.idx)
		}
		g.SetEdge(g.NewEdge(fn.node(from), fn.node(to)))
	}
	return g, fn
}

// CheckConnectivity verifies that every ingress port reaches every egress port
// in exactly four hops, and that each first-stage switch fans out to every spine.
// The returned error wraps ErrConfig and lists the pairs that fail.
func (fab *Fabric) CheckConnectivity() error {
	g, fn := fab.buildFabricGraph()
	return fab.checkGraph(g, fn)
}

func (fab *Fabric) checkGraph(g *simple.DirectedGraph, fn fabricNodes) error {
	missing := make([]string, 0)
	for src := 0; src < fab.NumPorts(); src++ {
		spTree := path.DijkstraFrom(fn.node(fn.ingress(src)), g)
		for dst := 0; dst < fab.NumPorts(); dst++ {
			nodeSeq, _ := spTree.To(fn.egress(dst))
			if len(nodeSeq) != pathHops+1 {
				missing = append(missing, fmt.Sprintf("%d->%d", src, dst))
			}
		}
	}

	for w := 0; w < fab.desc.W; w++ {
		fanOut := g.From(fn.first(w)).Len()
		if fanOut != fab.desc.S {
			missing = append(missing, fmt.Sprintf("W1_%d fans out to %d spines", w, fanOut))
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return errors.Wrapf(ErrConfig, "missing connectivity: %s", strings.Join(missing, ","))
}
