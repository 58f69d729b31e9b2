package eonclos

// topo.go builds the run-time representation of a three-stage Clos fabric.
// Every directed link gets a small integer id at build time; paths and the
// spectrum ledger refer to links by that id only.

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// stageCode identifies the stage an endpoint of a link belongs to
type stageCode int

const (
	ingressCode stageCode = iota
	firstStageCode
	spineCode
	secondStageCode
	egressCode
)

// stageToStr gives the prefix used when naming an endpoint of each stage
var stageToStr map[stageCode]string = map[stageCode]string{
	ingressCode:     "in",
	firstStageCode:  "W1",
	spineCode:       "S",
	secondStageCode: "W2",
	egressCode:      "out",
}

// endpoint names one end of a link: the stage and the index within the stage.
// Ingress and egress indices are port positions within their switch.
type endpoint struct {
	stage stageCode
	idx   int
}

func (ep endpoint) String() string {
	return fmt.Sprintf("%s_%d", stageToStr[ep.stage], ep.idx)
}

// linkFamily identifies which of the four families of links a link belongs to
type linkFamily int

const (
	ingressLink linkFamily = iota
	uplink
	downlink
	egressLink
)

var familyToStr map[linkFamily]string = map[linkFamily]string{
	ingressLink: "ingress",
	uplink:      "uplink",
	downlink:    "downlink",
	egressLink:  "egress",
}

// linkStruct is the run-time description of one directed link
type linkStruct struct {
	number int        // index in the link arena
	name   string     // "<from>-><to>"
	family linkFamily // which family of links this is
	from   endpoint
	to     endpoint
}

// LinkInfo is the exported view of a link, used for listings and traces
type LinkInfo struct {
	ID     int    `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Family string `json:"family" yaml:"family"`
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
}

// Fabric holds the link arena of a Clos fabric and the tables that map
// (switch, port) and (switch, spine) pairs to link ids
type Fabric struct {
	desc FabricDesc

	links      []*linkStruct
	linkByName map[string]int

	// ingress[w*P+p] is the link in_p -> W1_w
	ingress []int

	// up[w*S+s] is the link W1_w -> S_s
	up []int

	// down[s*W+w] is the link S_s -> W2_w
	down []int

	// egress[w*P+p] is the link W2_w -> out_p
	egress []int

	// candidate paths already computed, by (src,dst) port pair
	pathMu    sync.Mutex
	pathCache map[rtEndpts][]Path
}

// CreateFabric is a constructor.  It fails with ErrConfig when any dimension
// of the description is not positive, or when the links built do not connect
// every ingress port to every egress port.
func CreateFabric(desc FabricDesc) (*Fabric, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	fab := new(Fabric)
	fab.desc = desc
	fab.links = make([]*linkStruct, 0, 2*desc.W*desc.P+2*desc.W*desc.S)
	fab.linkByName = make(map[string]int)
	fab.pathCache = make(map[rtEndpts][]Path)

	// input links to stage W1
	fab.ingress = make([]int, desc.W*desc.P)
	for w := 0; w < desc.W; w++ {
		for p := 0; p < desc.P; p++ {
			fab.ingress[w*desc.P+p] = fab.addLink(ingressLink,
				endpoint{stage: ingressCode, idx: p}, endpoint{stage: firstStageCode, idx: w})
		}
	}

	// links from stage W1 to stage S, full mesh
	fab.up = make([]int, desc.W*desc.S)
	for w := 0; w < desc.W; w++ {
		for s := 0; s < desc.S; s++ {
			fab.up[w*desc.S+s] = fab.addLink(uplink,
				endpoint{stage: firstStageCode, idx: w}, endpoint{stage: spineCode, idx: s})
		}
	}

	// links from stage S to stage W2, full mesh
	fab.down = make([]int, desc.S*desc.W)
	for s := 0; s < desc.S; s++ {
		for w := 0; w < desc.W; w++ {
			fab.down[s*desc.W+w] = fab.addLink(downlink,
				endpoint{stage: spineCode, idx: s}, endpoint{stage: secondStageCode, idx: w})
		}
	}

	// output links from stage W2
	fab.egress = make([]int, desc.W*desc.P)
	for w := 0; w < desc.W; w++ {
		for p := 0; p < desc.P; p++ {
			fab.egress[w*desc.P+p] = fab.addLink(egressLink,
				endpoint{stage: secondStageCode, idx: w}, endpoint{stage: egressCode, idx: p})
		}
	}

	if err := fab.CheckConnectivity(); err != nil {
		return nil, err
	}
	return fab, nil
}

// addLink appends a link to the arena and returns its id
func (fab *Fabric) addLink(family linkFamily, from, to endpoint) int {
	ls := &linkStruct{number: len(fab.links), family: family, from: from, to: to}
	ls.name = from.String() + "->" + to.String()

	_, present := fab.linkByName[ls.name]
	if present {
		panic(fmt.Sprintf("link name %s over-used in fabric", ls.name))
	}
	fab.links = append(fab.links, ls)
	fab.linkByName[ls.name] = ls.number
	return ls.number
}

// Desc returns the description the fabric was built from
func (fab *Fabric) Desc() FabricDesc {
	return fab.desc
}

// NumLinks returns the size of the link arena
func (fab *Fabric) NumLinks() int {
	return len(fab.links)
}

// NumPorts returns the number of ingress (equally, egress) ports of the fabric
func (fab *Fabric) NumPorts() int {
	return fab.desc.W * fab.desc.P
}

// SpectrumSlots returns the number of slots every link carries
func (fab *Fabric) SpectrumSlots() int {
	return fab.desc.Slots
}

// LinkName returns the name of the link with the given id, or "" if there is none
func (fab *Fabric) LinkName(id int) string {
	if id < 0 || id >= len(fab.links) {
		return ""
	}
	return fab.links[id].name
}

// LinkByName returns the id of the named link
func (fab *Fabric) LinkByName(name string) (int, error) {
	id, present := fab.linkByName[name]
	if !present {
		return -1, errors.Wrapf(ErrUnknownLink, "%q", name)
	}
	return id, nil
}

// Links lists every link of the fabric in id order
func (fab *Fabric) Links() []LinkInfo {
	rtn := make([]LinkInfo, 0, len(fab.links))
	for _, ls := range fab.links {
		rtn = append(rtn, LinkInfo{ID: ls.number, Name: ls.name, Family: familyToStr[ls.family],
			From: ls.from.String(), To: ls.to.String()})
	}
	return rtn
}

// IngressLink returns the id of the link that carries traffic entering at port src
func (fab *Fabric) IngressLink(src int) (int, error) {
	if err := fab.checkPort(src, "source"); err != nil {
		return -1, err
	}
	// the switch is src div P and the port within it src mod P, so the table index is src
	return fab.ingress[src], nil
}

// EgressLink returns the id of the link that carries traffic leaving at port dst.
// It is shared by every candidate path towards dst.
func (fab *Fabric) EgressLink(dst int) (int, error) {
	if err := fab.checkPort(dst, "destination"); err != nil {
		return -1, err
	}
	return fab.egress[dst], nil
}

// checkPort verifies that port names a port of the fabric
func (fab *Fabric) checkPort(port int, role string) error {
	if port < 0 || port >= fab.NumPorts() {
		return errors.Wrapf(ErrInvalidRequest, "%s port %d outside [0,%d)", role, port, fab.NumPorts())
	}
	return nil
}
