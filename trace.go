package eonclos

import (
	"os"
	"strconv"

	"github.com/iti/evt/vrtime"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TraceInst is one serialized trace record, stamped with the time it was taken
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers the history of every request of a run: arrival, the
// admission decision and, for admitted requests, the release
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each link id
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, by request id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a trace record under the request id it concerns
func (tm *TraceManager) AddTrace(vrt vrtime.Time, reqID int, trace TraceInst) {
	if !tm.Active() {
		return
	}
	tm.Traces[reqID] = append(tm.Traces[reqID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) error {
	if !tm.Active() {
		return nil
	}
	_, present := tm.NameByID[id]
	if present {
		return errors.Errorf("duplicated id %d in trace dictionary", id)
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	return nil
}

// AddFabric puts every link of the fabric into the dictionary
func (tm *TraceManager) AddFabric(fab *Fabric) error {
	errs := []error{}
	for _, li := range fab.Links() {
		errs = append(errs, tm.AddName(li.ID, li.Name, li.Family))
	}
	return ReportErrs(errs)
}

// WriteToFile stores the trace to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	bytes, err := marshalFor(filename, *tm)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(filename, bytes, 0o644), "write trace %s", filename)
}

// ConnTrace saves what happened to a request at one point of the run
type ConnTrace struct {
	Time     float64 // time in float64
	Ticks    int64   // ticks variable of time
	Priority int64   // priority field of time-stamp
	ReqID    int     // request (and connection) id
	Op       string  // "arrive", "admitted", "external-blocked", "internal-blocked", "rejected", "release"
	Path     string  // endpoints of the path held, when there is one
	Start    int     // first slot held
	Width    int     // number of slots requested or held
}

// Serialize renders the record as yaml
func (ct *ConnTrace) Serialize() (string, error) {
	bytes, err := yaml.Marshal(*ct)
	if err != nil {
		return "", errors.Wrap(err, "serialize trace")
	}
	return string(bytes), nil
}

// AddConnTrace creates a record of the trace using its calling arguments, and stores it
func AddConnTrace(tm *TraceManager, vrt vrtime.Time, reqID int, op, pathStr string, start, width int) error {
	if !tm.Active() {
		return nil
	}
	ct := &ConnTrace{Time: vrt.Seconds(), Ticks: vrt.Ticks(), Priority: vrt.Pri(),
		ReqID: reqID, Op: op, Path: pathStr, Start: start, Width: width}

	ctStr, err := ct.Serialize()
	if err != nil {
		return err
	}
	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	tm.AddTrace(vrt, reqID, TraceInst{TraceTime: traceTime, TraceType: "conn", TraceStr: ctStr})
	return nil
}
