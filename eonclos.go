package eonclos

// eonclos.go holds the Simulation, which ties the fabric, the spectrum ledger,
// the connection registry and the admission engine together and drives them
// one integer tick at a time from an evtm event manager.
//
// Every tick runs three phases in order: connections whose expiry equals the
// tick release their spectrum, requests arriving at the tick are evaluated in
// ascending id order, and the cumulative blocking ratio is appended to the series.

import (
	"os"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SimOption configures a Simulation
type SimOption func(*Simulation)

// WithLogger sets the logger of the simulation and of its admission engine
func WithLogger(logger *zap.Logger) SimOption {
	return func(sim *Simulation) {
		if logger != nil {
			sim.logger = logger
		}
	}
}

// WithTraceManager records the history of every request in tm
func WithTraceManager(tm *TraceManager) SimOption {
	return func(sim *Simulation) {
		sim.traceMgr = tm
	}
}

// WithMetrics reports the progress of runs to mr
func WithMetrics(mr MetricsRecorder) SimOption {
	return func(sim *Simulation) {
		if mr != nil {
			sim.metrics = mr
		}
	}
}

// Simulation is one fabric together with the state of the run over it
type Simulation struct {
	fabric   *Fabric
	ledger   *SpectrumLedger
	registry *ConnRegistry
	engine   *AdmissionEngine
	stats    *SimStats

	traceMgr *TraceManager
	metrics  MetricsRecorder
	logger   *zap.Logger

	// requests of the current run, by arrival tick
	buckets map[int][]Request

	// last tick of the current run
	maxTime int

	// first error that stopped the current run
	fatal error
}

// CreateSimulation is a constructor.  It fails with ErrConfig when the fabric
// description is not usable.
func CreateSimulation(desc FabricDesc, opts ...SimOption) (*Simulation, error) {
	fabric, err := CreateFabric(desc)
	if err != nil {
		return nil, err
	}
	sim := &Simulation{fabric: fabric, logger: zap.NewNop(), metrics: nopRecorder{}}
	for _, opt := range opts {
		opt(sim)
	}
	if err := sim.traceMgr.AddFabric(fabric); err != nil {
		return nil, err
	}
	sim.reset()
	return sim, nil
}

// reset gives the simulation an empty ledger, registry and statistics
func (sim *Simulation) reset() {
	sim.ledger = CreateSpectrumLedger(sim.fabric.NumLinks(), sim.fabric.SpectrumSlots())
	sim.registry = CreateConnRegistry()
	sim.engine = CreateAdmissionEngine(sim.fabric, sim.ledger, sim.registry, sim.logger)
	sim.stats = createSimStats()
	sim.buckets = make(map[int][]Request)
	sim.maxTime = 0
	sim.fatal = nil
}

// Fabric returns the topology the simulation runs over
func (sim *Simulation) Fabric() *Fabric {
	return sim.fabric
}

// Ledger returns the spectrum ledger of the current run
func (sim *Simulation) Ledger() *SpectrumLedger {
	return sim.ledger
}

// Registry returns the live connections of the current run
func (sim *Simulation) Registry() *ConnRegistry {
	return sim.registry
}

// Stats returns the statistics of the current run
func (sim *Simulation) Stats() *SimStats {
	return sim.stats
}

// Run simulates reqs from tick 0 through the latest expiry among them and
// returns the statistics gathered.  Any state left by an earlier run is
// discarded first.  A request with negative arrival is rejected before tick 0.
// An error wrapping ErrAllocationConflict, or a connection found past its
// expiry, stops the run; the statistics gathered up to that tick are returned
// with the error.
func (sim *Simulation) Run(reqs []Request) (*SimStats, error) {
	sim.reset()

	valid := make([]Request, 0, len(reqs))
	for _, req := range reqs {
		if req.Arrival < 0 {
			sim.reject(req, errors.Wrapf(ErrInvalidRequest, "request %d arrival %d", req.ID, req.Arrival),
				vrtime.SecondsToTime(0.0))
			continue
		}
		valid = append(valid, req)
	}
	if len(valid) == 0 {
		return sim.stats, nil
	}

	sim.buckets = bucketByArrival(valid)
	sim.maxTime = MaxTime(valid)
	sim.logger.Info("simulation starting",
		zap.Int("requests", len(valid)), zap.Int("maxTime", sim.maxTime),
		zap.Int("links", sim.fabric.NumLinks()), zap.Int("slots", sim.fabric.SpectrumSlots()))

	evtMgr := evtm.New()
	evtMgr.Schedule(sim, 0, tickHandler, vrtime.SecondsToTime(0.0))
	evtMgr.Run(float64(sim.maxTime + 1))

	if sim.fatal != nil {
		sim.logger.Error("simulation stopped", zap.Error(sim.fatal))
		return sim.stats, sim.fatal
	}
	sim.logger.Info("simulation complete",
		zap.Int("ticks", len(sim.stats.BlockingRatio)), zap.Int("total", sim.stats.TotalRequests),
		zap.Int("admitted", sim.stats.Admitted), zap.Int("blocked", sim.stats.Blocked()),
		zap.Float64("ratio", sim.stats.Ratio()))
	return sim.stats, nil
}

// tickHandler is the event handler for one tick.  The context is the
// Simulation and the data the tick number.  It runs the tick and, unless the
// tick was the last or the run has failed, schedules the next one a second of
// virtual time later.
func tickHandler(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulation)
	t := data.(int)

	if err := sim.runTick(t, evtMgr.CurrentTime()); err != nil {
		sim.fatal = err
		return nil
	}
	if t < sim.maxTime {
		evtMgr.Schedule(sim, t+1, tickHandler, vrtime.SecondsToTime(1.0))
	}
	return nil
}

// runTick releases the connections expiring at t, admits the requests arriving
// at t and closes the tick's entry of the ratio series
func (sim *Simulation) runTick(t int, vrt vrtime.Time) error {
	var expiring []*Connection
	if next, live := sim.registry.NextExpiry(); live && next <= t {
		var err error
		if expiring, err = sim.registry.Expiring(t); err != nil {
			return err
		}
	}
	for _, conn := range expiring {
		sim.engine.Release(conn)
		sim.addTrace(vrt, conn.ID, "release", sim.fabric.ShowPath(conn.Path), conn.Start, conn.Width)
	}
	sim.stats.Released += len(expiring)
	if len(expiring) > 0 {
		sim.metrics.ObserveRelease(len(expiring))
	}

	for _, req := range sim.buckets[t] {
		sim.addTrace(vrt, req.ID, "arrive", "", NoSlotHint, req.Width)

		dcsn, err := sim.engine.Admit(req)
		if err != nil && !errors.Is(err, ErrInvalidRequest) {
			return errors.Wrapf(err, "tick %d", t)
		}
		if err != nil {
			sim.reject(req, err, vrt)
			continue
		}

		sim.stats.record(dcsn.Outcome)
		sim.metrics.ObserveOutcome(dcsn.Outcome)
		pathStr := ""
		if dcsn.Outcome == Admitted {
			pathStr = sim.fabric.ShowPath(dcsn.Path)
		}
		sim.addTrace(vrt, req.ID, dcsn.Outcome.String(), pathStr, dcsn.Start, req.Width)
	}

	sim.stats.closeTick()
	sim.metrics.ObserveTick(t, sim.registry.Len(), sim.stats.Ratio())
	return nil
}

// reject counts an invalid request and logs why it was not evaluated
func (sim *Simulation) reject(req Request, err error, vrt vrtime.Time) {
	sim.stats.record(Rejected)
	sim.metrics.ObserveOutcome(Rejected)
	sim.logger.Warn("request rejected", zap.Int("id", req.ID), zap.Error(err))
	sim.addTrace(vrt, req.ID, Rejected.String(), "", -1, req.Width)
}

func (sim *Simulation) addTrace(vrt vrtime.Time, reqID int, op, pathStr string, start, width int) {
	if !sim.traceMgr.Active() {
		return
	}
	if err := AddConnTrace(sim.traceMgr, vrt, reqID, op, pathStr, start, width); err != nil {
		sim.logger.Warn("trace record dropped", zap.Int("id", reqID), zap.Error(err))
	}
}

// LinkSnapshot returns a copy of the slot markers of the named link
func (sim *Simulation) LinkSnapshot(name string) ([]int, error) {
	linkID, err := sim.fabric.LinkByName(name)
	if err != nil {
		return nil, err
	}
	return sim.ledger.Snapshot(linkID), nil
}

// SpectrumString renders the markers of the named link on one line
func (sim *Simulation) SpectrumString(name string) (string, error) {
	linkID, err := sim.fabric.LinkByName(name)
	if err != nil {
		return "", err
	}
	return sim.ledger.SpectrumString(linkID), nil
}

// Verify checks that no two connections share a slot on any link and that
// every live connection is marked over its whole range on every link of its path
func (sim *Simulation) Verify() error {
	if err := sim.ledger.Verify(); err != nil {
		return err
	}
	for _, conn := range sim.registry.Active() {
		for _, linkID := range conn.Path.Links {
			markers := sim.ledger.Snapshot(linkID)
			for s := conn.Start; s < conn.Start+conn.Width; s++ {
				if markers[s] != conn.ID {
					return errors.Wrapf(ErrAllocationConflict, "connection %d not marked at slot %d of %s",
						conn.ID, s, sim.fabric.LinkName(linkID))
				}
			}
		}
	}
	return nil
}

// LinkReport is the state of one link at the end of a run
type LinkReport struct {
	Name        string            `json:"name" yaml:"name"`
	Spectrum    string            `json:"spectrum" yaml:"spectrum"`
	Occupied    int               `json:"occupied" yaml:"occupied"`
	Utilization float64           `json:"utilization" yaml:"utilization"`
	Owners      map[int]SlotRange `json:"owners,omitempty" yaml:"owners,omitempty"`
}

// Report gathers the results of a run for output
type Report struct {
	Name    string       `json:"name" yaml:"name"`
	Fabric  FabricDesc   `json:"fabric" yaml:"fabric"`
	Stats   SimStats     `json:"stats" yaml:"stats"`
	Summary StatsSummary `json:"summary" yaml:"summary"`
	Active  []int        `json:"active" yaml:"active"`
	Links   []LinkReport `json:"links,omitempty" yaml:"links,omitempty"`
}

// BuildReport assembles the report of the last run, including the spectrum of
// each named link
func (sim *Simulation) BuildReport(name string, snapshots []string) (*Report, error) {
	rpt := &Report{Name: name, Fabric: sim.fabric.Desc(), Stats: *sim.stats,
		Summary: sim.stats.Summary(), Active: make([]int, 0), Links: make([]LinkReport, 0)}
	for _, conn := range sim.registry.Active() {
		rpt.Active = append(rpt.Active, conn.ID)
	}

	errs := []error{}
	for _, linkName := range snapshots {
		linkID, err := sim.fabric.LinkByName(linkName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		owners, err := sim.ledger.Owners(linkID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rpt.Links = append(rpt.Links, LinkReport{Name: linkName,
			Spectrum: sim.ledger.SpectrumString(linkID), Occupied: sim.ledger.Occupied(linkID),
			Utilization: sim.ledger.Utilization(linkID), Owners: owners})
	}
	return rpt, ReportErrs(errs)
}

// WriteToFile serializes the report to json or yaml, selected by the extension
// of filename
func (rpt *Report) WriteToFile(filename string) error {
	bytes, err := marshalFor(filename, *rpt)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(filename, bytes, 0o644), "write report %s", filename)
}

// RunExperiment carries out the experiment xd describes: it reads the traffic,
// runs it over the fabric, and writes the trace and report files xd names.
// A traffic file that cannot be read is logged and run as empty traffic.
func RunExperiment(xd *ExpDesc, logger *zap.Logger, opts ...SimOption) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("experiment", xd.Name))

	var traceMgr *TraceManager
	if len(xd.Trace) > 0 {
		traceMgr = CreateTraceManager(xd.Name, true)
		opts = append(opts, WithTraceManager(traceMgr))
	}
	opts = append(opts, WithLogger(logger))

	sim, err := CreateSimulation(xd.Fabric, opts...)
	if err != nil {
		return nil, err
	}

	reqs, err := ReadTraffic(xd.Traffic, logger)
	if err != nil && !errors.Is(err, ErrSourceUnreadable) {
		return nil, err
	}

	_, runErr := sim.Run(reqs)

	rpt, err := sim.BuildReport(xd.Name, xd.Snapshots)
	if err != nil {
		logger.Warn("report incomplete", zap.Error(err))
	}

	errs := []error{runErr}
	if traceMgr != nil {
		errs = append(errs, traceMgr.WriteToFile(xd.Trace))
	}
	if len(xd.Report) > 0 {
		errs = append(errs, rpt.WriteToFile(xd.Report))
	}
	return rpt, ReportErrs(errs)
}
