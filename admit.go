package eonclos

// admit.go holds the admission engine: the first-fit routing and spectrum
// assignment policy and the classification of the requests it cannot place.
//
// A request moves Pending -> Admitted -> Active -> Released, or ends in one of
// ExternallyBlocked, InternallyBlocked or Rejected.  Blocking is an outcome the
// simulation measures, not an error.

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Outcome is the terminal classification of a request by the admission engine
type Outcome int

const (
	// Admitted requests hold spectrum on one path until they expire
	Admitted Outcome = iota

	// ExternallyBlocked requests found no free run of slots on their egress link,
	// which every candidate path shares
	ExternallyBlocked

	// InternallyBlocked requests had egress capacity but every candidate path had
	// some interior or ingress link without a common free run
	InternallyBlocked

	// Rejected requests were invalid and never evaluated
	Rejected
)

var outcomeToStr map[Outcome]string = map[Outcome]string{
	Admitted:          "admitted",
	ExternallyBlocked: "external-blocked",
	InternallyBlocked: "internal-blocked",
	Rejected:          "rejected",
}

func (oc Outcome) String() string {
	str, present := outcomeToStr[oc]
	if !present {
		return "unknown"
	}
	return str
}

// Decision reports what the admission engine did with one request.
// Path and Start are meaningful only when Outcome is Admitted.
type Decision struct {
	Outcome Outcome
	ConnID  int
	Path    Path
	Start   int
}

// AdmissionEngine places requests on the fabric
type AdmissionEngine struct {
	fabric   *Fabric
	ledger   *SpectrumLedger
	registry *ConnRegistry
	logger   *zap.Logger
}

// CreateAdmissionEngine is a constructor
func CreateAdmissionEngine(fabric *Fabric, ledger *SpectrumLedger, registry *ConnRegistry,
	logger *zap.Logger) *AdmissionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionEngine{fabric: fabric, ledger: ledger, registry: registry, logger: logger}
}

// validate returns an error wrapping ErrInvalidRequest if req cannot be evaluated
func (ae *AdmissionEngine) validate(req Request) error {
	switch {
	case req.Width <= 0:
		return errors.Wrapf(ErrInvalidRequest, "request %d width %d", req.ID, req.Width)
	case req.Holding <= 0:
		return errors.Wrapf(ErrInvalidRequest, "request %d holding %d", req.ID, req.Holding)
	case req.Arrival < 0:
		return errors.Wrapf(ErrInvalidRequest, "request %d arrival %d", req.ID, req.Arrival)
	case req.ID < 0:
		return errors.Wrapf(ErrInvalidRequest, "request id %d", req.ID)
	}
	if _, live := ae.registry.Get(req.ID); live {
		return errors.Wrapf(ErrInvalidRequest, "request %d duplicates a live connection", req.ID)
	}
	return nil
}

// Admit evaluates one request.  Candidate paths are tried in spine order and the
// lowest free start on the first path that has one is taken.  Before that, the
// egress link shared by all candidates is checked on its own, and a request that
// cannot fit there is blocked externally without looking further.
//
// An invalid request yields a Rejected decision and an error wrapping
// ErrInvalidRequest.  An error wrapping ErrAllocationConflict means the ledger
// and the availability scan disagree and the run must stop.
func (ae *AdmissionEngine) Admit(req Request) (Decision, error) {
	dcsn := Decision{Outcome: Rejected, ConnID: req.ID, Start: -1}

	if err := ae.validate(req); err != nil {
		return dcsn, err
	}
	paths, err := ae.fabric.FindPaths(req.Src, req.Dst)
	if err != nil {
		return dcsn, errors.Wrapf(err, "request %d", req.ID)
	}

	// the egress link does not depend on the spine, so the last path's will do
	egress := paths[len(paths)-1].EgressOnly()
	if _, found := ae.ledger.FirstFit(egress, req.Width); !found {
		dcsn.Outcome = ExternallyBlocked
		ae.logger.Debug("request blocked at egress",
			zap.Int("id", req.ID), zap.Int("dst", req.Dst), zap.Int("width", req.Width))
		return dcsn, nil
	}

	for _, p := range paths {
		start, found := ae.ledger.FirstFit(p.Links[:], req.Width)
		if !found {
			continue
		}
		conn := &Connection{ID: req.ID, Src: req.Src, Dst: req.Dst, Path: p, Start: start,
			Width: req.Width, Arrival: req.Arrival, Expiry: req.Expiry()}
		if err := ae.registry.Register(conn); err != nil {
			return dcsn, err
		}
		if err := ae.ledger.Allocate(p, start, req.Width, req.ID); err != nil {
			ae.registry.Remove(req.ID)
			return dcsn, err
		}

		dcsn.Outcome = Admitted
		dcsn.Path = p
		dcsn.Start = start
		ae.logger.Debug("request admitted",
			zap.Int("id", req.ID), zap.String("path", ae.fabric.ShowPath(p)),
			zap.Int("start", start), zap.Int("width", req.Width), zap.Int("expiry", conn.Expiry))
		return dcsn, nil
	}

	dcsn.Outcome = InternallyBlocked
	ae.logger.Debug("request blocked inside fabric",
		zap.Int("id", req.ID), zap.Int("src", req.Src), zap.Int("dst", req.Dst), zap.Int("width", req.Width))
	return dcsn, nil
}

// Release returns the spectrum of a connection to the ledger
func (ae *AdmissionEngine) Release(conn *Connection) {
	ae.ledger.Release(conn.Path, conn.Start, conn.Width)
	ae.logger.Debug("connection released",
		zap.Int("id", conn.ID), zap.Int("start", conn.Start), zap.Int("width", conn.Width))
}
