package eonclos

// traffic-gen.go synthesizes request records: arrivals whose gaps are Poisson,
// holding times drawn from an exponential, and widths and endpoints drawn
// uniformly.  Two random streams are used, one for times and one for the
// per-request choices, so that changing a width range leaves the arrival
// pattern alone.

import (
	"math"

	"github.com/iti/rngstream"
	"github.com/pkg/errors"
)

// TrafficGenDesc holds the parameters of a synthetic traffic set
type TrafficGenDesc struct {
	// number of requests
	Requests int `json:"requests" yaml:"requests"`

	// number of ports requests may use as source or destination
	Ports int `json:"ports" yaml:"ports"`

	// offered load in Erlangs, the mean holding time over the mean gap
	Load float64 `json:"load" yaml:"load"`

	// mean holding time before scaling
	MeanHolding float64 `json:"meanholding" yaml:"meanholding"`

	// widths are drawn from [1, MaxWidth]
	MaxWidth int `json:"maxwidth" yaml:"maxwidth"`

	// ticks per unit of MeanHolding
	Scale float64 `json:"scale" yaml:"scale"`

	// "expon" or "const" for holding times, "poisson" or "const" for arrival gaps
	HoldingModel string `json:"holdingmodel" yaml:"holdingmodel"`
	ArrivalModel string `json:"arrivalmodel" yaml:"arrivalmodel"`

	// when set a request never has its source as its destination
	DistinctEndpoints bool `json:"distinct" yaml:"distinct"`

	// when Slots is positive each record carries a slot hint in [0, Slots-width]
	Slots int `json:"slots" yaml:"slots"`

	// prefix of the names of the random streams
	StreamName string `json:"stream" yaml:"stream"`
}

// CreateTrafficGenDesc is a constructor.  Parameters it is not given take the
// values the traffic sets of the Japanese 12-node experiments were built with.
func CreateTrafficGenDesc(requests, ports int) TrafficGenDesc {
	return TrafficGenDesc{Requests: requests, Ports: ports, Load: 500.0, MeanHolding: 10.0,
		MaxWidth: 6, Scale: 100.0, HoldingModel: "expon", ArrivalModel: "poisson",
		StreamName: "traffic"}
}

// Validate returns an error wrapping ErrConfig for parameters that cannot
// produce a traffic set
func (tg TrafficGenDesc) Validate() error {
	errs := []error{}
	if tg.Requests < 0 {
		errs = append(errs, errors.Wrapf(ErrConfig, "requests %d", tg.Requests))
	}
	if tg.Ports < 1 || (tg.DistinctEndpoints && tg.Ports < 2) {
		errs = append(errs, errors.Wrapf(ErrConfig, "ports %d", tg.Ports))
	}
	if !(tg.Load > 0.0) || !(tg.MeanHolding > 0.0) || !(tg.Scale > 0.0) {
		errs = append(errs, errors.Wrapf(ErrConfig, "load %g, mean holding %g, scale %g",
			tg.Load, tg.MeanHolding, tg.Scale))
	}
	if tg.MaxWidth < 1 {
		errs = append(errs, errors.Wrapf(ErrConfig, "maximum width %d", tg.MaxWidth))
	}
	if tg.Slots > 0 && tg.Slots < tg.MaxWidth {
		errs = append(errs, errors.Wrapf(ErrConfig, "%d slots cannot hold width %d", tg.Slots, tg.MaxWidth))
	}
	switch tg.HoldingModel {
	case "expon", "exp", "exponential", "const", "constant":
	default:
		errs = append(errs, errors.Wrapf(ErrConfig, "holding model %q", tg.HoldingModel))
	}
	switch tg.ArrivalModel {
	case "poisson", "const", "constant":
	default:
		errs = append(errs, errors.Wrapf(ErrConfig, "arrival model %q", tg.ArrivalModel))
	}
	return ReportErrs(errs)
}

// GenerateTraffic draws tg.Requests records with ids 0, 1, ... and
// non-decreasing arrivals starting at tick 0
func GenerateTraffic(tg TrafficGenDesc) ([]Request, error) {
	if err := tg.Validate(); err != nil {
		return nil, err
	}
	timeRng := rngstream.New(tg.StreamName + "-time")
	choiceRng := rngstream.New(tg.StreamName + "-choice")

	// mean gap between arrivals, in ticks
	meanGap := tg.Scale * tg.MeanHolding / tg.Load

	reqs := make([]Request, 0, tg.Requests)
	arrival := 0
	for idx := 0; idx < tg.Requests; idx++ {
		var holding int
		switch tg.HoldingModel {
		case "expon", "exp", "exponential":
			holding = int(tg.Scale*expRV(timeRng.RandU01(), 1.0/tg.MeanHolding)) + 1
		case "const", "constant":
			holding = int(tg.Scale*tg.MeanHolding) + 1
		}

		var gap int
		switch tg.ArrivalModel {
		case "poisson":
			gap = poissonRV(timeRng, meanGap)
		case "const", "constant":
			gap = int(math.Round(meanGap))
		}

		width := uniformInt(choiceRng.RandU01(), 1, tg.MaxWidth)
		src := uniformInt(choiceRng.RandU01(), 0, tg.Ports-1)
		dst := uniformInt(choiceRng.RandU01(), 0, tg.Ports-1)
		for tg.DistinctEndpoints && dst == src {
			dst = uniformInt(choiceRng.RandU01(), 0, tg.Ports-1)
		}

		req := CreateRequest(idx, src, dst, width, arrival, holding)
		if tg.Slots > 0 {
			req.SlotHint = uniformInt(choiceRng.RandU01(), 0, tg.Slots-width)
		}
		reqs = append(reqs, req)
		arrival += gap
	}
	return reqs, nil
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// uniformInt maps u01 onto the integers lo..hi inclusive
func uniformInt(u01 float64, lo, hi int) int {
	v := lo + int(u01*float64(hi-lo+1))
	return min(v, hi)
}

// poissonChunk bounds the mean handed to one multiplicative draw, keeping
// exp(-mean) well clear of underflow
const poissonChunk = 500.0

// poissonRV samples a Poisson variate with the given mean by counting uniform
// draws until their product falls below exp(-mean).  Larger means are split
// into chunks whose samples are summed.
func poissonRV(rng *rngstream.RngStream, mean float64) int {
	total := 0
	for mean > 0.0 {
		part := math.Min(mean, poissonChunk)
		mean -= part

		limit := math.Exp(-part)
		prod := rng.RandU01()
		for prod > limit {
			total += 1
			prod *= rng.RandU01()
		}
	}
	return total
}
