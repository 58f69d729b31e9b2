package eonclos

// metrics.go exposes the progress of a run as Prometheus metrics

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRecorder receives the events of a run
type MetricsRecorder interface {
	ObserveOutcome(oc Outcome)
	ObserveRelease(n int)
	ObserveTick(tick int, active int, ratio float64)
}

// nopRecorder is the recorder of a Simulation given none
type nopRecorder struct{}

func (nopRecorder) ObserveOutcome(Outcome) {}
func (nopRecorder) ObserveRelease(int) {}
func (nopRecorder) ObserveTick(int, int, float64) {}

// SimCollector bundles the Prometheus metrics of a simulation run
type SimCollector struct {
	gatherer prometheus.Gatherer

	Requests          *prometheus.CounterVec
	Releases          prometheus.Counter
	ActiveConnections prometheus.Gauge
	BlockingRatio     prometheus.Gauge
	Tick              prometheus.Gauge
}

// NewSimCollector registers the simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eonclos_requests_total",
		Help: "Connection requests handled, labeled by outcome.",
	}, []string{"outcome"}), "eonclos_requests_total")
	if err != nil {
		return nil, err
	}

	releases, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eonclos_releases_total",
		Help: "Connections whose holding time ended and whose spectrum was released.",
	}), "eonclos_releases_total")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eonclos_active_connections",
		Help: "Connections holding spectrum at the end of the last tick.",
	}), "eonclos_active_connections")
	if err != nil {
		return nil, err
	}
	ratio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eonclos_blocking_ratio",
		Help: "Cumulative fraction of evaluated requests that were blocked.",
	}), "eonclos_blocking_ratio")
	if err != nil {
		return nil, err
	}
	tick, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eonclos_tick",
		Help: "Last simulation tick completed.",
	}), "eonclos_tick")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:          gatherer,
		Requests:          requests,
		Releases:          releases,
		ActiveConnections: active,
		BlockingRatio:     ratio,
		Tick:              tick,
	}, nil
}

// ObserveOutcome counts one admission decision
func (c *SimCollector) ObserveOutcome(oc Outcome) {
	if c == nil || c.Requests == nil {
		return
	}
	c.Requests.WithLabelValues(oc.String()).Inc()
}

// ObserveRelease counts released connections
func (c *SimCollector) ObserveRelease(n int) {
	if c == nil || c.Releases == nil {
		return
	}
	c.Releases.Add(float64(n))
}

// ObserveTick records the state at the end of a tick
func (c *SimCollector) ObserveTick(tick int, active int, ratio float64) {
	if c == nil {
		return
	}
	if c.Tick != nil {
		c.Tick.Set(float64(tick))
	}
	if c.ActiveConnections != nil {
		c.ActiveConnections.Set(float64(active))
	}
	if c.BlockingRatio != nil {
		c.BlockingRatio.Set(ratio)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
