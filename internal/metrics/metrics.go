// Package metrics exposes the controller's counters and gauges to
// Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/large-farva/blackbox/internal/indicator"
	"github.com/large-farva/blackbox/internal/telemetry"
)

// Collector bundles the device metrics. It satisfies mission.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	Dispatches     *prometheus.CounterVec
	BytesSent      prometheus.Counter
	Exchanges      *prometheus.CounterVec
	Samples        *prometheus.CounterVec
	OperatingState *prometheus.GaugeVec
	SignalBars     prometheus.Gauge
}

// New registers the metrics against reg, defaulting to the global registry
// when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatches, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blackbox_dispatch_total",
		Help: "Upload attempts, labeled by outcome (sent, failed, oversize, incomplete).",
	}, []string{"outcome"}), "blackbox_dispatch_total")
	if err != nil {
		return nil, err
	}
	bytesSent, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blackbox_dispatch_bytes_total",
		Help: "Bytes of telemetry frames accepted by the satellite network.",
	}), "blackbox_dispatch_bytes_total")
	if err != nil {
		return nil, err
	}
	exchanges, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blackbox_config_exchanges_total",
		Help: "Configuration replies received, labeled by result (accepted, malformed).",
	}, []string{"result"}), "blackbox_config_exchanges_total")
	if err != nil {
		return nil, err
	}
	samples, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blackbox_samples_total",
		Help: "Telemetry samples offered to the aggregator, labeled by kind.",
	}, []string{"kind"}), "blackbox_samples_total")
	if err != nil {
		return nil, err
	}
	state, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blackbox_operating_state",
		Help: "1 for the current operating state, 0 for every other state.",
	}, []string{"state"}), "blackbox_operating_state")
	if err != nil {
		return nil, err
	}
	signal, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blackbox_signal_bars",
		Help: "Satellite signal quality from the last query, 0 to 5.",
	}), "blackbox_signal_bars")
	if err != nil {
		return nil, err
	}

	for _, s := range indicator.States() {
		state.WithLabelValues(s.String()).Set(0)
	}

	return &Collector{
		gatherer:       gatherer,
		Dispatches:     dispatches,
		BytesSent:      bytesSent,
		Exchanges:      exchanges,
		Samples:        samples,
		OperatingState: state,
		SignalBars:     signal,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) State(s indicator.State) {
	for _, x := range indicator.States() {
		v := 0.0
		if x == s {
			v = 1
		}
		c.OperatingState.WithLabelValues(x.String()).Set(v)
	}
}

func (c *Collector) Dispatch(outcome string, bytes int) {
	c.Dispatches.WithLabelValues(outcome).Inc()
	if outcome == "sent" {
		c.BytesSent.Add(float64(bytes))
	}
}

func (c *Collector) ConfigExchange(accepted bool) {
	result := "accepted"
	if !accepted {
		result = "malformed"
	}
	c.Exchanges.WithLabelValues(result).Inc()
}

func (c *Collector) Signal(bars int) { c.SignalBars.Set(float64(bars)) }

func (c *Collector) Sample(kind telemetry.Kind) {
	c.Samples.WithLabelValues(kind.String()).Inc()
}

// register adds col to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
