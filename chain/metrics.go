package chain

import (
	"errors"
	"math/big"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "commitchain"

type metrics struct {
	calls             *prometheus.CounterVec
	events            *prometheus.CounterVec
	currentEon        prometheus.Gauge
	lastFinalized     prometheus.Gauge
	custody           prometheus.Gauge
	pendingChallenges prometheus.Gauge
	faulted           prometheus.Gauge
}

// newMetrics builds the chain's collectors and registers them on reg when
// it is not nil. A second chain on the same registry shares the collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "calls_total",
			Help: "Inbound calls by operation and result kind.",
		}, []string{"op", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Emitted events by kind.",
		}, []string{"kind"}),
		currentEon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "current_eon", Help: "Eon of the last observed block.",
		}),
		lastFinalized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_finalized_eon", Help: "Most recent finalized eon.",
		}),
		custody: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "custody", Help: "Funds held by the chain.",
		}),
		pendingChallenges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_challenges", Help: "Challenges awaiting a hub response.",
		}),
		faulted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "faulted", Help: "1 once the hub has been found at fault.",
		}),
	}
	if reg == nil {
		return m
	}
	m.calls = register(reg, m.calls).(*prometheus.CounterVec)
	m.events = register(reg, m.events).(*prometheus.CounterVec)
	m.currentEon = register(reg, m.currentEon).(prometheus.Gauge)
	m.lastFinalized = register(reg, m.lastFinalized).(prometheus.Gauge)
	m.custody = register(reg, m.custody).(prometheus.Gauge)
	m.pendingChallenges = register(reg, m.pendingChallenges).(prometheus.Gauge)
	m.faulted = register(reg, m.faulted).(prometheus.Gauge)
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		log.Warn(log.ChainMonitoring, "metric registration failed", "err", err)
	}
	return c
}

func (m *metrics) call(op string, err error) {
	result := "ok"
	if err != nil {
		result = chainerrors.KindOf(err).String()
	}
	m.calls.WithLabelValues(op, result).Inc()
}

// observe runs with c.mu held.
func (m *metrics) observe(c *Chain) {
	m.currentEon.Set(float64(c.params.EonAt(c.lastBlock)))
	m.lastFinalized.Set(float64(c.lastFinalized))
	m.custody.Set(toFloat(&c.custody))
	if c.faulted() {
		m.faulted.Set(1)
		m.pendingChallenges.Set(0)
		return
	}
	m.pendingChallenges.Set(float64(c.challenges.PendingCount(c.lastFinalized + 1)))
}

func toFloat(x *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f
}
