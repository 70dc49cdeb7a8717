package observability

import (
	"errors"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "interplay"

// Delivery results.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultPanic    = "panic"
	ResultTimeout  = "timeout"
	ResultFiltered = "filtered"
)

// Drop reasons.
const (
	DropOutboxFull     = "outbox_full"
	DropNoTarget       = "no_target"
	DropSlowSubscriber = "slow_subscriber"
)

// Metrics groups the collectors of one runtime.
type Metrics struct {
	deliveries      *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	deliverySeconds prometheus.Histogram
	instances       *prometheus.GaugeVec
	storeWrites     *prometheus.CounterVec
	reloads         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "deliveries_total",
				Help:      "Route deliveries by result",
			},
			[]string{"result"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "dropped_total",
				Help:      "Events dropped before delivery",
			},
			[]string{"reason"},
		),
		deliverySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "delivery_seconds",
				Help:      "Duration of a single route delivery in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		instances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances",
				Help:      "Module instances by lifecycle state",
			},
			[]string{"state"},
		),
		storeWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "writes_total",
				Help:      "State backend writes by result",
			},
			[]string{"result"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loader",
				Name:      "reloads_total",
				Help:      "Manifest reloads by result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(err, &already) {
					continue
				}
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.deliveries, m.dropped, m.deliverySeconds, m.instances, m.storeWrites, m.reloads}
}

// Delivery records the outcome and duration of one route delivery.
func (m *Metrics) Delivery(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
	if result != ResultFiltered {
		m.deliverySeconds.Observe(d.Seconds())
	}
}

// Dropped counts an event that never reached delivery.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Transition moves one instance between state gauges. An empty from means the
// instance is new; destroyed instances are not tracked.
func (m *Metrics) Transition(from, to domain.InstanceState) {
	if m == nil || from == to {
		return
	}
	if from != "" {
		m.instances.WithLabelValues(string(from)).Dec()
	}
	if to != domain.StateDestroyed {
		m.instances.WithLabelValues(string(to)).Inc()
	}
}

// StoreWrite counts a backend write.
func (m *Metrics) StoreWrite(err error) {
	if m == nil {
		return
	}
	m.storeWrites.WithLabelValues(resultOf(err)).Inc()
}

// Reload counts a manifest reload.
func (m *Metrics) Reload(err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
