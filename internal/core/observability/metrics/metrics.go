// Package metrics exposes prometheus collectors for the dispatch core.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch holds the collectors updated by the dispatcher and the peers.
type Dispatch struct {
	MessagesReceived *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	HandleDuration   *prometheus.HistogramVec
	ProblemsSent     *prometheus.CounterVec
	SocketEntities   prometheus.Gauge
	ViewedEntities   prometheus.Gauge
}

// NewDispatch creates unregistered collectors under the given namespace.
func NewDispatch(namespace string) *Dispatch {
	return &Dispatch{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "messages_received_total",
				Help:      "Total number of decoded inbound messages",
			},
			[]string{"code"},
		),

		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "outcomes_total",
				Help:      "Handled messages by code and resulting problem code",
			},
			[]string{"code", "problem"},
		),

		DecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "decode_errors_total",
				Help:      "Inbound frames that could not be decoded",
			},
		),

		HandleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "handle_duration_seconds",
				Help:      "Time spent routing and handling one message",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"code"},
		),

		ProblemsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "problems_sent_total",
				Help:      "Problem messages sent back to sockets",
			},
			[]string{"problem"},
		),

		SocketEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "socket_entities",
				Help:      "Currently registered socket entities",
			},
		),

		ViewedEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "viewed_entities",
				Help:      "Currently watched viewed entities",
			},
		),
	}
}

// Register registers every collector. Collectors already registered are reused.
func (d *Dispatch) Register(reg prometheus.Registerer) error {
	for _, c := range d.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func (d *Dispatch) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		d.MessagesReceived,
		d.Outcomes,
		d.DecodeErrors,
		d.HandleDuration,
		d.ProblemsSent,
		d.SocketEntities,
		d.ViewedEntities,
	}
}

// ObserveReceived counts a decoded message.
func (d *Dispatch) ObserveReceived(code string) {
	d.MessagesReceived.WithLabelValues(code).Inc()
}

// ObserveOutcome records the result of handling one message.
func (d *Dispatch) ObserveOutcome(code, problem string, elapsed time.Duration) {
	d.Outcomes.WithLabelValues(code, problem).Inc()
	d.HandleDuration.WithLabelValues(code).Observe(elapsed.Seconds())
}

// ObserveDecodeError counts a frame rejected by the decoder.
func (d *Dispatch) ObserveDecodeError() {
	d.DecodeErrors.Inc()
}

// ObserveProblemSent counts an outbound problem message.
func (d *Dispatch) ObserveProblemSent(problem string) {
	d.ProblemsSent.WithLabelValues(problem).Inc()
}

// SetRegistrySizes publishes the current registry sizes.
func (d *Dispatch) SetRegistrySizes(sockets, viewed int) {
	d.SocketEntities.Set(float64(sockets))
	d.ViewedEntities.Set(float64(viewed))
}
