// File: multi/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multi

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	reg       prometheus.Registerer
	added     prometheus.Counter
	cancelled prometheus.Counter
	completed *prometheus.CounterVec
	active    prometheus.Gauge
	running   prometheus.Gauge
	sockets   prometheus.Gauge
	drives    prometheus.Counter
	fatal     prometheus.Counter
}

func newMetrics(name string, reg prometheus.Registerer) (*metrics, error) {
	labels := prometheus.Labels{"engine": name}
	opts := func(n, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "hioload", Subsystem: "xfer", Name: n, Help: help, ConstLabels: labels}
	}
	m := &metrics{
		reg:       reg,
		added:     prometheus.NewCounter(prometheus.CounterOpts(opts("added_total", "Transfers registered with the engine."))),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts(opts("cancelled_total", "Transfers removed before completion."))),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts(opts("completed_total", "Transfers completed, by result class.")), []string{"result"}),
		active:    prometheus.NewGauge(prometheus.GaugeOpts(opts("active", "Handles currently registered."))),
		running:   prometheus.NewGauge(prometheus.GaugeOpts(opts("running", "Transfers the driver reported as still running."))),
		sockets:   prometheus.NewGauge(prometheus.GaugeOpts(opts("sockets", "Live socket contexts."))),
		drives:    prometheus.NewCounter(prometheus.CounterOpts(opts("drives_total", "Driver socket actions performed."))),
		fatal:     prometheus.NewCounter(prometheus.CounterOpts(opts("fatal_total", "Fatal protocol errors."))),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			m.unregister()
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.added, m.cancelled, m.completed, m.active, m.running, m.sockets, m.drives, m.fatal}
}

func (m *metrics) unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors() {
		m.reg.Unregister(c)
	}
}
