package installer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are written once per run in the node_exporter textfile format.
type metrics struct {
	reg      *prometheus.Registry
	duration *prometheus.GaugeVec
	success  *prometheus.GaugeVec
	finished prometheus.Gauge
	ok       prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "alpine_autoinstall",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each install stage.",
		}, []string{"stage"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "alpine_autoinstall",
			Name:      "stage_success",
			Help:      "1 if the stage completed, 0 if it failed.",
		}, []string{"stage"}),
		finished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alpine_autoinstall",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run ended.",
		}),
		ok: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alpine_autoinstall",
			Name:      "last_run_success",
			Help:      "1 if the last run installed the system.",
		}),
	}
	m.reg.MustRegister(m.duration, m.success, m.finished, m.ok)
	return m
}

func (m *metrics) observe(stage string, took time.Duration, err error) {
	m.duration.WithLabelValues(stage).Set(took.Seconds())
	v := 1.0
	if err != nil {
		v = 0
	}
	m.success.WithLabelValues(stage).Set(v)
}

func (m *metrics) finish(ok bool) {
	m.finished.SetToCurrentTime()
	if ok {
		m.ok.Set(1)
	} else {
		m.ok.Set(0)
	}
}

func (m *metrics) write(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
