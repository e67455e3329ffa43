// Package metrics exposes bridge counters in prometheus format.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/vebridge/log2"
	"github.com/temoto/vebridge/vedirect"
)

const (
	namespace = "vebridge"

	LinkSerial = "serial"
	LinkMqtt   = "mqtt"
)

type Metrics struct {
	registry *prometheus.Registry

	Frames        *prometheus.CounterVec
	Published     prometheus.Counter
	PublishErrors prometheus.Counter
	SerialReopen  prometheus.Counter
	LinkConnected *prometheus.GaugeVec
	LastFrame     prometheus.Gauge
	LogErrors     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames finished by assembler, by outcome",
		}, []string{"outcome"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "MQTT messages accepted by client",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "MQTT publish failures",
		}),
		SerialReopen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_reopen_total",
			Help:      "Serial port reopen after fault",
		}),
		LinkConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_connected",
			Help:      "1 when link is connected",
		}, []string{"link"}),
		LastFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_frame_timestamp_seconds",
			Help:      "Unix time of last published frame",
		}),
		LogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Errors reported to log",
		}),
	}
	m.registry.MustRegister(m.Frames, m.Published, m.PublishErrors, m.SerialReopen, m.LinkConnected, m.LastFrame, m.LogErrors)
	for _, o := range vedirect.Outcomes() {
		m.Frames.WithLabelValues(o.String())
	}
	m.LinkConnected.WithLabelValues(LinkSerial).Set(0)
	m.LinkConnected.WithLabelValues(LinkMqtt).Set(0)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Outcome counts final assembler outcomes, Skip and Pending are ignored.
func (m *Metrics) Outcome(o vedirect.Outcome) {
	if m == nil || o == vedirect.OutcomeSkip || o == vedirect.OutcomePending {
		return
	}
	m.Frames.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) Link(link string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.LinkConnected.WithLabelValues(link).Set(v)
}

func (m *Metrics) SerialReopenInc() {
	if m != nil {
		m.SerialReopen.Inc()
	}
}

func (m *Metrics) FramePublished(n int, errs int, t time.Time) {
	if m == nil {
		return
	}
	m.Published.Add(float64(n))
	m.PublishErrors.Add(float64(errs))
	if n > 0 {
		m.LastFrame.Set(float64(t.Unix()))
	}
}

// LogError is log2.ErrorFunc.
func (m *Metrics) LogError(error) {
	if m != nil {
		m.LogErrors.Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs /metrics listener until ctx is done.
func (m *Metrics) Serve(ctx context.Context, log *log2.Log, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "metrics listen=%s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Infof("metrics listen=%s", ln.Addr())
	if err = srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Annotate(err, "metrics serve")
	}
	return nil
}
