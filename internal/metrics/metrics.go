// Package metrics holds the Prometheus collectors shared by the monitor,
// capture engine and streaming bridge. All methods are safe on a nil
// *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	ticks           prometheus.Counter
	probeErrors     prometheus.Counter
	platformActive  *prometheus.GaugeVec
	platformCPU     *prometheus.GaugeVec
	phase           prometheus.Gauge
	sessions        *prometheus.CounterVec
	framesCaptured  prometheus.Counter
	framesDropped   prometheus.Counter
	saveFailures    prometheus.Counter
	windowsSent     prometheus.Counter
	transcriptions  prometheus.Counter
	responseTimeout prometheus.Counter
	reconnects      prometheus.Counter
	artifacts       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		reg: reg,

		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_detection_ticks_total",
			Help: "Detection ticks evaluated",
		}),
		probeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_probe_errors_total",
			Help: "Process table scans that failed",
		}),
		platformActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "focusnote_platform_active",
			Help: "1 if the platform predicate was true on the last tick",
		}, []string{"platform"}),
		platformCPU: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "focusnote_platform_cpu_percent",
			Help: "CPU percent reported for the platform on the last tick",
		}, []string{"platform"}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Name: "focusnote_detection_phase",
			Help: "Detection phase (0 idle, 1 confirming, 2 recording)",
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "focusnote_recording_sessions_total",
			Help: "Recording sessions started per platform",
		}, []string{"platform"}),
		framesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_frames_captured_total",
			Help: "Mixed audio frames produced by the capture loop",
		}),
		framesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_frames_dropped_total",
			Help: "Frames dropped because the streaming queue was full",
		}),
		saveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_recording_save_failures_total",
			Help: "Recordings that could not be written to disk",
		}),
		windowsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_transcription_windows_sent_total",
			Help: "Audio windows sent to the transcription server",
		}),
		transcriptions: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_transcriptions_received_total",
			Help: "Transcription messages received",
		}),
		responseTimeout: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_transcription_timeouts_total",
			Help: "Windows with no response before the deadline",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "focusnote_transcription_reconnects_total",
			Help: "Transcription transport connection failures",
		}),
		artifacts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "focusnote_summary_artifacts_total",
			Help: "Summary artifacts requested by kind and result",
		}, []string{"kind", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.InstrumentMetricHandler(m.reg, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) ProbeError() {
	if m == nil {
		return
	}
	m.probeErrors.Inc()
}

func (m *Metrics) Platform(platform string, active bool, cpu float64) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.platformActive.WithLabelValues(platform).Set(v)
	m.platformCPU.WithLabelValues(platform).Set(cpu)
}

func (m *Metrics) Phase(phase int) {
	if m == nil {
		return
	}
	m.phase.Set(float64(phase))
}

func (m *Metrics) SessionStarted(platform string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(platform).Inc()
}

func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.framesCaptured.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) SaveFailed() {
	if m == nil {
		return
	}
	m.saveFailures.Inc()
}

func (m *Metrics) WindowSent() {
	if m == nil {
		return
	}
	m.windowsSent.Inc()
}

func (m *Metrics) Transcription() {
	if m == nil {
		return
	}
	m.transcriptions.Inc()
}

func (m *Metrics) ResponseTimeout() {
	if m == nil {
		return
	}
	m.responseTimeout.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Artifact(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.artifacts.WithLabelValues(kind, result).Inc()
}
