package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the broadcaster. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionState     prometheus.Gauge
	sessionsStarted  prometheus.Counter
	sessionFailures  *prometheus.CounterVec
	videoFrames      prometheus.Counter
	keyframes        prometheus.Counter
	videoBytes       prometheus.Counter
	audioChunks      prometheus.Counter
	audioBytes       prometheus.Counter
	relayFPS         prometheus.Gauge
	relayBitrate     prometheus.Gauge
	relayDropped     prometheus.Gauge
	overlayFetches   prometheus.Gauge
	overlayFailures  prometheus.Gauge
	matchesArmed     prometheus.Counter
	countdownsFired  prometheus.Counter
	serviceErrors    *prometheus.CounterVec
	orchestratorAuto prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtlive_session_state",
			Help: "Broadcast session state: 0 idle, 1 starting, 2 live, 3 stopping",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_sessions_started_total",
			Help: "Total number of sessions that reached live",
		}),
		sessionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courtlive_session_failures_total",
			Help: "Total number of fatal session errors by kind",
		}, []string{"kind"}),
		videoFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_video_frames_total",
			Help: "Total number of encoded video access units sent to the relay",
		}),
		keyframes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_video_keyframes_total",
			Help: "Total number of keyframes sent to the relay",
		}),
		videoBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_video_bytes_total",
			Help: "Total number of Annex-B bytes sent to the relay",
		}),
		audioChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_audio_chunks_total",
			Help: "Total number of audio chunks sent to the relay",
		}),
		audioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_audio_bytes_total",
			Help: "Total number of audio bytes sent to the relay",
		}),
		relayFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtlive_relay_fps",
			Help: "Frame rate last reported by the relay",
		}),
		relayBitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtlive_relay_bitrate_kbps",
			Help: "Bitrate last reported by the relay",
		}),
		relayDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtlive_relay_dropped_frames",
			Help: "Dropped frames last reported by the relay",
		}),
		overlayFetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtlive_overlay_fetches",
			Help: "Overlay snapshot fetches attempted",
		}),
		overlayFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtlive_overlay_fetch_failures",
			Help: "Overlay snapshot fetches that failed",
		}),
		matchesArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_matches_armed_total",
			Help: "Total number of matches a countdown was armed for",
		}),
		countdownsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courtlive_countdowns_completed_total",
			Help: "Total number of countdowns that started a session",
		}),
		serviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courtlive_service_errors_total",
			Help: "Total number of failed calls to the match service by operation",
		}, []string{"op"}),
		orchestratorAuto: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtlive_auto_mode",
			Help: "1 when the orchestrator follows the court automatically",
		}),
	}

	registry.MustRegister(
		m.sessionState,
		m.sessionsStarted,
		m.sessionFailures,
		m.videoFrames,
		m.keyframes,
		m.videoBytes,
		m.audioChunks,
		m.audioBytes,
		m.relayFPS,
		m.relayBitrate,
		m.relayDropped,
		m.overlayFetches,
		m.overlayFailures,
		m.matchesArmed,
		m.countdownsFired,
		m.serviceErrors,
		m.orchestratorAuto,
	)
	return m
}

func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(state))
}

func (m *Metrics) IncSessionsStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) IncSessionFailure(kind string) {
	if m == nil {
		return
	}
	m.sessionFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddVideo(bytes int, keyframe bool) {
	if m == nil {
		return
	}
	m.videoFrames.Inc()
	m.videoBytes.Add(float64(bytes))
	if keyframe {
		m.keyframes.Inc()
	}
}

func (m *Metrics) AddAudio(bytes int) {
	if m == nil {
		return
	}
	m.audioChunks.Inc()
	m.audioBytes.Add(float64(bytes))
}

func (m *Metrics) SetRelayHealth(fps, bitrateKbps float64, dropped int) {
	if m == nil {
		return
	}
	m.relayFPS.Set(fps)
	m.relayBitrate.Set(bitrateKbps)
	m.relayDropped.Set(float64(dropped))
}

func (m *Metrics) SetOverlayStats(fetches, failures int64) {
	if m == nil {
		return
	}
	m.overlayFetches.Set(float64(fetches))
	m.overlayFailures.Set(float64(failures))
}

func (m *Metrics) IncMatchesArmed() {
	if m == nil {
		return
	}
	m.matchesArmed.Inc()
}

func (m *Metrics) IncCountdownsFired() {
	if m == nil {
		return
	}
	m.countdownsFired.Inc()
}

func (m *Metrics) IncServiceError(op string) {
	if m == nil {
		return
	}
	m.serviceErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SetAuto(enabled bool) {
	if m == nil {
		return
	}
	v := 0.0
	if enabled {
		v = 1
	}
	m.orchestratorAuto.Set(v)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh polled values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
