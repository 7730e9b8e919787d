package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics of the voice client.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Token fetch metrics
	TokenFetches       *prometheus.CounterVec
	TokenFetchDuration prometheus.Histogram
	IdentityRefreshes  prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	SpeakingTurns   *prometheus.CounterVec

	// Level metrics
	MicLevel    prometheus.Gauge
	RemoteLevel prometheus.Gauge

	// Audio metrics
	FramesPublished prometheus.Counter
	FramesDropped   prometheus.Counter
	FramesPlayed    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TokenFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gymmando_token_fetches_total",
			Help: "Total number of access token fetches by result",
		}, []string{"result"}),
		TokenFetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gymmando_token_fetch_duration_seconds",
			Help:    "Duration of access token fetches",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6s
		}),
		IdentityRefreshes: f.NewCounter(prometheus.CounterOpts{
			Name: "gymmando_identity_refreshes_total",
			Help: "Total number of ID token refreshes",
		}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "gymmando_sessions_started_total",
			Help: "Total number of sessions that reached the connected state",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gymmando_sessions_failed_total",
			Help: "Total number of session starts that failed, by stage",
		}, []string{"stage"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "gymmando_session_active",
			Help: "1 while a session is connected",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gymmando_session_duration_seconds",
			Help:    "Duration of connected sessions",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~42 minutes
		}),
		SpeakingTurns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gymmando_speaking_turns_total",
			Help: "Total number of speaking turns by speaker",
		}, []string{"speaker"}),

		MicLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "gymmando_mic_level",
			Help: "Most recent microphone level in [0, 1]",
		}),
		RemoteLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "gymmando_remote_level",
			Help: "Most recent smoothed remote level in [0, 1]",
		}),

		FramesPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "gymmando_audio_frames_published_total",
			Help: "Total number of 20ms microphone frames written to the room",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "gymmando_audio_frames_dropped_total",
			Help: "Total number of microphone frames that failed to encode or send",
		}),
		FramesPlayed: f.NewCounter(prometheus.CounterOpts{
			Name: "gymmando_audio_frames_played_total",
			Help: "Total number of remote audio packets decoded for playback",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gymmando_http_requests_total",
			Help: "Total number of control API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gymmando_http_request_duration_seconds",
			Help:    "Duration of control API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordTokenFetch counts a fetch and records its duration
func (m *Metrics) RecordTokenFetch(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.TokenFetches.WithLabelValues(result).Inc()
	m.TokenFetchDuration.Observe(d.Seconds())
}

// RecordIdentityRefresh counts an ID token refresh
func (m *Metrics) RecordIdentityRefresh() {
	if m == nil {
		return
	}
	m.IdentityRefreshes.Inc()
}

// RecordSessionStarted marks a session as connected
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Set(1)
}

// RecordSessionFailed counts a failed start at the given stage
func (m *Metrics) RecordSessionFailed(stage string) {
	if m == nil {
		return
	}
	m.SessionsFailed.WithLabelValues(stage).Inc()
}

// RecordSessionEnded records the duration of a connected session
func (m *Metrics) RecordSessionEnded(d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(0)
	m.SessionDuration.Observe(d.Seconds())
	m.MicLevel.Set(0)
	m.RemoteLevel.Set(0)
}

// RecordSpeakingTurn counts the start of a turn by "user" or "assistant"
func (m *Metrics) RecordSpeakingTurn(speaker string) {
	if m == nil {
		return
	}
	m.SpeakingTurns.WithLabelValues(speaker).Inc()
}

// SetLevels updates the level gauges
func (m *Metrics) SetLevels(mic, remote float64) {
	if m == nil {
		return
	}
	m.MicLevel.Set(mic)
	m.RemoteLevel.Set(remote)
}

// RecordFramePublished counts a microphone frame written to the room
func (m *Metrics) RecordFramePublished() {
	if m == nil {
		return
	}
	m.FramesPublished.Inc()
}

// RecordFrameDropped counts a microphone frame that never reached the room
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// RecordFramePlayed counts a remote packet decoded for playback
func (m *Metrics) RecordFramePlayed() {
	if m == nil {
		return
	}
	m.FramesPlayed.Inc()
}

// RecordHTTPRequest records a control API request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
