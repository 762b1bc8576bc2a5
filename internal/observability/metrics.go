package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_live_active_sessions",
		Help: "Number of sessions currently connecting or active",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_live_sessions_total",
		Help: "Total number of sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_live_session_duration_seconds",
		Help:    "Duration of sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	sessionAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_live_session_aborts_total",
		Help: "Sessions ended by an error rather than an explicit stop",
	}, []string{"kind"})

	// Transport metrics
	transportOpenLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_live_transport_open_seconds",
		Help:    "Time from dial to setup completion",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	transportOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_live_transport_opens_total",
		Help: "Transport open attempts by outcome",
	}, []string{"status"})

	// Capture metrics
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_live_capture_frames_sent_total",
		Help: "Encoded capture frames handed to the transport",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_live_capture_frames_dropped_total",
		Help: "Capture frames that were not sent",
	}, []string{"reason"})

	speechActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_live_capture_speech_active",
		Help: "1 while local voice activity is detected on the microphone",
	})

	speechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_live_capture_speech_segments_total",
		Help: "Local speech segments detected on the microphone",
	})

	// Playback metrics
	chunksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_live_playback_chunks_scheduled_total",
		Help: "Decoded output chunks scheduled for playback",
	})

	playbackLead = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_live_playback_lead_seconds",
		Help:    "Buffered audio ahead of the output clock when a chunk is scheduled",
		Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_live_interruptions_total",
		Help: "Server-initiated interruptions of playback",
	})

	// Transcript metrics
	turnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_live_turns_completed_total",
		Help: "Turn completion signals received",
	})

	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_live_transcript_entries_total",
		Help: "Finalized transcript entries by speaker",
	}, []string{"speaker"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_live_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_live_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_live_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_live_audio_bytes_total",
		Help: "Total PCM bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session; later calls are ignored
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAbort records a session ended by an error of the given kind
func (m *Metrics) RecordAbort(kind string) {
	sessionAborts.WithLabelValues(kind).Inc()
}

// RecordTransportOpen records the outcome and latency of a transport open
func (m *Metrics) RecordTransportOpen(latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	} else {
		transportOpenLatency.Observe(latency.Seconds())
	}
	transportOpens.WithLabelValues(status).Inc()
}

// RecordFrameSent records an encoded frame handed to the transport
func (m *Metrics) RecordFrameSent() {
	framesSent.Inc()
}

// RecordFrameDropped records a capture frame that was not sent
func (m *Metrics) RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordSpeechStart records the start of a local speech segment
func (m *Metrics) RecordSpeechStart() {
	speechSegments.Inc()
	speechActive.Set(1)
}

// RecordSpeechEnd records the end of a local speech segment
func (m *Metrics) RecordSpeechEnd() {
	speechActive.Set(0)
}

// RecordChunkScheduled records a scheduled output chunk and how far ahead of the clock it starts
func (m *Metrics) RecordChunkScheduled(lead float64) {
	chunksScheduled.Inc()
	if lead < 0 {
		lead = 0
	}
	playbackLead.Observe(lead)
}

// RecordInterruption records a playback flush caused by the remote service
func (m *Metrics) RecordInterruption() {
	interruptions.Inc()
}

// RecordTurn records a turn completion and the entries it produced
func (m *Metrics) RecordTurn(speakers ...string) {
	turnsCompleted.Inc()
	for _, speaker := range speakers {
		transcriptEntries.WithLabelValues(speaker).Inc()
	}
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records PCM bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
