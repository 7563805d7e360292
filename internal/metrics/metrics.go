// Package metrics exposes Prometheus instrumentation for sessions, sensor
// bridges and stream fusion.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sensor bridges
	sensorLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breathlab_sensor_lines_total",
		Help: "Decoded sensor lines by source and kind",
	}, []string{"source", "kind"}) // kind=data|message|error

	bridgeStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breathlab_bridge_starts_total",
		Help: "Sensor process launches by source and outcome",
	}, []string{"source", "outcome"}) // outcome=success|failure

	bridgeStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breathlab_bridge_stops_total",
		Help: "Sensor process terminations by source and reason",
	}, []string{"source", "reason"}) // reason=stop|eof|protocol_error

	bridgeRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breathlab_bridge_running",
		Help: "Whether a sensor process is live (1) or not (0)",
	}, []string{"source"})

	// Stream fusion
	fusionRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breathlab_fusion_records_total",
		Help: "Fusion buffer operations by kind",
	}, []string{"op"}) // op=appended|backfilled|discarded|invalid

	// Sessions
	responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breathlab_responses_total",
		Help: "Scored responses by outcome and reaction",
	}, []string{"outcome", "reaction"})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breathlab_sessions_total",
		Help: "Completed sessions by level and final status",
	}, []string{"level", "status"})

	sessionWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "breathlab_session_warnings_total",
		Help: "Warnings attached to session results",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "breathlab_active_sessions",
		Help: "Sessions currently running",
	})
)

func IncSensorLine(source, kind string) { sensorLinesTotal.WithLabelValues(source, kind).Inc() }

func IncBridgeStart(source string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	bridgeStartsTotal.WithLabelValues(source, outcome).Inc()
}

func IncBridgeStop(source, reason string) { bridgeStopsTotal.WithLabelValues(source, reason).Inc() }

func SetBridgeRunning(source string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	bridgeRunning.WithLabelValues(source).Set(v)
}

func IncFusion(op string) { fusionRecordsTotal.WithLabelValues(op).Inc() }

func IncResponse(outcome, reaction string) {
	responsesTotal.WithLabelValues(outcome, reaction).Inc()
}

// RecordSessionEnd counts a finished session and its warnings.
func RecordSessionEnd(level, status string, warnings int) {
	sessionsTotal.WithLabelValues(level, status).Inc()
	sessionWarningsTotal.Add(float64(warnings))
}

func SessionStarted() { activeSessions.Inc() }
func SessionEnded()   { activeSessions.Dec() }
