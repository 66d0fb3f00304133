// Package metrics exposes the Prometheus instrumentation for the SIP and
// RTP planes.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// SIP metrics
	SIPRequestsTotal    *prometheus.CounterVec
	SIPResponsesTotal   *prometheus.CounterVec
	ActiveCalls         prometheus.Gauge
	ActiveRegistrations prometheus.Gauge
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	BannedIPsTotal      prometheus.Counter
	KeepAliveTimeouts   prometheus.Counter

	// RTP metrics
	RTPPacketsSent       prometheus.Counter
	RTPPacketsReceived   prometheus.Counter
	RTPFramesReassembled prometheus.Counter
	RTPFramesDropped     prometheus.Counter
	RTPSendErrors        prometheus.Counter
)

// Init registers every collector exactly once.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SIPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_requests_total",
			Help: "SIP requests processed, by method",
		}, []string{"method"})

		SIPResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_responses_total",
			Help: "SIP responses sent, by status code",
		}, []string{"code"})

		ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sip_active_calls",
			Help: "Call records currently tracked",
		})

		ActiveRegistrations = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sip_active_registrations",
			Help: "URIs currently registered",
		})

		ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sip_connections_active",
			Help: "Accepted client connections",
		})

		ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_connections_rejected_total",
			Help: "Connections refused at accept, by reason",
		}, []string{"reason"})

		BannedIPsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_banned_ips_total",
			Help: "IPs added to the permanent blacklist",
		})

		KeepAliveTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_keepalive_timeouts_total",
			Help: "Connections closed for missing a keep-alive probe",
		})

		RTPPacketsSent = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtp_packets_sent_total",
			Help: "RTP packets written to the wire",
		})

		RTPPacketsReceived = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtp_packets_received_total",
			Help: "RTP packets read off the wire",
		})

		RTPFramesReassembled = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtp_frames_reassembled_total",
			Help: "Complete frames delivered by reassembly",
		})

		RTPFramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtp_frames_dropped_total",
			Help: "Frames dropped: malformed packets, lost fragments, full queues",
		})

		RTPSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtp_send_errors_total",
			Help: "Socket errors on RTP send (packet dropped, non-fatal)",
		})

		registry.MustRegister(
			SIPRequestsTotal, SIPResponsesTotal, ActiveCalls, ActiveRegistrations,
			ConnectionsActive, ConnectionsRejected, BannedIPsTotal, KeepAliveTimeouts,
			RTPPacketsSent, RTPPacketsReceived, RTPFramesReassembled, RTPFramesDropped,
			RTPSendErrors,
		)

		if logger != nil {
			logger.Debug("Metrics registry initialized")
		}
	})
}

// Handler returns the scrape endpoint handler. Init must have run.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
