// Package metrics holds the process prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onay_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "onay_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onay_gateway",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests sent to the ticketing backend.",
		},
		[]string{"endpoint", "status"},
	)
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "onay_gateway",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Ticketing backend request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	signIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onay_gateway",
			Subsystem: "session",
			Name:      "sign_ins_total",
			Help:      "Credential exchanges by trigger and result.",
		},
		[]string{"forced", "result"},
	)
	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onay_gateway",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retried attempts after a transient failure.",
		},
		[]string{"component"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, upstreamRequests, upstreamDuration, signIns, retries)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	Register()
	s := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, s).Inc()
	httpDuration.WithLabelValues(method, route, s).Observe(d.Seconds())
}

// RecordUpstream records one backend call. status 0 means the call failed in transport.
func RecordUpstream(endpoint string, status int, d time.Duration) {
	Register()
	s := "error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	upstreamRequests.WithLabelValues(endpoint, s).Inc()
	upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func RecordSignIn(forced bool, err error) {
	Register()
	result := "ok"
	if err != nil {
		result = "error"
	}
	signIns.WithLabelValues(strconv.FormatBool(forced), result).Inc()
}

func RecordRetry(component string) {
	Register()
	retries.WithLabelValues(component).Inc()
}
