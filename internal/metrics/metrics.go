// Package metrics exposes Prometheus gauges, counters, and a response-time
// histogram for every probed task. Updates here are unconditional — they
// run after every observation regardless of whether the alert state
// machine decided to notify anyone, so external scrapers always see the
// current alarm truth, not the suppressed-notification view.
//
// The teacher repo never wired prometheus/client_golang directly (its own
// health endpoint is hand-formatted); this package is grounded instead on
// the sibling example repos that do use it for exactly this kind of gauge
// and histogram exposition.
package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/pilot-net/urlcheck/pkg/types"
)

// Registry owns every metric this process exposes and the process-health
// snapshot served from GET /health.
type Registry struct {
	reg *prometheus.Registry

	status          *prometheus.GaugeVec
	respTime        *prometheus.HistogramVec
	probeTimeouts   *prometheus.CounterVec
	probeSuccess    *prometheus.CounterVec
	sslVerifyResult *prometheus.CounterVec

	jsonParseValid  *prometheus.GaugeVec
	jsonPathMatch   *prometheus.GaugeVec
	contentMatch    *prometheus.GaugeVec
	sslDaysRemain   *prometheus.GaugeVec
	alertState      *prometheus.GaugeVec

	startTime time.Time

	mu          sync.Mutex
	procPID     int32
}

// New builds and registers every metric family.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg:       reg,
		startTime: time.Now(),
		procPID:   int32(os.Getpid()),

		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "urlcheck_task_status_code",
			Help: "Last observed HTTP status code per task (-1 for transport failure).",
		}, []string{"task"}),

		respTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "urlcheck_task_response_time_ms",
			Help:    "Observed response time in milliseconds per task.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"task"}),

		probeTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlcheck_probe_timeouts_total",
			Help: "Total transport failures (timeout/DNS/connect/TLS) per task.",
		}, []string{"task"}),

		probeSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlcheck_probe_total",
			Help: "Total completed probes per task, labeled by status code.",
		}, []string{"task", "status"}),

		sslVerifyResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlcheck_ssl_verify_total",
			Help: "SSL verification outcomes per task.",
		}, []string{"task", "result"}),

		jsonParseValid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "urlcheck_json_parseable",
			Help: "1 if the last response body parsed as JSON, else 0.",
		}, []string{"task"}),

		jsonPathMatch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "urlcheck_json_path_matched",
			Help: "1 if the configured JSON path matched its expected value, else 0.",
		}, []string{"task"}),

		contentMatch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "urlcheck_content_match",
			Help: "1 if the configured substring was found in the response body, else 0.",
		}, []string{"task"}),

		sslDaysRemain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "urlcheck_ssl_days_remaining",
			Help: "Days remaining until TLS certificate expiry.",
		}, []string{"task"}),

		alertState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "urlcheck_alert_state",
			Help: "Current alarm condition per task and kind (1=failing), independent of notification suppression.",
		}, []string{"task", "kind"}),
	}

	reg.MustRegister(
		r.status, r.respTime, r.probeTimeouts, r.probeSuccess, r.sslVerifyResult,
		r.jsonParseValid, r.jsonPathMatch, r.contentMatch, r.sslDaysRemain, r.alertState,
	)
	return r
}

// Registerer exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Registerer() *prometheus.Registry { return r.reg }

// Observe records one probe's metrics: status, latency, provenance gauges,
// and counters. Called once per probe regardless of alert suppression.
func (r *Registry) Observe(taskName string, flags types.ConditionFlags, obs types.Observation) {
	statusCode := -1
	if obs.HTTP != nil {
		statusCode = obs.HTTP.StatusCode
	}

	r.status.WithLabelValues(taskName).Set(float64(statusCode))
	r.respTime.WithLabelValues(taskName).Observe(float64(obs.RespTimeMs()))

	if obs.IsTransportFailure() {
		r.probeTimeouts.WithLabelValues(taskName).Inc()
	}
	r.probeSuccess.WithLabelValues(taskName, statusLabel(statusCode)).Inc()

	if flags.HasHTTPResponse {
		r.contentMatch.WithLabelValues(taskName).Set(boolFloat(!flags.SubstringFail))
		r.jsonParseValid.WithLabelValues(taskName).Set(boolFloat(flags.JSONParseable))
		r.jsonPathMatch.WithLabelValues(taskName).Set(boolFloat(flags.JSONPathMatched))
	}

	if obs.HTTP != nil && obs.HTTP.TLSCertExpiry != nil {
		days := time.Until(*obs.HTTP.TLSCertExpiry).Hours() / 24
		r.sslDaysRemain.WithLabelValues(taskName).Set(days)
		result := "ok"
		if obs.HTTP.TLSVerifyErr != "" {
			result = "failed"
		}
		r.sslVerifyResult.WithLabelValues(taskName, result).Inc()
	}

	for _, k := range types.AllKinds {
		r.alertState.WithLabelValues(taskName, string(k)).Set(boolFloat(flags.Failing(k)))
	}
}

func statusLabel(code int) string {
	if code < 0 {
		return "transport_failure"
	}
	return prometheusStatusBucket(code)
}

func prometheusStatusBucket(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ProcessHealth is the snapshot served by GET /health's "scheduler" block.
type ProcessHealth struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	GoroutineCount int     `json:"goroutine_count"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryMB       float64 `json:"memory_mb"`
}

// Snapshot gathers process health via gopsutil, matching the pattern the
// control plane's own collector uses for its control-plane health block.
func (r *Registry) Snapshot() ProcessHealth {
	h := ProcessHealth{
		UptimeSeconds:  time.Since(r.startTime).Seconds(),
		GoroutineCount: runtime.NumGoroutine(),
	}

	r.mu.Lock()
	pid := r.procPID
	r.mu.Unlock()

	proc, err := process.NewProcess(pid)
	if err != nil {
		return h
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		h.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		h.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	return h
}
