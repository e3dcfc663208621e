// Package metrics provides the Prometheus collectors exported by licensehub.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"licensehub/internal/version"
)

const (
	namespace = "licensehub"

	operationLabel = "operation"
	resultLabel    = "result"
	methodLabel    = "method"
	routeLabel     = "route"
	codeLabel      = "code"
	jobLabel       = "job"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds every collector licensehub reports.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion *prometheus.GaugeVec

	backupOperationsTotal   *prometheus.CounterVec
	backupCaptureSeconds    prometheus.Histogram
	backupRestoreSeconds    prometheus.Histogram
	backupLastSuccessSecond *prometheus.GaugeVec

	licenseTransitionsTotal *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec

	schedulerRunsTotal *prometheus.CounterVec
}

// New creates a registry with the process and Go collectors plus the
// licensehub collectors.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	m := &Metrics{
		registry: reg,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{"server_version"}),
		backupOperationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "operations_total",
			Help:      "Backup engine operations by operation and result.",
		}, []string{operationLabel, resultLabel}),
		backupCaptureSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "capture_seconds",
			Help:      "Time spent capturing and writing a snapshot.",
		}),
		backupRestoreSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "restore_seconds",
			Help:      "Time spent restoring a snapshot, rollbacks included.",
		}),
		backupLastSuccessSecond: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful operation.",
		}, []string{operationLabel}),
		licenseTransitionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "transitions_total",
			Help:      "License lifecycle transitions by target status.",
		}, []string{"status"}),
		httpRequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests by method, route and status code.",
		}, []string{methodLabel, routeLabel, codeLabel}),
		schedulerRunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{jobLabel, resultLabel}),
	}

	m.serverVersion.With(prometheus.Labels{"server_version": version.Info()}).Set(1)
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBackupOperation counts one backup engine operation.
func (m *Metrics) ObserveBackupOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.backupOperationsTotal.With(prometheus.Labels{
		operationLabel: operation,
		resultLabel:    result,
	}).Inc()
	if err == nil {
		m.backupLastSuccessSecond.With(prometheus.Labels{operationLabel: operation}).SetToCurrentTime()
	}
}

// ObserveCaptureDuration records the duration of a capture.
func (m *Metrics) ObserveCaptureDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.backupCaptureSeconds.Observe(d.Seconds())
}

// ObserveRestoreDuration records the duration of a restore.
func (m *Metrics) ObserveRestoreDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.backupRestoreSeconds.Observe(d.Seconds())
}

// AddLicenseTransition counts a license moving into status.
func (m *Metrics) AddLicenseTransition(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.licenseTransitionsTotal.With(prometheus.Labels{"status": status}).Add(float64(n))
}

// AddHTTPRequest counts one handled admin API request.
func (m *Metrics) AddHTTPRequest(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.With(prometheus.Labels{
		methodLabel: method,
		routeLabel:  route,
		codeLabel:   code,
	}).Inc()
}

// AddSchedulerRun counts one scheduled job run.
func (m *Metrics) AddSchedulerRun(job string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.schedulerRunsTotal.With(prometheus.Labels{jobLabel: job, resultLabel: result}).Inc()
}
