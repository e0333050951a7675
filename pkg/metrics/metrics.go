package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const namespace = "msearch"

// Metrics holds the collectors exported by the supervisor and workers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activeJobs     prometheus.Gauge
	jobsSubmitted  *prometheus.CounterVec
	jobsCancelled  *prometheus.CounterVec
	workerExits    *prometheus.CounterVec
	trials         *prometheus.CounterVec
	trialDuration  prometheus.Histogram
	hostCPUPercent prometheus.Gauge
	hostMemUsed    prometheus.Gauge
	hostMemAvail   prometheus.Gauge
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_active_jobs",
			Help:      "Number of search jobs with a live worker process",
		}),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Job submissions by result (accepted, duplicate, capacity, spawn_error)",
		}, []string{"result"}),
		jobsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Cancelled jobs by termination mode",
		}, []string{"mode"}),
		workerExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Worker process exits by reason",
		}, []string{"reason"}),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Refinement trials by outcome",
		}, []string{"outcome"}),
		trialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_duration_seconds",
			Help:      "Wall time of a single generate and train trial",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		hostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_usage_percent",
			Help:      "Host CPU utilisation",
		}),
		hostMemUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_bytes",
			Help:      "Host memory in use",
		}),
		hostMemAvail: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_available_bytes",
			Help:      "Host memory available",
		}),
	}

	m.registry.MustRegister(
		m.activeJobs,
		m.jobsSubmitted,
		m.jobsCancelled,
		m.workerExits,
		m.trials,
		m.trialDuration,
		m.hostCPUPercent,
		m.hostMemUsed,
		m.hostMemAvail,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetActiveJobs records the number of live workers.
func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(n))
}

// JobSubmitted counts a Submit call by result.
func (m *Metrics) JobSubmitted(result string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(result).Inc()
}

// JobCancelled counts a cancellation; forced means SIGKILL was needed.
func (m *Metrics) JobCancelled(forced bool) {
	if m == nil {
		return
	}
	mode := "graceful"
	if forced {
		mode = "forced"
	}
	m.jobsCancelled.WithLabelValues(mode).Inc()
}

// WorkerExited counts a reaped worker process.
func (m *Metrics) WorkerExited(reason string) {
	if m == nil {
		return
	}
	m.workerExits.WithLabelValues(reason).Inc()
}

// TrialFinished records a trial outcome (succeeded, recoverable, fatal) and its duration.
func (m *Metrics) TrialFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.trials.WithLabelValues(outcome).Inc()
	m.trialDuration.Observe(d.Seconds())
}

// SampleHost refreshes the host gauges from gopsutil.
func (m *Metrics) SampleHost(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(pct) > 0 {
		m.hostCPUPercent.Set(pct[0])
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read memory stats: %w", err)
	}
	m.hostMemUsed.Set(float64(vm.Used))
	m.hostMemAvail.Set(float64(vm.Available))
	return nil
}

// RunHostSampler calls SampleHost every interval until ctx is done.
func (m *Metrics) RunHostSampler(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = m.SampleHost(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText writes every metric family as Prometheus text.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
