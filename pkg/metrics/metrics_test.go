package metrics

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SetActiveJobs(3)
	m.JobSubmitted("accepted")
	m.JobSubmitted("accepted")
	m.JobSubmitted("duplicate")
	m.JobCancelled(false)
	m.JobCancelled(true)
	m.WorkerExited("error")
	m.TrialFinished("succeeded", 2*time.Second)

	if got := testutil.ToFloat64(m.activeJobs); got != 3 {
		t.Errorf("active jobs = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.jobsSubmitted.WithLabelValues("accepted")); got != 2 {
		t.Errorf("accepted submissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.jobsCancelled.WithLabelValues("forced")); got != 1 {
		t.Errorf("forced cancellations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.trials.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("succeeded trials = %v, want 1", got)
	}
}

func TestWriteText(t *testing.T) {
	m := New()
	m.WorkerExited("signal")

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE msearch_worker_exits_total counter",
		`msearch_worker_exits_total{reason="signal"} 1`,
		"msearch_pool_active_jobs 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.JobSubmitted("capacity")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `msearch_jobs_submitted_total{result="capacity"} 1`) {
		t.Error("handler output missing submission counter")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SetActiveJobs(1)
	m.JobSubmitted("accepted")
	m.JobCancelled(true)
	m.WorkerExited("success")
	m.TrialFinished("fatal", time.Second)
	if err := m.SampleHost(context.Background()); err != nil {
		t.Errorf("SampleHost on nil: %v", err)
	}
	if err := m.WriteText(&bytes.Buffer{}); err != nil {
		t.Errorf("WriteText on nil: %v", err)
	}
}

func TestSampleHost(t *testing.T) {
	m := New()
	if err := m.SampleHost(context.Background()); err != nil {
		t.Skipf("host stats unavailable: %v", err)
	}
	if testutil.ToFloat64(m.hostMemUsed) <= 0 {
		t.Error("expected non-zero memory usage")
	}
}
