// Package metrics collects deploy outcomes and device availability. The
// CLI is short lived, so metrics are written to a node-exporter textfile
// instead of being served.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const namespace = "gpudeploy"

// Recorder is safe to use as a nil pointer, in which case it records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	devicesPresent *prometheus.GaugeVec
	devicesClaimed *prometheus.GaugeVec
	devicesFree    *prometheus.GaugeVec
	jobsLaunched   *prometheus.CounterVec
	jobsSkipped    *prometheus.CounterVec
	jobsStopped    *prometheus.CounterVec
	deployFailures *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		devicesPresent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "present",
			Help:      "accelerator devices present on the host",
		}, []string{"host"}),

		devicesClaimed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "claimed",
			Help:      "accelerator devices visible inside running containers",
		}, []string{"host"}),

		devicesFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "free",
			Help:      "accelerator devices not claimed by any container",
		}, []string{"host"}),

		jobsLaunched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "launched_total",
			Help:      "jobs started",
		}, []string{"host", "owner", "service", "workload"}),

		jobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "already_running_total",
			Help:      "slots skipped because a job with the same name was running",
		}, []string{"host", "owner", "service", "workload"}),

		jobsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "stopped_total",
			Help:      "jobs stopped or killed",
		}, []string{"host", "signal"}),

		deployFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "failures_total",
			Help:      "deploys aborted, by the stage that failed",
		}, []string{"host", "stage"}),

		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "duration_seconds",
			Help:      "wall time of a deploy on one host",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}, []string{"host"}),
	}
	r.registry.MustRegister(
		r.devicesPresent,
		r.devicesClaimed,
		r.devicesFree,
		r.jobsLaunched,
		r.jobsSkipped,
		r.jobsStopped,
		r.deployFailures,
		r.deployDuration,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) SetDevices(host string, present, claimed, free int) {
	if r == nil {
		return
	}
	r.devicesPresent.WithLabelValues(host).Set(float64(present))
	r.devicesClaimed.WithLabelValues(host).Set(float64(claimed))
	r.devicesFree.WithLabelValues(host).Set(float64(free))
}

func (r *Recorder) JobLaunched(host, owner, service, workload string) {
	if r == nil {
		return
	}
	r.jobsLaunched.WithLabelValues(host, owner, service, workload).Inc()
}

func (r *Recorder) JobAlreadyRunning(host, owner, service, workload string) {
	if r == nil {
		return
	}
	r.jobsSkipped.WithLabelValues(host, owner, service, workload).Inc()
}

func (r *Recorder) JobsStopped(host, signal string, n int) {
	if r == nil {
		return
	}
	r.jobsStopped.WithLabelValues(host, signal).Add(float64(n))
}

func (r *Recorder) DeployFailed(host, stage string) {
	if r == nil {
		return
	}
	r.deployFailures.WithLabelValues(host, stage).Inc()
}

func (r *Recorder) ObserveDeploy(host string, seconds float64) {
	if r == nil {
		return
	}
	r.deployDuration.WithLabelValues(host).Observe(seconds)
}

// WriteTextfile dumps every collected metric to path in the text
// exposition format, atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return err
	}
	log.Debugf("metrics written to %s", path)
	return nil
}
