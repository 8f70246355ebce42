// Package deploy stages assets on a host, starts one job per free device
// group and stops jobs again by owner, service and script.
package deploy

import (
	"errors"
	"fmt"
	"time"

	"github.com/AccessibleAI/gpu-deploy/pkg/allocator"
	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/gpumgr"
	"github.com/AccessibleAI/gpu-deploy/pkg/jobname"
	"github.com/AccessibleAI/gpu-deploy/pkg/jobs"
	"github.com/AccessibleAI/gpu-deploy/pkg/metrics"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/AccessibleAI/gpu-deploy/pkg/staging"
	log "github.com/sirupsen/logrus"
)

// Slot is one job of a deploy.
type Slot struct {
	Name    string
	Devices allocator.DeviceGroup
	// Port is the published notebook port, 0 for scripts.
	Port int
}

// Report is the outcome of a deploy on one host.
type Report struct {
	Host           string
	Free           []int
	Launched       []Slot
	AlreadyRunning []Slot
}

// Orchestrator is stateless between calls and may be used for several
// hosts concurrently. Two deploys against the same host are not
// serialized.
type Orchestrator struct {
	Spec   JobSpec
	Assets *Assets
	// RemoteRoot defaults to /home/<owner>/.gpu-deploy.
	RemoteRoot string
	BuildArgs  map[string]string
	Metrics    *metrics.Recorder

	codec *jobname.Codec
}

// New validates spec and, when given, assets. Stop and kill need no
// assets.
func New(spec JobSpec, assets *Assets) (*Orchestrator, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if assets != nil {
		if err := assets.validate(spec); err != nil {
			return nil, err
		}
	}
	codec, err := jobname.NewCodec(spec.Owner, spec.Service)
	if err != nil {
		return nil, configErr("owner/service", "%s", err)
	}
	return &Orchestrator{
		Spec:       spec,
		Assets:     assets,
		RemoteRoot: DefaultRemoteRoot(spec.Owner),
		BuildArgs:  DefaultBuildArgs(),
		codec:      codec,
	}, nil
}

func (o *Orchestrator) logger(host string) *log.Entry {
	return log.WithFields(log.Fields{"host": host, "owner": o.Spec.Owner, "service": o.Spec.Service})
}

// Deploy runs stage, probe, allocate and launch on host. Staged assets
// are removed on every return once staging has begun.
func (o *Orchestrator) Deploy(exr remote.Executor, host string) (rep *Report, err error) {
	if o.Assets == nil {
		return nil, configErr("assets", "deploy requires a docker dir")
	}
	start := time.Now()
	l := newLayout(o.RemoteRoot, o.Spec.Owner, o.Assets)
	rep = &Report{Host: host}
	stage := "staging"
	defer func() {
		o.finalize(exr, host, l)
		if err != nil && !errors.Is(err, ErrCapacityExhausted) {
			o.Metrics.DeployFailed(host, stage)
		}
		o.Metrics.ObserveDeploy(host, time.Since(start).Seconds())
	}()

	if err = o.stage(exr, host, l); err != nil {
		return rep, err
	}

	stage = "probing"
	var slots []Slot
	if o.Spec.Accelerated() {
		var a *gpumgr.Availability
		if a, err = gpumgr.NewGpuManager(exr, host).GetAvailability(); err != nil {
			return rep, err
		}
		o.Metrics.SetDevices(host, len(a.Present), len(a.Claimed), len(a.Free))
		rep.Free = a.Free

		stage = "allocating"
		if slots, err = o.allocate(host, a.Free); err != nil {
			return rep, err
		}
	} else {
		slots = []Slot{o.noGpuSlot()}
	}

	stage = "launching"
	err = o.launch(exr, host, l, slots, rep)
	return rep, err
}

func (o *Orchestrator) stage(exr remote.Executor, host string, l layout) error {
	o.logger(host).Infof("staging assets in %s", l.root)
	if err := staging.Reset(exr, host, l.root); err != nil {
		return err
	}
	if err := staging.CopyToHost(exr, host, o.Assets.DockerDir, l.dockerDir); err != nil {
		return err
	}
	if l.scriptsDir != "" {
		if err := staging.CopyToHost(exr, host, o.Assets.ScriptsDir, l.scriptsDir); err != nil {
			return err
		}
	}
	if l.envFile != "" {
		if err := staging.CopyFileToHost(exr, host, o.Assets.EnvFile, l.envFile); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) allocate(host string, free []int) ([]Slot, error) {
	groups, err := allocator.Allocate(free, o.Spec.GpuCount, o.Spec.MaxCount)
	if errors.Is(err, allocator.ErrNoFreeDevices) || (err == nil && len(groups) == 0) {
		return nil, fmt.Errorf("%w on %s: %d free, %d needed per job",
			ErrCapacityExhausted, host, len(free), o.Spec.GpuCount)
	}
	if err != nil {
		return nil, err
	}
	slots := make([]Slot, 0, len(groups))
	for _, g := range groups {
		s := Slot{Name: o.codec.Encode(o.Spec.Workload, g), Devices: g}
		if _, nb := o.Spec.Workload.(jobname.Notebook); nb {
			s.Port = compose.NotebookHostPort(g.Lowest())
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func (o *Orchestrator) noGpuSlot() Slot {
	s := Slot{Name: o.codec.EncodeNoGPU(o.Spec.Workload)}
	if _, nb := o.Spec.Workload.(jobname.Notebook); nb {
		s.Port = compose.NotebookPort
	}
	return s
}

// launch starts slots one at a time. The image is built once, right
// before the first job that is not already running.
func (o *Orchestrator) launch(exr remote.Executor, host string, l layout, slots []Slot, rep *Report) error {
	registry := jobs.NewRegistry(exr, host)
	built := false
	segment := o.Spec.Workload.Segment()
	for _, s := range slots {
		running, err := registry.Exists(s.Name)
		if err != nil {
			return err
		}
		if running {
			o.logger(host).Warnf("%s is already running, skipping", s.Name)
			rep.AlreadyRunning = append(rep.AlreadyRunning, s)
			o.Metrics.JobAlreadyRunning(host, o.Spec.Owner, o.Spec.Service, segment)
			continue
		}
		remote.RunWarnOnly(exr, host, compose.Cd(l.dockerDir, compose.RemoveStale(s.Name)))
		if !built {
			o.logger(host).Infof("building %s", o.Spec.Service)
			if _, err := remote.Run(exr, host, compose.Cd(l.dockerDir, compose.Build(o.Spec.Service, o.BuildArgs))); err != nil {
				return err
			}
			built = true
		}
		run, err := o.runOptions(s, l)
		if err != nil {
			return err
		}
		if _, err := remote.Run(exr, host, compose.Cd(l.dockerDir, compose.Run(run))); err != nil {
			return err
		}
		o.logger(host).Infof("started %s", s.Name)
		rep.Launched = append(rep.Launched, s)
		o.Metrics.JobLaunched(host, o.Spec.Owner, o.Spec.Service, segment)
	}
	return nil
}

func (o *Orchestrator) runOptions(s Slot, l layout) (compose.RunOptions, error) {
	run := compose.RunOptions{
		Name:    s.Name,
		Service: o.Spec.Service,
		Env:     map[string]string{compose.VisibleDevicesEnv: compose.NoVisibleDevices},
	}
	if len(s.Devices) > 0 {
		run.Env[compose.VisibleDevicesEnv] = s.Devices.Join(",")
	}
	switch w := o.Spec.Workload.(type) {
	case jobname.Notebook:
		run.Ports = map[int]int{s.Port: compose.NotebookPort}
		if w.Token != "" {
			run.ServiceArgs = []string{"--NotebookApp.token=" + w.Token}
		}
	case jobname.Script:
		ep, err := compose.ScriptEntrypoint(w.Name, w.Args)
		if err != nil {
			return run, err
		}
		run.Volumes = map[string]string{l.scriptsDir: compose.ScriptsMountPoint}
		run.Entrypoint = ep
	}
	return run, nil
}

func (o *Orchestrator) finalize(exr remote.Executor, host string, l layout) {
	o.logger(host).Debugf("removing staged assets in %s", l.root)
	remote.RunWarnOnly(exr, host, compose.PruneImages())
	remote.RunWarnOnly(exr, host, "rm -rf "+compose.Quote(l.root))
}

// Stop stops every job of the owner, service and workload,
// whatever devices they hold. No match is not an error.
func (o *Orchestrator) Stop(exr remote.Executor, host string) ([]jobs.RunningJob, error) {
	stopped, err := jobs.NewRegistry(exr, host).StopWhere(o.Pattern(), o.owns)
	o.Metrics.JobsStopped(host, "stop", len(stopped))
	return stopped, err
}

// Kill is Stop with kill semantics.
func (o *Orchestrator) Kill(exr remote.Executor, host string) ([]jobs.RunningJob, error) {
	killed, err := jobs.NewRegistry(exr, host).KillWhere(o.Pattern(), o.owns)
	o.Metrics.JobsStopped(host, "kill", len(killed))
	return killed, err
}

func (o *Orchestrator) owns(j jobs.RunningJob) bool {
	return o.codec.Owns(j.Name, o.Spec.Workload, o.Spec.Accelerated())
}

// Pattern matches the names of every job of the JobSpec. Stop and Kill
// additionally drop matches belonging to other scripts.
func (o *Orchestrator) Pattern() string {
	return o.codec.Pattern(o.Spec.Workload, o.Spec.Accelerated())
}

// Clean removes stopped containers and dangling images, ignoring
// failures.
func Clean(exr remote.Executor, host string) {
	log.WithField("host", host).Info("removing stopped containers and dangling images")
	remote.RunWarnOnly(exr, host, compose.RemoveStopped())
	remote.RunWarnOnly(exr, host, compose.PruneImages())
}
