package main

import (
	"errors"
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/deploy"
	"github.com/AccessibleAI/gpu-deploy/pkg/jobname"
	"github.com/AccessibleAI/gpu-deploy/pkg/jobs"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagScript     = "script"
	flagNoGpu      = "no-gpu"
	flagGpus       = "gpus"
	flagMaxCount   = "max-count"
	flagToken      = "token"
	flagPyArgs     = "pyargs"
	flagDockerDir  = "docker-dir"
	flagScriptsDir = "scripts-dir"
	flagEnvFile    = "env-file"
	flagRemoteRoot = "remote-root"
)

var (
	deployParams = []param{
		{name: flagScript, shorthand: "s", value: "", usage: "run scripts/<script>.py instead of a notebook"},
		{name: flagNoGpu, shorthand: "", value: false, usage: "run a single job without gpus"},
		{name: flagGpus, shorthand: "g", value: 1, usage: "gpus per job"},
		{name: flagMaxCount, shorthand: "n", value: 10, usage: "maximum number of jobs per host"},
		{name: flagToken, shorthand: "t", value: "", usage: "notebook token"},
		{name: flagPyArgs, shorthand: "", value: "", usage: "extra arguments passed to the script"},
		{name: flagDockerDir, shorthand: "d", value: "docker", usage: "docker-compose project and build context"},
		{name: flagScriptsDir, shorthand: "", value: "scripts", usage: "scripts directory mounted at /scripts"},
		{name: flagEnvFile, shorthand: "e", value: "", usage: "env file for docker-compose, must be named .env"},
		{name: flagRemoteRoot, shorthand: "", value: "", usage: "staging directory on the host, defaults to /home/<user>/.gpu-deploy"},
	}
	stopParams = []param{
		{name: flagScript, shorthand: "s", value: "", usage: "script jobs to act on, notebooks when empty"},
		{name: flagNoGpu, shorthand: "", value: false, usage: "act on jobs started without gpus"},
	}
)

var deployCmd = &cobra.Command{
	Use:   "deploy <service>",
	Short: "start one job per free gpu group on every target host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(args[0], true)
		if err != nil {
			return err
		}
		return forEachHost(func(exr remote.Executor, host string) error {
			rep, err := o.Deploy(exr, host)
			if errors.Is(err, deploy.ErrCapacityExhausted) {
				color.Yellow("No free gpus on %s", host)
				return nil
			}
			printReport(o, rep)
			return err
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [<service>|<wildcard>]",
	Short: "stop the jobs of a service, or every job matching a wildcard with --wildcard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopJobs(args[0], false)
	},
}

var killCmd = &cobra.Command{
	Use:   "kill [<service>|<wildcard>]",
	Short: "kill the jobs of a service, or every job matching a wildcard with --wildcard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopJobs(args[0], true)
	},
}

func init() {
	for _, c := range []*cobra.Command{stopCmd, killCmd} {
		c.Flags().Bool(flagWildcard, false, "treat the argument as a job name wildcard")
	}
}

const flagWildcard = "wildcard"

func workload() jobname.Workload {
	if script := viper.GetString(flagScript); script != "" {
		return jobname.Script{Name: script, Args: viper.GetString(flagPyArgs)}
	}
	return jobname.Notebook{Token: viper.GetString(flagToken)}
}

func newOrchestrator(service string, withAssets bool) (*deploy.Orchestrator, error) {
	spec := deploy.JobSpec{
		Owner:    viper.GetString(flagUser),
		Service:  service,
		Workload: workload(),
		GpuCount: viper.GetInt(flagGpus),
		MaxCount: viper.GetInt(flagMaxCount),
	}
	if viper.GetBool(flagNoGpu) {
		spec.GpuCount = 0
	}
	var assets *deploy.Assets
	if withAssets {
		assets = &deploy.Assets{
			DockerDir: viper.GetString(flagDockerDir),
			EnvFile:   viper.GetString(flagEnvFile),
		}
		if _, script := spec.Workload.(jobname.Script); script {
			assets.ScriptsDir = viper.GetString(flagScriptsDir)
		}
	} else {
		// stop and kill only select by name
		spec.MaxCount = 1
		if !viper.GetBool(flagNoGpu) {
			spec.GpuCount = 1
		}
	}
	o, err := deploy.New(spec, assets)
	if err != nil {
		return nil, err
	}
	if root := viper.GetString(flagRemoteRoot); root != "" {
		o.RemoteRoot = root
	}
	o.Metrics = recorder
	return o, nil
}

func printReport(o *deploy.Orchestrator, rep *deploy.Report) {
	if rep == nil {
		return
	}
	for _, s := range rep.AlreadyRunning {
		color.Yellow("%s already running on %s", s.Name, rep.Host)
	}
	if len(rep.Launched) == 0 {
		return
	}
	var groups []string
	for _, s := range rep.Launched {
		if len(s.Devices) == 0 {
			groups = append(groups, "none")
			continue
		}
		groups = append(groups, s.Devices.String())
	}
	color.Green("started service %s on %s on GPUs %s", o.Spec.Service, rep.Host, strings.Join(groups, " "))
	for _, s := range rep.Launched {
		if s.Port != 0 {
			log.WithField("host", rep.Host).Infof("%s: notebook published on port %d", s.Name, s.Port)
		}
	}
}

func stopJobs(arg string, kill bool) error {
	verb, signal := "stopped", "stop"
	if kill {
		verb, signal = "killed", "kill"
	}
	if viper.GetBool(flagWildcard) {
		return forEachHost(func(exr remote.Executor, host string) error {
			reg := jobs.NewRegistry(exr, host)
			act := reg.StopMatching
			if kill {
				act = reg.KillMatching
			}
			matched, err := act(arg)
			recorder.JobsStopped(host, signal, len(matched))
			if err == nil {
				color.Green("%s %d job(s) matching %s on %s", verb, len(matched), arg, host)
			}
			return err
		})
	}
	o, err := newOrchestrator(arg, false)
	if err != nil {
		return err
	}
	return forEachHost(func(exr remote.Executor, host string) error {
		act := o.Stop
		if kill {
			act = o.Kill
		}
		matched, err := act(exr, host)
		if err == nil {
			color.Green("%s %d job(s) matching %s on %s", verb, len(matched), o.Pattern(), host)
		}
		return err
	})
}
