// Package jobs locates running jobs on a host by name and acts on them.
package jobs

import (
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"
)

// RunningJob is a container currently running on the host.
type RunningJob struct {
	Name string
	Id   string
}

// Registry queries the container backend of one host. It keeps no state:
// every call lists the host again.
type Registry struct {
	Host string
	exr  remote.Executor
}

func NewRegistry(exr remote.Executor, host string) *Registry {
	return &Registry{Host: host, exr: exr}
}

func (r *Registry) logger() *log.Entry {
	return log.WithField("host", r.Host)
}

// List returns every running job. Output lines without the name/id
// separator are ignored.
func (r *Registry) List() ([]RunningJob, error) {
	out, err := remote.Run(r.exr, r.Host, compose.List())
	if err != nil {
		return nil, err
	}
	return parseListing(out), nil
}

func parseListing(out string) (running []RunningJob) {
	for _, line := range strings.Split(out, "\n") {
		name, id, ok := strings.Cut(strings.TrimSpace(line), strings.TrimSpace(compose.ListSeparator))
		if !ok {
			continue
		}
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if name == "" || id == "" {
			continue
		}
		running = append(running, RunningJob{Name: name, Id: id})
	}
	return
}

// Resolve returns the jobs whose name matches the wildcard pattern.
// Supported syntax is *, ? and [...]; no match is not an error.
func (r *Registry) Resolve(pattern string) ([]RunningJob, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	running, err := r.List()
	if err != nil {
		return nil, err
	}
	return filter(running, pattern), nil
}

func filter(running []RunningJob, pattern string) (matched []RunningJob) {
	for _, j := range running {
		// pattern was validated, Match cannot fail
		if ok, _ := doublestar.Match(pattern, j.Name); ok {
			matched = append(matched, j)
		}
	}
	return
}

// Exists reports whether a job with exactly this name is running.
func (r *Registry) Exists(name string) (bool, error) {
	running, err := r.List()
	if err != nil {
		return false, err
	}
	for _, j := range running {
		if j.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// StopMatching stops every job matching pattern in a single backend call
// and returns the stopped jobs. Nothing is sent when nothing matches.
func (r *Registry) StopMatching(pattern string) ([]RunningJob, error) {
	return r.actOnMatching(pattern, nil, "stop", compose.Stop)
}

// KillMatching is StopMatching with kill semantics.
func (r *Registry) KillMatching(pattern string) ([]RunningJob, error) {
	return r.actOnMatching(pattern, nil, "kill", compose.Kill)
}

// StopWhere is StopMatching restricted to the matches keep accepts.
func (r *Registry) StopWhere(pattern string, keep func(RunningJob) bool) ([]RunningJob, error) {
	return r.actOnMatching(pattern, keep, "stop", compose.Stop)
}

// KillWhere is KillMatching restricted to the matches keep accepts.
func (r *Registry) KillWhere(pattern string, keep func(RunningJob) bool) ([]RunningJob, error) {
	return r.actOnMatching(pattern, keep, "kill", compose.Kill)
}

func (r *Registry) actOnMatching(pattern string, keep func(RunningJob) bool, verb string, cmd func([]string) string) ([]RunningJob, error) {
	resolved, err := r.Resolve(pattern)
	if err != nil {
		return nil, err
	}
	var matched []RunningJob
	for _, j := range resolved {
		if keep == nil || keep(j) {
			matched = append(matched, j)
		}
	}
	if len(matched) == 0 {
		r.logger().Infof("no running jobs match %s, nothing to %s", pattern, verb)
		return nil, nil
	}
	var ids []string
	for _, j := range matched {
		r.logger().Infof("%s %s (%s)", verb, j.Name, j.Id)
		ids = append(ids, j.Id)
	}
	if _, err := remote.Run(r.exr, r.Host, cmd(ids)); err != nil {
		return nil, err
	}
	return matched, nil
}
