package jobs

import (
	"regexp"
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
)

// JobLogs are the log lines of one job that matched a filter.
type JobLogs struct {
	Job   RunningJob
	Lines []string
}

// Logs fetches the output of every job matching name, a wildcard pattern
// when wildcard is set and an exact name otherwise, keeping only lines
// that match filter. A nil filter keeps every line.
func (r *Registry) Logs(name string, wildcard bool, filter *regexp.Regexp) ([]JobLogs, error) {
	var matched []RunningJob
	if wildcard {
		var err error
		if matched, err = r.Resolve(name); err != nil {
			return nil, err
		}
	} else {
		running, err := r.List()
		if err != nil {
			return nil, err
		}
		for _, j := range running {
			if j.Name == name {
				matched = append(matched, j)
			}
		}
	}
	var logs []JobLogs
	for _, j := range matched {
		out, err := remote.Run(r.exr, r.Host, compose.Logs(j.Id))
		if err != nil {
			return nil, err
		}
		logs = append(logs, JobLogs{Job: j, Lines: grep(out, filter)})
	}
	return logs, nil
}

func grep(out string, filter *regexp.Regexp) (lines []string) {
	for _, l := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if l == "" {
			continue
		}
		if filter == nil || filter.MatchString(l) {
			lines = append(lines, l)
		}
	}
	return
}
