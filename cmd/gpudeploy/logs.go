package main

import (
	"fmt"
	"regexp"

	"github.com/AccessibleAI/gpu-deploy/pkg/jobs"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const flagJobs = "jobs"

var logsParams = []param{
	{name: flagJobs, shorthand: "j", value: "*", usage: "wildcard selecting the jobs to read"},
}

var logsCmd = &cobra.Command{
	Use:   "logs <regexp>",
	Short: "print log lines matching a regular expression from the selected jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := regexp.Compile(args[0])
		if err != nil {
			return fmt.Errorf("invalid log filter: %w", err)
		}
		return forEachHost(func(exr remote.Executor, host string) error {
			logs, err := jobs.NewRegistry(exr, host).Logs(viper.GetString(flagJobs), true, filter)
			if err != nil {
				return err
			}
			for _, l := range logs {
				header := color.New(color.FgCyan, color.Bold)
				for _, line := range l.Lines {
					fmt.Printf("%s %s\n", header.Sprintf("[%s %s]", host, l.Job.Name), line)
				}
			}
			return nil
		})
	},
}
