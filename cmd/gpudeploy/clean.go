package main

import (
	"github.com/AccessibleAI/gpu-deploy/pkg/deploy"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "remove stopped containers and dangling images on the target hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachHost(func(exr remote.Executor, host string) error {
			deploy.Clean(exr, host)
			return nil
		})
	},
}
