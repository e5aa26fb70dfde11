package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labelstack/runner/services/docker"
)

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop and remove everything the topology created",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			t, err := loadTopology()
			if err != nil {
				return err
			}

			rt, err := docker.NewDockerRuntime(t.Project, log)
			if err != nil {
				return fmt.Errorf("connect to docker: %w", err)
			}

			return rt.Teardown(cmd.Context())
		},
	}
}
