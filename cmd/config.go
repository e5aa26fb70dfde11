package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/labelstack/runner/services"
)

// config is the dry run: it validates the topology, checks the dependency
// graph, and resolves every environment binding against the current
// external-value snapshot without launching anything.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the topology and print it fully resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTopology()
			if err != nil {
				return err
			}
			if err := services.CheckDependsOn(t); err != nil {
				return err
			}
			if _, err := services.TopologicalOrder(t); err != nil {
				return err
			}

			external := services.Snapshot(os.Environ())
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "project: %s\n", t.Project)
			for i := range t.Services {
				svc := &t.Services[i]
				env, err := services.ResolveEnvironment(svc.Name, svc.Environment, external)
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "%s:\n", svc.Name)
				fmt.Fprintf(out, "  build: %s (%s)\n", svc.Build.Context, svc.Build.Dockerfile)
				fmt.Fprintf(out, "  restart: %s\n", svc.Restart)
				for _, p := range svc.Ports {
					fmt.Fprintf(out, "  port: %s\n", p)
				}
				for _, dep := range svc.DependsOn {
					fmt.Fprintf(out, "  depends_on: %s\n", dep)
				}
				keys := make([]string, 0, len(env))
				for k := range env {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  env: %s=%s\n", k, env[k])
				}
			}
			return nil
		},
	}
}
