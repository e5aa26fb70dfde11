package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labelstack/runner/models"
	"github.com/labelstack/runner/services"
	"github.com/labelstack/runner/services/docker"
	"github.com/labelstack/runner/services/orchestrator"
)

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Build and start the topology in dependency order",
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

			o := orchestrator.New(rt, t, services.Snapshot(os.Environ()), log)
			report, err := o.Run(cmd.Context())
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if report.Failed() {
				return errors.New("one or more services did not start")
			}
			return nil
		},
	}
}

func printReport(w io.Writer, report *models.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tDETAIL")
	for _, o := range report.Outcomes {
		detail := ""
		if o.Err != nil {
			detail = o.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Name, o.State, detail)
	}
	tw.Flush()
}
