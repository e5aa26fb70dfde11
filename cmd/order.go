package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labelstack/runner/services"
)

func newOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the computed start order without launching anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTopology()
			if err != nil {
				return err
			}
			if err := services.CheckDependsOn(t); err != nil {
				return err
			}

			order, err := services.TopologicalOrder(t)
			if err != nil {
				return err
			}
			for _, name := range order {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
