package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/app"
	"github.com/alexanderramin/programs/internal/cli/formatter"
)

func newStatusCmd(a *App) *cobra.Command {
	var (
		programs []string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarise allocations per program",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.Engine.Status.GetStatus(cmd.Context(), app.StatusRequest{
				ProgramScope:    programs,
				IncludeArchived: all,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatStatus(resp))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&programs, "program", nil, "Limit to these program idnumbers")
	cmd.Flags().BoolVar(&all, "all", false, "Include archived programs")
	return cmd
}
