package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/cli/formatter"
	"github.com/alexanderramin/programs/internal/importer"
)

func newImportCmd(a *App) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create programs from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if dryRun {
				f, err := importer.LoadFile(args[0])
				if err != nil {
					return err
				}
				if errs := importer.Validate(f); len(errs) > 0 {
					return errs
				}
				fmt.Fprintf(out, "%s %d programs are valid\n", formatter.StyleGreen.Render("✔"), len(f.Programs))
				return nil
			}

			res, err := a.Engine.Import.ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(out, formatter.FormatImportResult(res))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without importing")
	return cmd
}
