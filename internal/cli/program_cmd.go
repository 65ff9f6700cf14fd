package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/cli/formatter"
	"github.com/alexanderramin/programs/internal/domain"
)

func newProgramCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "Manage programs",
	}

	cmd.AddCommand(
		newProgramCreateCmd(a),
		newProgramListCmd(a),
		newProgramShowCmd(a),
		newProgramArchiveCmd(a),
		newProgramRestoreCmd(a),
		newProgramDeleteCmd(a),
		newProgramNotifyCmd(a),
		newProgramSourceCmd(a),
		newProgramCopySourcesCmd(a),
	)

	return cmd
}

func newProgramCreateCmd(a *App) *cobra.Command {
	var (
		name, idnumber, description string
		public, createGroups        bool
		opens, closes               string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new program",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate("opens", opens)
			if err != nil {
				return err
			}
			end, err := parseDate("closes", closes)
			if err != nil {
				return err
			}
			p := &domain.Program{
				FullName:            name,
				IDNumber:            idnumber,
				Description:         description,
				PublicAccess:        public,
				CreateGroups:        createGroups,
				TimeAllocationStart: start,
				TimeAllocationEnd:   end,
			}
			if err := a.Engine.Programs.Create(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created program %s [%d]\n", p.FullName, p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Program full name")
	cmd.Flags().StringVar(&idnumber, "idnumber", "", "Unique program idnumber")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().BoolVar(&public, "public", false, "Visible to all users")
	cmd.Flags().BoolVar(&createGroups, "create-groups", false, "Create a course group per program")
	cmd.Flags().StringVar(&opens, "opens", "", "Allocation window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&closes, "closes", "", "Allocation window end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("idnumber")

	return cmd
}

func newProgramListCmd(a *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			programs, err := a.Engine.Programs.List(cmd.Context(), all)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatProgramList(programs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include archived programs")
	return cmd
}

func newProgramShowCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show PROGRAM",
		Short: "Show a program and its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := resolveProgram(ctx, a, args[0])
			if err != nil {
				return err
			}
			tree, err := a.Engine.Content.Tree(ctx, p.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, formatter.FormatProgram(p))
			fmt.Fprintln(out)
			fmt.Fprint(out, formatter.FormatItemTree(tree, nil))
			return nil
		},
	}
}

func newProgramArchiveCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "archive PROGRAM",
		Short: "Archive a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProgram(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.Programs.Archive(cmd.Context(), p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived program %s\n", p.FullName)
			return nil
		},
	}
}

func newProgramRestoreCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "restore PROGRAM",
		Short: "Restore an archived program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProgram(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.Programs.Restore(cmd.Context(), p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored program %s\n", p.FullName)
			return nil
		},
	}
}

func newProgramDeleteCmd(a *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete PROGRAM",
		Short: "Delete a program and all its allocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProgram(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			if !yes {
				ok, err := a.confirm(fmt.Sprintf("Delete program %q?", p.FullName))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			if err := a.Engine.Programs.Delete(cmd.Context(), p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted program %s\n", p.FullName)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newProgramNotifyCmd(a *App) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "notify PROGRAM TYPE",
		Short: "Enable or disable a notification type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProgram(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			t := domain.NotificationType(args[1])
			if !domain.IsNotificationType(t) {
				return fmt.Errorf("unknown notification type %q", args[1])
			}
			if err := a.Engine.Programs.SetNotification(cmd.Context(), p.ID, t, !off); err != nil {
				return err
			}
			state := "enabled"
			if off {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Notification %s %s for %s\n", t, state, p.FullName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Disable instead of enable")
	return cmd
}

func newProgramSourceCmd(a *App) *cobra.Command {
	var (
		settings string
		cohorts  []string
		remove   bool
	)

	cmd := &cobra.Command{
		Use:   "source PROGRAM TYPE",
		Short: "Enable, configure or remove an allocation source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := resolveProgram(ctx, a, args[0])
			if err != nil {
				return err
			}
			t := domain.SourceType(args[1])
			if remove {
				if err := a.Engine.Sources.DeleteSource(ctx, p.ID, t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s source from %s\n", t, p.FullName)
				return nil
			}
			if len(cohorts) > 0 && t != domain.SourceCohort {
				return fmt.Errorf("--cohort only applies to the cohort source")
			}
			ids, err := parseIDs("cohort", cohorts)
			if err != nil {
				return err
			}
			if _, err := a.Engine.Sources.UpdateSource(ctx, p.ID, t, settings); err != nil {
				return err
			}
			if t == domain.SourceCohort {
				if err := a.Engine.Sources.Cohort().SetCohorts(ctx, p.ID, ids); err != nil {
					return err
				}
			}
			if err := a.Engine.Reconciler.Sync(ctx, &p.ID, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s source of %s\n", t, p.FullName)
			return nil
		},
	}

	cmd.Flags().StringVar(&settings, "settings", "", "Source settings as JSON")
	cmd.Flags().StringSliceVar(&cohorts, "cohort", nil, "Cohort ids to synchronise (cohort source)")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the source and its allocations")
	return cmd
}

func newProgramCopySourcesCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "copy-sources FROM TO",
		Short: "Copy the importable allocation sources of one program into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := resolveProgram(ctx, a, args[0])
			if err != nil {
				return err
			}
			to, err := resolveProgram(ctx, a, args[1])
			if err != nil {
				return err
			}
			types, err := a.Engine.Sources.ImportSources(ctx, from.ID, to.ID)
			if err != nil {
				return err
			}
			if err := a.Engine.Reconciler.Sync(ctx, &to.ID, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %d sources into %s\n", len(types), to.FullName)
			return nil
		},
	}
}
