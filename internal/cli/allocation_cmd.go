package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/cli/formatter"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/source"
)

func newAllocationCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "allocation",
		Aliases: []string{"alloc"},
		Short:   "Manage user allocations",
	}

	cmd.AddCommand(
		newAllocationListCmd(a),
		newAllocationUserCmd(a),
		newAllocationAddCmd(a),
		newAllocationRemoveCmd(a),
		newAllocationResetCmd(a),
		newAllocationArchiveCmd(a),
		newAllocationRestoreCmd(a),
		newAllocationDatesCmd(a),
	)

	return cmd
}

func newAllocationListCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list PROGRAM",
		Short: "List the allocations of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := resolveProgram(ctx, a, args[0])
			if err != nil {
				return err
			}
			allocs, err := a.Engine.Allocations.ListByProgram(ctx, p.ID)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatAllocationList(allocs, a.now()))
			return nil
		},
	}
}

func newAllocationUserCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "user USER",
		Short: "List the allocations of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			allocs, err := a.Engine.Allocations.ListByUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatAllocationList(allocs, a.now()))
			return nil
		},
	}
}

// dateFlags are the optional date overrides of allocate and dates.
type dateFlags struct {
	start, due, end string
}

func (f *dateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.due, "due", "", "Due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "End date (YYYY-MM-DD)")
}

func (f *dateFlags) overrides() (source.Overrides, error) {
	var (
		o   source.Overrides
		err error
	)
	if o.TimeStart, err = parseDate("start", f.start); err != nil {
		return o, err
	}
	if o.TimeDue, err = parseDate("due", f.due); err != nil {
		return o, err
	}
	if o.TimeEnd, err = parseDate("end", f.end); err != nil {
		return o, err
	}
	return o, nil
}

func newAllocationAddCmd(a *App) *cobra.Command {
	var f dateFlags

	cmd := &cobra.Command{
		Use:   "add PROGRAM USER...",
		Short: "Manually allocate users to a program",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := resolveProgram(ctx, a, args[0])
			if err != nil {
				return err
			}
			users, err := parseIDs("user", args[1:])
			if err != nil {
				return err
			}
			o, err := f.overrides()
			if err != nil {
				return err
			}
			allocs, err := a.Engine.Allocations.Allocate(ctx, p.ID, users, o)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Allocated %d users to %s\n", len(allocs), p.FullName)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func newAllocationRemoveCmd(a *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove ALLOCATION",
		Short: "Deallocate a manually allocated user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("allocation", args[0])
			if err != nil {
				return err
			}
			if !yes {
				ok, err := a.confirm(fmt.Sprintf("Deallocate allocation #%d? Progress is lost.", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			if err := a.Engine.Allocations.Deallocate(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deallocated #%d\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newAllocationResetCmd(a *App) *cobra.Command {
	var (
		resetType string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "reset ALLOCATION",
		Short: "Reset the progress of an allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("allocation", args[0])
			if err != nil {
				return err
			}
			rt, ok := domain.ParseResetType(resetType)
			if !ok {
				return fmt.Errorf("unknown reset type %q (none, deallocate, standard, full)", resetType)
			}
			if !yes {
				ok, err := a.confirm(fmt.Sprintf("Reset allocation #%d (%s)?", id, rt))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			if err := a.Engine.Allocations.ResetAllocation(cmd.Context(), id, rt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset #%d (%s)\n", id, rt)
			return nil
		},
	}

	cmd.Flags().StringVar(&resetType, "type", "standard", "Course reset tier: none, deallocate, standard or full")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newAllocationArchiveCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "archive ALLOCATION",
		Short: "Archive an allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("allocation", args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.Allocations.Archive(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived #%d\n", id)
			return nil
		},
	}
}

func newAllocationRestoreCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "restore ALLOCATION",
		Short: "Restore an archived allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("allocation", args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.Allocations.Restore(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored #%d\n", id)
			return nil
		},
	}
}

func newAllocationDatesCmd(a *App) *cobra.Command {
	var f dateFlags

	cmd := &cobra.Command{
		Use:   "dates ALLOCATION",
		Short: "Override the start, due and end dates of an allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID("allocation", args[0])
			if err != nil {
				return err
			}
			alloc, err := a.Engine.Allocations.Get(ctx, id)
			if err != nil {
				return err
			}
			o, err := f.overrides()
			if err != nil {
				return err
			}

			// Unset flags keep the current value.
			d := alloc.Dates()
			if o.TimeStart != nil {
				d.TimeStart = *o.TimeStart
			}
			if o.TimeDue != nil {
				d.TimeDue = o.TimeDue
			}
			if o.TimeEnd != nil {
				d.TimeEnd = o.TimeEnd
			}
			if err := a.Engine.Allocations.UpdateDates(ctx, id, d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated dates of #%d\n", id)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}
