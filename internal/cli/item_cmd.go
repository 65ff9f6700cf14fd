package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/cli/formatter"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
	"github.com/alexanderramin/programs/internal/service"
)

func newItemCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage program content",
	}

	cmd.AddCommand(
		newItemTreeCmd(a),
		newItemAppendCourseCmd(a),
		newItemAppendTrainingCmd(a),
		newItemAppendSetCmd(a),
		newItemUpdateCmd(a),
		newItemUpdateSetCmd(a),
		newItemMoveCmd(a),
		newItemDeleteCmd(a),
	)

	return cmd
}

// itemFlags are the ItemOptions shared by the append and update commands.
type itemFlags struct {
	name, idnumber string
	points         int
	delay          int64
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Item name")
	cmd.Flags().StringVar(&f.idnumber, "idnumber", "", "Item idnumber")
	cmd.Flags().IntVar(&f.points, "points", 1, "Points awarded on completion")
	cmd.Flags().Int64Var(&f.delay, "delay", 0, "Seconds before the next item opens after completion")
}

func (f *itemFlags) options(cmd *cobra.Command) service.ItemOptions {
	opts := service.ItemOptions{FullName: f.name, IDNumber: f.idnumber}
	if cmd.Flags().Changed("points") {
		opts.Points = &f.points
	}
	if cmd.Flags().Changed("delay") {
		opts.CompletionDelay = &f.delay
	}
	return opts
}

type setFlags struct {
	sequence  string
	minPrereq int
	minPoints int
}

func (f *setFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sequence, "sequence", string(domain.SequenceAllInAnyOrder), "allinorder, allinanyorder, atleast or minpoints")
	cmd.Flags().IntVar(&f.minPrereq, "min", 0, "Children required for atleast")
	cmd.Flags().IntVar(&f.minPoints, "min-points", 0, "Points required for minpoints")
}

func (f *setFlags) rules() domain.SetRules {
	return domain.SetRules{
		SequenceType:     domain.SequenceType(f.sequence),
		MinPrerequisites: f.minPrereq,
		MinPoints:        f.minPoints,
	}
}

func newItemTreeCmd(a *App) *cobra.Command {
	var allocation string

	cmd := &cobra.Command{
		Use:   "tree PROGRAM",
		Short: "Show the content tree of a program",
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

			var completed map[int64]bool
			if allocation != "" {
				id, err := parseID("allocation", allocation)
				if err != nil {
					return err
				}
				alloc, err := a.Engine.Allocations.Get(ctx, id)
				if err != nil {
					return err
				}
				if alloc.ProgramID != p.ID {
					return fmt.Errorf("allocation %d belongs to another program", id)
				}
				rows, err := repository.NewSQLiteCompletionRepo(a.Engine.DB).ListByAllocation(ctx, id)
				if err != nil {
					return err
				}
				completed = make(map[int64]bool, len(rows))
				for _, c := range rows {
					completed[c.ItemID] = true
				}
			}

			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatItemTree(tree, completed))
			return nil
		},
	}

	cmd.Flags().StringVar(&allocation, "allocation", "", "Mark the items completed in this allocation")
	return cmd
}

func newItemAppendCourseCmd(a *App) *cobra.Command {
	var f itemFlags

	cmd := &cobra.Command{
		Use:   "append-course PARENT COURSE",
		Short: "Append a course item to a set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := parseID("parent item", args[0])
			if err != nil {
				return err
			}
			course, err := parseID("course", args[1])
			if err != nil {
				return err
			}
			it, err := a.Engine.Content.AppendCourse(cmd.Context(), parent, course, f.options(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Appended course item %s [#%d]\n", it.FullName, it.ID)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func newItemAppendTrainingCmd(a *App) *cobra.Command {
	var f itemFlags

	cmd := &cobra.Command{
		Use:   "append-training PARENT FRAMEWORK",
		Short: "Append a training framework item to a set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := parseID("parent item", args[0])
			if err != nil {
				return err
			}
			framework, err := parseID("framework", args[1])
			if err != nil {
				return err
			}
			it, err := a.Engine.Content.AppendTraining(cmd.Context(), parent, framework, f.options(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Appended training item %s [#%d]\n", it.FullName, it.ID)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func newItemAppendSetCmd(a *App) *cobra.Command {
	var (
		f itemFlags
		s setFlags
	)

	cmd := &cobra.Command{
		Use:   "append-set PARENT",
		Short: "Append a nested set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := parseID("parent item", args[0])
			if err != nil {
				return err
			}
			it, err := a.Engine.Content.AppendSet(cmd.Context(), parent, s.rules(), f.options(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Appended set %s [#%d]\n", it.FullName, it.ID)
			return nil
		},
	}

	f.register(cmd)
	s.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newItemUpdateCmd(a *App) *cobra.Command {
	var f itemFlags

	cmd := &cobra.Command{
		Use:   "update ITEM",
		Short: "Update the name, points or completion delay of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("item", args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.Content.UpdateItem(cmd.Context(), id, f.options(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated item #%d\n", id)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func newItemUpdateSetCmd(a *App) *cobra.Command {
	var (
		f itemFlags
		s setFlags
	)

	cmd := &cobra.Command{
		Use:   "update-set ITEM",
		Short: "Change the completion rule of a set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("item", args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.Content.UpdateSet(cmd.Context(), id, s.rules(), f.options(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated set #%d\n", id)
			return nil
		},
	}

	f.register(cmd)
	s.register(cmd)
	return cmd
}

func newItemMoveCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move ITEM PARENT",
		Short: "Move an item into another set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("item", args[0])
			if err != nil {
				return err
			}
			parent, err := parseID("parent item", args[1])
			if err != nil {
				return err
			}
			if err := a.Engine.Content.MoveItem(cmd.Context(), id, parent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved item #%d under #%d\n", id, parent)
			return nil
		},
	}
}

func newItemDeleteCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ITEM",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("item", args[0])
			if err != nil {
				return err
			}
			if err := a.Engine.Content.DeleteItem(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted item #%d\n", id)
			return nil
		},
	}
}
