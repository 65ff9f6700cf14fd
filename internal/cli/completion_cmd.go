package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/service"
)

func newCompletionCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion",
		Short: "Record item completions and evidence",
	}

	cmd.AddCommand(
		newCompletionSetCmd(a),
		newCompletionEvidenceCmd(a),
	)

	return cmd
}

// completionTime resolves --date and --clear into the TimeCompleted of an update.
func completionTime(date string, clear bool) (*time.Time, error) {
	if clear {
		if date != "" {
			return nil, fmt.Errorf("--date and --clear are mutually exclusive")
		}
		return nil, nil
	}
	t, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	if t == nil {
		now := time.Now().UTC().Truncate(time.Second)
		t = &now
	}
	return t, nil
}

func newCompletionSetCmd(a *App) *cobra.Command {
	var (
		date      string
		clear     bool
		propagate bool
	)

	cmd := &cobra.Command{
		Use:   "set ALLOCATION ITEM",
		Short: "Mark an item completed, or clear it, for one allocation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			allocID, err := parseID("allocation", args[0])
			if err != nil {
				return err
			}
			itemID, err := parseID("item", args[1])
			if err != nil {
				return err
			}
			at, err := completionTime(date, clear)
			if err != nil {
				return err
			}
			err = a.Engine.Completions.UpdateItemCompletion(cmd.Context(), service.CompletionUpdate{
				AllocationID:  allocID,
				ItemID:        itemID,
				TimeCompleted: at,
				Propagate:     propagate,
			})
			if err != nil {
				return err
			}
			if at == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared item #%d of allocation #%d\n", itemID, allocID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed item #%d of allocation #%d\n", itemID, allocID)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Completion time (default now)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove the completion")
	cmd.Flags().BoolVar(&propagate, "propagate", false, "Run the full sync so parent sets complete")
	return cmd
}

func newCompletionEvidenceCmd(a *App) *cobra.Command {
	var (
		date        string
		clear       bool
		details     string
		createdBy   int64
		recalculate bool
	)

	cmd := &cobra.Command{
		Use:   "evidence USER ITEM",
		Short: "Record or remove other evidence of completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			itemID, err := parseID("item", args[1])
			if err != nil {
				return err
			}
			at, err := completionTime(date, clear)
			if err != nil {
				return err
			}
			u := service.EvidenceUpdate{
				UserID:        userID,
				ItemID:        itemID,
				TimeCompleted: at,
				Details:       details,
				Recalculate:   recalculate,
			}
			if cmd.Flags().Changed("by") {
				u.CreatedBy = &createdBy
			}
			if err := a.Engine.Completions.UpdateItemEvidence(cmd.Context(), u); err != nil {
				return err
			}
			if at == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed evidence of user %d for item #%d\n", userID, itemID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded evidence of user %d for item #%d\n", userID, itemID)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Completion time (default now)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove the evidence")
	cmd.Flags().StringVar(&details, "details", "", "Evidence details")
	cmd.Flags().Int64Var(&createdBy, "by", 0, "User id recording the evidence")
	cmd.Flags().BoolVar(&recalculate, "recalculate", true, "Mirror the evidence into the item completion")
	return cmd
}
