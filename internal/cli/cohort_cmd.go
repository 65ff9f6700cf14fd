package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/domain"
)

func newCohortCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cohort",
		Short: "Change cohort membership and sync affected allocations",
	}

	cmd.AddCommand(
		newCohortMemberCmd(a, "add", true),
		newCohortMemberCmd(a, "remove", false),
	)

	return cmd
}

func newCohortMemberCmd(a *App, use string, add bool) *cobra.Command {
	short := "Add a user to a cohort"
	if !add {
		short = "Remove a user from a cohort"
	}
	return &cobra.Command{
		Use:   use + " COHORT USER",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cohortID, err := parseID("cohort", args[0])
			if err != nil {
				return err
			}
			userID, err := parseID("user", args[1])
			if err != nil {
				return err
			}
			if err := cohortChange(cmd.Context(), a, cohortID, userID, add); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cohort %d updated, user %d synced\n", cohortID, userID)
			return nil
		},
	}
}

func cohortChange(ctx context.Context, a *App, cohortID, userID int64, add bool) error {
	cohorts := a.Engine.Providers.Cohorts
	ok, err := cohorts.Exists(ctx, cohortID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cohort %d: %w", cohortID, domain.ErrNotFound)
	}
	if add {
		err = cohorts.AddMember(ctx, cohortID, userID)
	} else {
		err = cohorts.RemoveMember(ctx, cohortID, userID)
	}
	if err != nil {
		return err
	}
	return a.Engine.Reconciler.Sync(ctx, nil, &userID)
}
