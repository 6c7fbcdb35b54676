package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const reprocessDateFormat = "2006-01-02"

// reprocessCommand deletes and recomputes one user's detections for an
// inclusive local-date range, one ProcessingLog row per day.
func reprocessCommand(app *App) *cobra.Command {
	var user, from, to string

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Delete and recompute a user's detections for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" || from == "" || to == "" {
				return fmt.Errorf("reprocess requires --user, --from and --to")
			}
			fromDate, err := time.Parse(reprocessDateFormat, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toDate, err := time.Parse(reprocessDateFormat, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if toDate.Before(fromDate) {
				return fmt.Errorf("--to (%s) is before --from (%s)", to, from)
			}

			ctx := cmd.Context()
			userID, err := resolveUser(ctx, app.Store, user)
			if err != nil {
				return err
			}

			if err := app.Fleet.Runner.RunReprocess(ctx, userID, fromDate, toDate); err != nil {
				return &errPartial{failed: map[string]error{userID: err}}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User id or email to reprocess (required)")
	cmd.Flags().StringVar(&from, "from", "", "First local date to reprocess, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "Last local date to reprocess, inclusive, YYYY-MM-DD (required)")
	return cmd
}
