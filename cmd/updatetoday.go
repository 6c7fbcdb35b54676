package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// updateTodayCommand tops up the current local day for one or more
// named users.
func updateTodayCommand(app *App) *cobra.Command {
	var users []string

	cmd := &cobra.Command{
		Use:   "update-today",
		Short: "Top up today's audio for the named user(s)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(users) == 0 {
				return fmt.Errorf("update-today requires at least one --user")
			}
			result, err := app.Fleet.RunUpdateToday(cmd.Context(), buildFilter(users))
			if err != nil {
				return err
			}
			if result.AnyFailed() {
				return &errPartial{failed: result.Failed}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&users, "user", nil, "User id or email to update (repeatable, required)")
	return cmd
}
