package cmd

import (
	"github.com/spf13/cobra"
)

// nightlyCommand runs the previous local day for every active user,
// or a filtered subset when --user is given one or more times.
func nightlyCommand(app *App) *cobra.Command {
	var users []string

	cmd := &cobra.Command{
		Use:   "run-nightly",
		Short: "Process yesterday's audio for every active user",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.Fleet.RunNightly(cmd.Context(), buildFilter(users))
			if err != nil {
				return err
			}
			if result.AnyFailed() {
				return &errPartial{failed: result.Failed}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&users, "user", nil, "Limit to these user ids or emails (repeatable); default is every active user")
	return cmd
}
