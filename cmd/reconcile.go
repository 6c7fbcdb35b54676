package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// reconcileCommand runs only C10's orphan sweep for one user, without
// touching upstream or the classifier; useful after a manual file
// restore or a crash that left the audio/clip directories out of sync
// with the database.
func reconcileCommand(app *App) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Sweep a user's upload directories for orphan files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("reconcile requires --user")
			}
			ctx := cmd.Context()
			userID, err := resolveUser(ctx, app.Store, user)
			if err != nil {
				return err
			}
			return app.Fleet.Runner.Reconciler.Reconcile(ctx, userID, nil)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User id or email to reconcile (required)")
	return cmd
}
