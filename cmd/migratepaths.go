package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stokedbloke/gigglepipe/internal/migratepaths"
)

// migratePathsCommand resolves any relative file_path/clip_path rows
// for one user against UPLOAD_DIR and rewrites them absolute.
func migratePathsCommand(app *App) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "migrate-paths",
		Short: "Rewrite a user's relative file_path/clip_path rows absolute",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("migrate-paths requires --user")
			}
			ctx := cmd.Context()
			userID, err := resolveUser(ctx, app.Store, user)
			if err != nil {
				return err
			}

			result, err := migratepaths.Run(ctx, app.Store, app.Settings.Storage.UploadDir, userID)
			if err != nil {
				return err
			}
			fmt.Printf("rewrote %d segment path(s), %d detection path(s)\n",
				result.SegmentsRewritten, result.DetectionsRewritten)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User id or email to migrate (required)")
	return cmd
}
