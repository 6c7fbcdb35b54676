package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stokedbloke/gigglepipe/internal/verify"
)

// verifyIntegrityCommand runs a read-only audit of one user's on-disk
// and database state; it never mutates anything (reconcile does that).
func verifyIntegrityCommand(app *App) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "verify-integrity",
		Short: "Audit a user's state against the pipeline's invariants, without fixing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("verify-integrity requires --user")
			}
			ctx := cmd.Context()
			userID, err := resolveUser(ctx, app.Store, user)
			if err != nil {
				return err
			}

			report, err := verify.Run(ctx, app.Store, app.Settings.Storage.UploadDir, userID)
			if err != nil {
				return err
			}
			for _, v := range report.Violations {
				fmt.Printf("%s: %s\n", v.Invariant, v.Detail)
			}
			if !report.Clean() {
				return &errPartial{failed: map[string]error{userID: fmt.Errorf("%d invariant violation(s)", len(report.Violations))}}
			}
			fmt.Println("no violations found")
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User id or email to audit (required)")
	return cmd
}
