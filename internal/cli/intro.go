package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIntroCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intro",
		Short: "Manage the intro briefing flags",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <token>",
		Short: "Clear the intro flags so the agent sees the briefing again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.progress(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := svc.ResetIntro(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if app.JSON {
				return writeJSON(cmd.OutOrStdout(), rec.IntroView())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Intro reset for %s\n", okColor("✓"), accent(rec.Token))
			return nil
		},
	})
	return cmd
}
