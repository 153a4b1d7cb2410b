package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/spf13/cobra"
)

func newAgentsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect agent progress records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every agent, most recently seen first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.progress(cmd.Context())
			if err != nil {
				return err
			}
			agents, err := svc.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if app.JSON {
				if agents == nil {
					agents = []models.AgentProgressRecord{}
				}
				return writeJSON(out, agents)
			}
			if len(agents) == 0 {
				fmt.Fprintln(out, dim("No agents yet."))
				return nil
			}
			for _, rec := range agents {
				fmt.Fprintf(out, "%s  %-12s %s  %s  %s\n",
					accent(rec.Token),
					rec.Codename,
					missionDots(rec.Missions),
					mission.Rank(rec.Missions.LockedCount()),
					dim("seen "+formatTime(rec.LastSeenAt)))
			}
			fmt.Fprintf(out, "\n%d agent(s)\n", len(agents))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <token>",
		Short: "Show one agent record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.progress(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("agent %q not found", args[0])
			}
			if app.JSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			printAgent(cmd.OutOrStdout(), rec)
			return nil
		},
	})
	return cmd
}

func printAgent(w io.Writer, rec *models.AgentProgressRecord) {
	name := strings.TrimSpace(rec.First + " " + rec.Last)
	if name == "" {
		name = dim("(no name)")
	}
	fmt.Fprintf(w, "%s %s\n", boldString(rec.Codename), name)
	fmt.Fprintf(w, "  Token:       %s\n", rec.Token)
	fmt.Fprintf(w, "  Rank:        %s\n", mission.Rank(rec.Missions.LockedCount()))
	fmt.Fprintf(w, "  Intro:       viewed=%t accepted=%t\n", rec.IntroViewed, rec.IntroAccepted)
	fmt.Fprintf(w, "  Visits:      %d\n", rec.VisitCount)
	fmt.Fprintf(w, "  Submissions: %d\n", rec.SubmissionCount)
	fmt.Fprintf(w, "  Last action: %s (%s)\n", rec.UpdateAction, formatTime(rec.UpdatedAt))
	fmt.Fprintln(w, "  Missions:")
	for _, id := range models.MissionIDs {
		p := rec.Missions[id]
		status := warnColor(string(models.MissionNotStarted))
		if p.Locked() {
			status = okColor(string(models.MissionLocked))
			if p.LastSubmittedAt != nil {
				status += dim(" at " + formatTime(*p.LastSubmittedAt))
			}
		}
		fmt.Fprintf(w, "    %s  %s\n", id, status)
	}
}

// missionDots renders ● for a locked mission and ○ otherwise.
func missionDots(m models.MissionMap) string {
	var b strings.Builder
	for _, id := range models.MissionIDs {
		if m[id].Locked() {
			b.WriteString(okColor("●"))
		} else {
			b.WriteString(dim("○"))
		}
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
