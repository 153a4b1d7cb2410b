package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/arachnid-agents/mission-control/pkg/client"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/spf13/cobra"
)

type submitFlags struct {
	server  string
	token   string
	first   string
	last    string
	handle  string
	mission string
	data    string
}

func newSubmitCommand(app *App) *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a mission through the HTTP API",
		Long: `Submit a mission on behalf of an agent. The draft is validated locally
first, then sent to the server, which runs the same checks against the
stored record.

The --data payload uses the mission's field names, for example:
  m1: {"feel":"...","feelRating":4,"feelNote":"..."}
  m2: {"flight":"...","videoUrl":"https://...","shirtSize":"L","confirmDistance200":true,"confirmRights":true}
  m3: {"aceUrl":"https://...","hoodieSize":"M","confirmDistance200":true,"confirmRights":true}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, app, f)
		},
	}
	cmd.Flags().StringVar(&f.server, "server", "", "Mission control base URL (defaults to http://localhost:<MISSION_PORT>)")
	cmd.Flags().StringVar(&f.token, "token", "", "Agent token (required)")
	cmd.Flags().StringVar(&f.first, "first", "", "Agent first name")
	cmd.Flags().StringVar(&f.last, "last", "", "Agent last name")
	cmd.Flags().StringVar(&f.handle, "handle", "", "Agent handle")
	cmd.Flags().StringVar(&f.mission, "mission", "", "Mission: 1, 2, 3 or m1..m3 (required)")
	cmd.Flags().StringVar(&f.data, "data", "{}", "Mission fields as JSON")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("mission")
	return cmd
}

func runSubmit(cmd *cobra.Command, app *App, f submitFlags) error {
	ctx := cmd.Context()
	id, err := parseMissionFlag(f.mission)
	if err != nil {
		return err
	}
	var draft models.MissionData
	if err := json.Unmarshal([]byte(f.data), &draft); err != nil {
		return fmt.Errorf("invalid --data: %w", err)
	}

	server := strings.TrimSpace(f.server)
	if server == "" {
		server = fmt.Sprintf("http://localhost:%d", app.config().Port)
	}
	c := client.New(server, client.Identity{Token: f.token, First: f.first, Last: f.last, Handle: f.handle},
		client.WithTiming(0, 0))
	defer c.Close()

	if _, err := c.Status(ctx); err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	c.Tracker().Edit(id, draft)
	if err := c.Submit(ctx, id); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("server rejected mission %d: %s", id.Number(), apiErr.Message)
		}
		return err
	}

	view := c.Tracker().View(id)
	out := cmd.OutOrStdout()
	if app.JSON {
		return writeJSON(out, map[string]any{
			"mission": id,
			"status":  view.Status,
			"rank":    c.Tracker().Rank(),
		})
	}
	fmt.Fprintf(out, "%s Mission %d %s. Rank: %s\n", okColor("✓"), id.Number(), okColor(string(view.Status)), boldString(c.Tracker().Rank()))
	return nil
}
