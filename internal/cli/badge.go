package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arachnid-agents/mission-control/internal/badge"
	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/spf13/cobra"
)

type badgeFlags struct {
	token   string
	mission string
	handle  string
	out     string
	format  string
	ts      string
}

func newBadgeCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "badge",
		Short: "Render mission completion badges",
	}

	var f badgeFlags
	render := &cobra.Command{
		Use:   "render",
		Short: "Render the badge for a locked mission to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBadgeRender(cmd, app, f)
		},
	}
	render.Flags().StringVar(&f.token, "token", "", "Agent token (required)")
	render.Flags().StringVar(&f.mission, "mission", "", "Mission: 1, 2, 3 or m1..m3 (required)")
	render.Flags().StringVar(&f.handle, "handle", "", "Display handle (defaults to the stored codename)")
	render.Flags().StringVarP(&f.out, "out", "o", "", "Output file or directory (defaults to the badge filename)")
	render.Flags().StringVar(&f.format, "format", "png", "Output format: png or svg")
	render.Flags().StringVar(&f.ts, "ts", "", "Badge timestamp, RFC3339 (defaults to the submission time)")
	render.MarkFlagRequired("token")
	render.MarkFlagRequired("mission")
	cmd.AddCommand(render)
	return cmd
}

func runBadgeRender(cmd *cobra.Command, app *App, f badgeFlags) error {
	ctx := cmd.Context()
	id, err := parseMissionFlag(f.mission)
	if err != nil {
		return err
	}
	if f.format != "png" && f.format != "svg" {
		return fmt.Errorf("unknown format %q (want png or svg)", f.format)
	}

	svc, err := app.progress(ctx)
	if err != nil {
		return err
	}
	rec, err := svc.Get(ctx, f.token)
	if err != nil {
		return err
	}
	if rec == nil || !rec.Missions[id].Locked() {
		return fmt.Errorf("mission %d is not completed for %q", id.Number(), f.token)
	}

	ts := time.Now()
	if at := rec.Missions[id].LastSubmittedAt; at != nil {
		ts = *at
	}
	if f.ts != "" {
		if ts, err = time.Parse(time.RFC3339, f.ts); err != nil {
			return fmt.Errorf("invalid --ts: %w", err)
		}
	}
	handle := f.handle
	if handle == "" {
		handle = rec.Codename
	}

	comp, err := badge.FromConfig(app.config().Badge)
	if err != nil {
		return fmt.Errorf("badge compositor: %w", err)
	}
	defer comp.Close()

	req := badge.Request{
		Handle:    handle,
		Token:     rec.Token,
		Mission:   id.Number(),
		Rank:      mission.Rank(rec.Missions.LockedCount()),
		Timestamp: ts,
	}

	var (
		data     []byte
		filename string
		res      *badge.Result
	)
	if f.format == "svg" {
		_, res, err = comp.Compose(ctx, req)
		if err != nil {
			return err
		}
		data = []byte(res.SVG)
		filename = strings.TrimSuffix(res.Filename, ".png") + ".svg"
	} else {
		res, err = comp.Render(ctx, req)
		if err != nil {
			return err
		}
		data = res.PNG
		filename = res.Filename
	}

	path := f.out
	switch {
	case path == "":
		path = filename
	case isDir(path):
		path = filepath.Join(path, filename)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write badge: %w", err)
	}

	out := cmd.OutOrStdout()
	if app.JSON {
		return writeJSON(out, map[string]any{
			"id":              res.ID,
			"path":            path,
			"bytes":           len(data),
			"profileFallback": res.ProfileFallback,
			"assetFallbacks":  res.AssetFallbacks,
		})
	}
	fmt.Fprintf(out, "%s Badge %s written to %s (%d bytes)\n", okColor("✓"), dim(res.ID), accent(path), len(data))
	if res.AssetFallbacks > 0 {
		fmt.Fprintf(out, "%s %d asset(s) missing, placeholders used\n", warnColor("!"), res.AssetFallbacks)
	}
	return nil
}

// parseMissionFlag accepts "2" or "m2".
func parseMissionFlag(raw string) (models.MissionID, error) {
	raw = strings.TrimSpace(raw)
	if id, ok := models.ParseMissionID(raw); ok {
		return id, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if id, ok := models.MissionIDFromNumber(n); ok {
			return id, nil
		}
	}
	return "", errors.New("unknown mission " + strconv.Quote(raw))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
