// Package badge renders the per-mission completion badge: a fixed-size PNG
// built from background art, the agent's profile art and a templated
// vector layer (text, progress dots, a deterministic barcode).
//
// The vector layer is reproducible: the same inputs always yield the same
// SVG markup. Asset loads degrade to a transparent placeholder so a badge
// always renders; template or rasterization failures are returned.
package badge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Canvas size of every badge.
const (
	Width  = 1080
	Height = 1440
)

// ProfileRect is where the profile art sits on the canvas.
var ProfileRect = image.Rect(340, 300, 740, 700)

// ErrInvalidMission is returned for a mission number outside 1..3.
var ErrInvalidMission = errors.New("badge: mission must be 1, 2 or 3")

// Request describes one badge render.
type Request struct {
	Handle    string // display handle; a leading '@' is ignored
	Token     string // identity token, used for profile lookup
	Mission   int
	Rank      string
	Timestamp time.Time
}

// Result is a rendered badge.
type Result struct {
	ID              string
	PNG             []byte
	SVG             string
	Filename        string
	ProfileFallback bool
	AssetFallbacks  int
}

// Compositor renders badges. Construct once and share.
type Compositor struct {
	templates  *TemplateCache
	assets     AssetLoader
	profiles   *ProfileManifest
	rasterizer Rasterizer
	rules      *mission.RuleTable
	loc        *time.Location
	now        func() time.Time
}

// Options configures a Compositor. Zero values pick the embedded template,
// an asset loader that always fails (so every asset degrades), an empty
// profile manifest and the vector rasterizer.
type Options struct {
	Templates  *TemplateCache
	Assets     AssetLoader
	Profiles   *ProfileManifest
	Rasterizer Rasterizer
	Rules      *mission.RuleTable
	Location   *time.Location
}

// NewCompositor builds a compositor from opts.
func NewCompositor(opts Options) *Compositor {
	c := &Compositor{
		templates:  opts.Templates,
		assets:     opts.Assets,
		profiles:   opts.Profiles,
		rasterizer: opts.Rasterizer,
		rules:      opts.Rules,
		loc:        opts.Location,
		now:        time.Now,
	}
	if c.templates == nil {
		c.templates = NewTemplateCache(EmbeddedSource{})
	}
	if c.assets == nil {
		c.assets = noAssets{}
	}
	if c.profiles == nil {
		c.profiles = &ProfileManifest{}
	}
	if c.rasterizer == nil {
		c.rasterizer = VectorRasterizer{}
	}
	if c.rules == nil {
		c.rules = mission.Default()
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	return c
}

// Templates exposes the template cache so callers can invalidate it.
func (c *Compositor) Templates() *TemplateCache { return c.templates }

// Compose builds the filled SVG document for req without rasterizing it.
func (c *Compositor) Compose(ctx context.Context, req Request) (Document, *Result, error) {
	id, ok := models.MissionIDFromNumber(req.Mission)
	if !ok {
		return Document{}, nil, ErrInvalidMission
	}
	pal := PaletteFor(req.Mission)
	meta, _ := c.rules.Mission(id)

	ts := req.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	ts = ts.In(c.loc)

	handle := req.Handle
	if strings.TrimSpace(handle) == "" {
		handle = req.Token
	}
	safe := SafeHandle(handle)

	tmpl, err := c.templates.Get(ctx)
	if err != nil {
		return Document{}, nil, fmt.Errorf("load badge template: %w", err)
	}

	profileKey := req.Token
	if strings.TrimSpace(profileKey) == "" {
		profileKey = handle
	}
	profileName, fallback := c.profiles.Resolve(profileKey)
	if fallback {
		log.Info().Str("token", NormalizeToken(profileKey)).Str("asset", profileName).Msg("No profile art for agent, using default")
	}

	res := &Result{
		ID:              uuid.NewString(),
		Filename:        Filename(handle, ts),
		ProfileFallback: fallback,
	}

	background, profile, fallbacks, err := c.loadAssets(ctx, pal.Background, profileName)
	if err != nil {
		return Document{}, nil, err
	}
	res.AssetFallbacks = fallbacks

	rank := strings.TrimSpace(req.Rank)
	if rank == "" {
		rank = mission.Rank(0)
	}

	vars := Vars{
		"USERNAME":        Text("@" + safe),
		"TIMESTAMP":       Text(DisplayTimestamp(ts)),
		"MISSION_NUMBER":  Trusted(strconv.Itoa(req.Mission)),
		"MISSION_TITLE":   Text(strings.ToUpper(meta.Title)),
		"BADGE_RANK":      Text(meta.BadgeRank),
		"RANK":            Text(strings.ToUpper(rank)),
		"ACCENT_COLOR":    Trusted(pal.Accent),
		"TEXT_COLOR":      Trusted(pal.Text),
		"BARCODE":         Trusted(Barcode(BarcodeLabel(req.Mission, ts))),
		"BACKGROUND_HREF": Trusted(background.DataURI()),
		"PROFILE_HREF":    Trusted(profile.DataURI()),
	}
	for i, fill := range DotFills(req.Mission, pal) {
		vars[fmt.Sprintf("DOT_%d_FILL", i+1)] = Trusted(fill)
	}

	svg, err := Fill(tmpl, vars)
	if err != nil {
		return Document{}, nil, err
	}
	res.SVG = svg

	doc := Document{
		SVG:         svg,
		Base:        pal.Base,
		Background:  background.Data,
		Profile:     profile.Data,
		ProfileRect: ProfileRect,
		Text:        textLayers(pal, req.Mission, meta, safe, rank, ts),
	}
	return doc, res, nil
}

// Render composes and rasterizes a badge.
func (c *Compositor) Render(ctx context.Context, req Request) (*Result, error) {
	doc, res, err := c.Compose(ctx, req)
	if err != nil {
		return nil, err
	}
	png, err := c.rasterizer.Rasterize(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("rasterize badge: %w", err)
	}
	res.PNG = png
	log.Debug().
		Str("badge_id", res.ID).
		Int("mission", req.Mission).
		Int("bytes", len(png)).
		Int("asset_fallbacks", res.AssetFallbacks).
		Msg("Badge rendered")
	return res, nil
}

// Close releases the rasterizer if it holds resources.
func (c *Compositor) Close() error {
	if closer, ok := c.rasterizer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// loadAssets fetches the background and profile art in parallel. A failed
// load is replaced by a transparent placeholder and counted.
func (c *Compositor) loadAssets(ctx context.Context, backgroundName, profileName string) (Asset, Asset, int, error) {
	var background, profile Asset
	var bgFailed, profileFailed bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		background, bgFailed = c.loadOrPlaceholder(gctx, backgroundName)
		return nil
	})
	g.Go(func() error {
		profile, profileFailed = c.loadOrPlaceholder(gctx, profileName)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Asset{}, Asset{}, 0, err
	}
	if err := ctx.Err(); err != nil {
		return Asset{}, Asset{}, 0, err
	}

	fallbacks := 0
	if bgFailed {
		fallbacks++
	}
	if profileFailed {
		fallbacks++
	}
	return background, profile, fallbacks, nil
}

func (c *Compositor) loadOrPlaceholder(ctx context.Context, name string) (Asset, bool) {
	if name == "" {
		return Placeholder(), true
	}
	a, err := c.assets.Load(ctx, name)
	if err != nil {
		log.Warn().Err(err).Str("asset", name).Msg("Asset load failed, using transparent placeholder")
		return Placeholder(), true
	}
	return a, false
}

func textLayers(pal Palette, n int, meta mission.MissionRules, handle, rank string, ts time.Time) []TextLayer {
	return []TextLayer{
		{Text: fmt.Sprintf("MISSION %d COMPLETE", n), X: 540, Y: 150, Scale: 5, Color: pal.Accent},
		{Text: strings.ToUpper(meta.Title), X: 540, Y: 228, Scale: 3, Color: pal.Text},
		{Text: "@" + handle, X: 540, Y: 780, Scale: 6, Color: pal.Text},
		{Text: meta.BadgeRank, X: 540, Y: 866, Scale: 4, Color: pal.Accent},
		{Text: "RANK: " + strings.ToUpper(rank), X: 540, Y: 1058, Scale: 3, Color: pal.Text},
		{Text: DisplayTimestamp(ts), X: 540, Y: 1120, Scale: 3, Color: pal.Text},
	}
}
