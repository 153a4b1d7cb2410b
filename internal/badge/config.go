package badge

import (
	"errors"
	"fmt"

	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/rs/zerolog/log"
)

// NewTemplateSource picks the template source configured in cfg: a remote
// URL first, then a local file, else the embedded template.
func NewTemplateSource(cfg config.BadgeConfig) TemplateSource {
	switch {
	case cfg.TemplateURL != "":
		return HTTPSource{URL: cfg.TemplateURL, Version: cfg.TemplateVersion}
	case cfg.TemplatePath != "":
		return FileSource{Path: cfg.TemplatePath}
	default:
		return EmbeddedSource{}
	}
}

// NewRasterizer returns the rasterizer named in cfg.
func NewRasterizer(cfg config.BadgeConfig) (Rasterizer, error) {
	switch cfg.Rasterizer {
	case "", "vector":
		return VectorRasterizer{}, nil
	case "chrome":
		return NewChromeRasterizer(cfg.ChromeBin), nil
	default:
		return nil, fmt.Errorf("unknown badge rasterizer %q", cfg.Rasterizer)
	}
}

// FromConfig builds a Compositor from cfg. A missing asset source or
// profile manifest is not fatal: badges render with placeholders.
func FromConfig(cfg config.BadgeConfig) (*Compositor, error) {
	opts := Options{Templates: NewTemplateCache(NewTemplateSource(cfg))}

	assets, err := NewAssetLoader(cfg.AssetDir, cfg.AssetBaseURL)
	switch {
	case errors.Is(err, ErrNoAssetSource):
		log.Warn().Msg("No badge asset source configured, badges render without art")
	case err != nil:
		return nil, err
	default:
		opts.Assets = assets
	}

	if cfg.ManifestPath != "" {
		m, err := LoadProfileManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		opts.Profiles = m
	}

	r, err := NewRasterizer(cfg)
	if err != nil {
		return nil, err
	}
	opts.Rasterizer = r

	return NewCompositor(opts), nil
}
