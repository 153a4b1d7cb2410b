package badge

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// DefaultProfileAsset is used when the manifest names no default.
const DefaultProfileAsset = "profiles/default.png"

// ProfileManifest maps normalized agent tokens to profile art.
//
//	default: profiles/default.png
//	profiles:
//	  spider: profiles/spider.png
type ProfileManifest struct {
	Default  string            `yaml:"default"`
	Profiles map[string]string `yaml:"profiles"`
}

// LoadProfileManifest reads a YAML manifest. Keys are normalized on load.
func LoadProfileManifest(path string) (*ProfileManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile manifest: %w", err)
	}
	return ParseProfileManifest(data)
}

// ParseProfileManifest decodes a YAML manifest.
func ParseProfileManifest(data []byte) (*ProfileManifest, error) {
	var raw ProfileManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profile manifest: %w", err)
	}
	m := &ProfileManifest{Default: raw.Default, Profiles: make(map[string]string, len(raw.Profiles))}
	for k, v := range raw.Profiles {
		if key := NormalizeToken(k); key != "" {
			m.Profiles[key] = v
		}
	}
	return m, nil
}

// Resolve returns the profile asset for token and whether the default was
// used instead of a match.
func (m *ProfileManifest) Resolve(token string) (string, bool) {
	if m != nil {
		if asset, ok := m.Profiles[NormalizeToken(token)]; ok && asset != "" {
			return asset, false
		}
	}
	if m != nil && m.Default != "" {
		return m.Default, true
	}
	return DefaultProfileAsset, true
}

// NormalizeToken lowercases s, strips leading '@' and removes all whitespace.
func NormalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimLeft(s, "@")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
