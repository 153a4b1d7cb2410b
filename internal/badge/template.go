package badge

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

//go:embed templates/mission-success.svg
var defaultTemplate string

// TemplateSource loads the raw SVG template.
type TemplateSource interface {
	Load(ctx context.Context) (string, error)
}

// EmbeddedSource serves the template compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) Load(context.Context) (string, error) { return defaultTemplate, nil }

// FileSource reads the template from a local file.
type FileSource struct {
	Path string
}

func (s FileSource) Load(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", s.Path, err)
	}
	return string(data), nil
}

// HTTPSource fetches the template from a URL with a ?v=<version> query so
// a version bump bypasses any intermediate cache.
type HTTPSource struct {
	URL     string
	Version string
	Client  *http.Client
}

func (s HTTPSource) Load(ctx context.Context) (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parse template url: %w", err)
	}
	if s.Version != "" {
		q := u.Query()
		q.Set("v", s.Version)
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch template: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unable to load mission template: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read template body: %w", err)
	}
	return string(body), nil
}

// TemplateCache memoizes the template after the first successful load.
// Concurrent first loads share one fetch. Invalidate drops the cached copy;
// a load that was in flight when Invalidate ran is returned to its callers
// but not cached.
type TemplateCache struct {
	src   TemplateSource
	group singleflight.Group

	mu     sync.RWMutex
	text   string
	cached bool
	gen    uint64
}

// NewTemplateCache wraps src.
func NewTemplateCache(src TemplateSource) *TemplateCache {
	return &TemplateCache{src: src}
}

// Get returns the cached template, loading it on first use.
func (c *TemplateCache) Get(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.cached {
		text := c.text
		c.mu.RUnlock()
		return text, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do(fmt.Sprintf("template-%d", gen), func() (any, error) {
		text, err := c.src.Load(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.text = text
			c.cached = true
		}
		c.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached template; the next Get reloads it.
func (c *TemplateCache) Invalidate() {
	c.mu.Lock()
	c.text = ""
	c.cached = false
	c.gen++
	c.mu.Unlock()
}
