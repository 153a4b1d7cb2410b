package badge

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Asset is a loaded raster image.
type Asset struct {
	Data []byte
	MIME string
}

// DataURI inlines the asset as a base64 data URI.
func (a Asset) DataURI() string {
	return "data:" + a.MIME + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

var placeholderPNG = func() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// Placeholder is a transparent 1×1 PNG used when an asset cannot be loaded.
func Placeholder() Asset {
	return Asset{Data: placeholderPNG, MIME: "image/png"}
}

// AssetLoader loads raster assets by name (e.g. "backgrounds/mission-1.png").
type AssetLoader interface {
	Load(ctx context.Context, name string) (Asset, error)
}

type noAssets struct{}

func (noAssets) Load(_ context.Context, name string) (Asset, error) {
	return Asset{}, fmt.Errorf("no asset source configured for %s", name)
}

// DirLoader reads assets from a directory.
type DirLoader struct {
	Root string
}

func (l DirLoader) Load(_ context.Context, name string) (Asset, error) {
	// Clean against a rooted path so names cannot climb out of Root.
	rel := filepath.FromSlash(path.Clean("/" + name))
	data, err := os.ReadFile(filepath.Join(l.Root, rel))
	if err != nil {
		return Asset{}, fmt.Errorf("read asset %s: %w", name, err)
	}
	return Asset{Data: data, MIME: detectMIME(name, data)}, nil
}

// HTTPLoader fetches assets relative to BaseURL.
type HTTPLoader struct {
	BaseURL string
	Client  *http.Client
}

func (l HTTPLoader) Load(ctx context.Context, name string) (Asset, error) {
	base, err := url.Parse(strings.TrimRight(l.BaseURL, "/") + "/")
	if err != nil {
		return Asset{}, fmt.Errorf("parse asset base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimLeft(name, "/"))
	if err != nil {
		return Asset{}, fmt.Errorf("parse asset name: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(ref).String(), nil)
	if err != nil {
		return Asset{}, err
	}
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("fetch asset %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Asset{}, fmt.Errorf("fetch asset %s: status %d", name, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Asset{}, fmt.Errorf("read asset %s: %w", name, err)
	}
	mt := resp.Header.Get("Content-Type")
	if mt == "" || strings.HasPrefix(mt, "application/octet-stream") {
		mt = detectMIME(name, data)
	}
	return Asset{Data: data, MIME: mt}, nil
}

// CachedLoader memoizes successful loads of an underlying loader. Failures
// are not cached so a later render can pick the asset up.
type CachedLoader struct {
	next  AssetLoader
	group singleflight.Group

	mu    sync.RWMutex
	items map[string]Asset
}

// NewCachedLoader wraps next.
func NewCachedLoader(next AssetLoader) *CachedLoader {
	return &CachedLoader{next: next, items: make(map[string]Asset)}
}

func (c *CachedLoader) Load(ctx context.Context, name string) (Asset, error) {
	c.mu.RLock()
	a, ok := c.items[name]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}
	v, err, _ := c.group.Do(name, func() (any, error) {
		a, err := c.next.Load(ctx, name)
		if err != nil {
			return Asset{}, err
		}
		c.mu.Lock()
		c.items[name] = a
		c.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return Asset{}, err
	}
	return v.(Asset), nil
}

// Invalidate drops every cached asset.
func (c *CachedLoader) Invalidate() {
	c.mu.Lock()
	c.items = make(map[string]Asset)
	c.mu.Unlock()
}

// ErrNoAssetSource is returned by NewAssetLoader when nothing is configured.
var ErrNoAssetSource = errors.New("no asset source configured")

// NewAssetLoader picks a directory loader when dir is set, else an HTTP
// loader when baseURL is set. The result is cached.
func NewAssetLoader(dir, baseURL string) (AssetLoader, error) {
	switch {
	case dir != "":
		return NewCachedLoader(DirLoader{Root: dir}), nil
	case baseURL != "":
		return NewCachedLoader(HTTPLoader{BaseURL: baseURL}), nil
	}
	return nil, ErrNoAssetSource
}

func detectMIME(name string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); strings.HasPrefix(mt, "image/") {
		return mt
	}
	return http.DetectContentType(data)
}
