package badge

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ChromeRasterizer renders the SVG document in headless Chrome, which
// draws <text> and <image> elements natively. The browser is launched on
// first use and reused until Close.
type ChromeRasterizer struct {
	bin string

	mu      sync.Mutex
	browser *rod.Browser
}

// NewChromeRasterizer uses the Chrome binary at bin, or lets the launcher
// find or download one when bin is empty.
func NewChromeRasterizer(bin string) *ChromeRasterizer {
	return &ChromeRasterizer{bin: bin}
}

func (c *ChromeRasterizer) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	l := launcher.New().Headless(true)
	if c.bin != "" {
		l = l.Bin(c.bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	c.browser = browser
	log.Info().Str("bin", c.bin).Msg("🖼️  Headless Chrome rasterizer ready")
	return browser, nil
}

func (c *ChromeRasterizer) Rasterize(ctx context.Context, doc Document) ([]byte, error) {
	browser, err := c.connect()
	if err != nil {
		return nil, err
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             Width,
		Height:            Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	html := fmt.Sprintf(`<!doctype html><html><body style="margin:0;background:%s">%s</body></html>`, doc.Base, doc.SVG)
	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	return page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close shuts the browser down.
func (c *ChromeRasterizer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}
