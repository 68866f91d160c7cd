package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/realism/internal/helpers"
)

// Page is readable text recovered from a rendered page.
type Page struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Capture is a PNG screenshot encoded as base64.
type Capture struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Browser renders pages locally with headless Chrome. It is the last resort
// when both hosted extraction paths fail.
type Browser struct {
	Timeout   time.Duration
	UserAgent string
}

func (b Browser) timeout() time.Duration {
	if b.Timeout <= 0 {
		return 30 * time.Second
	}
	return b.Timeout
}

func (b Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	if b.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.UserAgent))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()
	return chromedp.Run(bctx, actions...)
}

// Read renders rawURL and extracts the main article text.
func (b Browser) Read(ctx context.Context, rawURL string) (Page, error) {
	u, err := helpers.CheckPublicURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()

	var html string
	if err := b.run(ctx,
		chromedp.Navigate(u.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return Page{}, fmt.Errorf("render %s: %w", u, err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Page{}, fmt.Errorf("readability %s: %w", u, err)
	}
	return Page{
		Title:   strings.TrimSpace(article.Title),
		Content: strings.TrimSpace(article.TextContent),
		URL:     u.String(),
	}, nil
}

// Screenshot captures the visible 1280x720 viewport of rawURL.
func (b Browser) Screenshot(ctx context.Context, rawURL string) (Capture, error) {
	u, err := helpers.CheckPublicURL(rawURL)
	if err != nil {
		return Capture{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()

	var buf []byte
	if err := b.run(ctx,
		chromedp.EmulateViewport(1280, 720),
		chromedp.Navigate(u.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.CaptureScreenshot(&buf),
	); err != nil {
		return Capture{}, fmt.Errorf("screenshot %s: %w", u, err)
	}
	return Capture{Image: base64.StdEncoding.EncodeToString(buf), Width: 1280, Height: 720}, nil
}
