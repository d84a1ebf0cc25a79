// Package capture renders the server-side grid page to PNG with headless
// Chromium and derives thumbnails from the screenshot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "worksched/internal/log"
	"worksched/internal/model"
)

// Viewport of a full month grid with the summary columns.
const (
	DefaultWidth      = 1600
	DefaultHeight     = 900
	DefaultTimeoutSec = 30
	readySelector     = `[data-ready="true"]`
)

// Options defines one grid snapshot.
type Options struct {
	// BaseURL is the backend origin, e.g. "http://127.0.0.1:8000".
	BaseURL string
	Month   model.YearMonth
	// AccessToken is sent as a bearer token; /grid requires authentication.
	AccessToken string

	// OutputPath receives the PNG screenshot.
	OutputPath string
	// ThumbnailPath, if set, receives a scaled copy ThumbnailWidth pixels wide.
	ThumbnailPath  string
	ThumbnailWidth int

	Width   int
	Height  int
	Timeout time.Duration
}

// GridURL is the page captured for ym.
func GridURL(baseURL string, ym model.YearMonth) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("capture: base URL %q must be absolute", baseURL)
	}
	u = u.JoinPath("grid")
	u.RawQuery = url.Values{"month": {ym.String()}}.Encode()
	return u.String(), nil
}

// SnapshotGrid opens the grid page in headless Chromium, waits for the table
// to signal data-ready and writes a full-page PNG.
func SnapshotGrid(parentCtx context.Context, opts Options) error {
	if opts.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if opts.AccessToken == "" {
		return errors.New("capture: access token is required")
	}
	target, err := GridURL(opts.BaseURL, opts.Month)
	if err != nil {
		return err
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Bearer " + opts.AccessToken}),
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	appLog.Info("capturing grid", "url", target, "width", opts.Width, "height", opts.Height)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("grid snapshot written", "path", opts.OutputPath, "bytes", len(png))

	if opts.ThumbnailPath != "" {
		if err := WriteThumbnail(png, opts.ThumbnailPath, opts.ThumbnailWidth); err != nil {
			return err
		}
	}
	return nil
}
