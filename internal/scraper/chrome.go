package scraper

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeRenderer loads pages in headless Chrome for sites whose listings are
// built client-side.
type ChromeRenderer struct {
	opts     Options
	execPath string
	settle   time.Duration
}

func NewChromeRenderer(opts Options) *ChromeRenderer {
	execPath := opts.ChromeBin
	if execPath == "" {
		execPath = findChromeBinary()
	}

	return &ChromeRenderer{
		opts:     opts.withDefaults(),
		execPath: execPath,
		settle:   2 * time.Second,
	}
}

func (r *ChromeRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.opts.UserAgent),
	)
	if r.execPath != "" {
		opts = append(opts, chromedp.ExecPath(r.execPath))
	}
	return opts
}

// Render navigates to pageURL, waits for waitSelector to appear and returns
// the document's outer HTML.
func (r *ChromeRenderer) Render(ctx context.Context, pageURL, waitSelector string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancel := context.WithTimeout(browserCtx, r.opts.Timeout)
	defer cancel()

	actions := []chromedp.Action{chromedp.Navigate(pageURL)}
	if waitSelector != "" {
		actions = append(actions, chromedp.WaitReady(waitSelector, chromedp.ByQuery))
	}

	var html string
	actions = append(actions,
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", pageURL, err)
	}
	return html, nil
}

func findChromeBinary() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
