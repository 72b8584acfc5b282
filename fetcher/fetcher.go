// Package fetcher loads the page to annotate: over plain HTTP, through
// headless Chrome for script-rendered pages, or from a local file.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"golang.org/x/net/html/charset"
)

// FetchResult contains the fetched HTML and metadata.
type FetchResult struct {
	HTML        string
	FinalURL    string // URL after following redirects
	UsedBrowser bool
	FetchTime   time.Duration
}

// Options configures the fetcher behavior.
type Options struct {
	UserAgent      string
	TimeoutSeconds int
	ChromePath     string // Path to Chrome binary (empty = auto-detect)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:      "furigana/1.0",
		TimeoutSeconds: 30,
		ChromePath:     "",
	}
}

// Package-level options (set via Configure)
var opts = DefaultOptions()

// Configure sets the package-level options.
func Configure(o Options) {
	if o.UserAgent != "" {
		opts.UserAgent = o.UserAgent
	}
	if o.TimeoutSeconds > 0 {
		opts.TimeoutSeconds = o.TimeoutSeconds
	}
	opts.ChromePath = o.ChromePath // Can be empty
}

// Timeout returns the currently configured timeout duration.
func Timeout() time.Duration {
	return time.Duration(opts.TimeoutSeconds) * time.Second
}

// IsURL reports whether target looks like an http(s) URL rather than a path.
func IsURL(target string) bool {
	u, err := url.Parse(target)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Load reads target, which is a URL, a file path, or "-" for stdin. With
// browser set, URLs are rendered through headless Chrome; otherwise Chrome
// is only used when the plain response is blocked or a script shell.
func Load(ctx context.Context, target string, browser bool) (*FetchResult, error) {
	switch {
	case target == "-":
		return read(os.Stdin, "", "")
	case IsURL(target):
		if browser {
			return WithBrowser(ctx, target)
		}
		return Smart(ctx, target)
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", target, err)
	}
	defer f.Close()
	return read(f, "", "file://"+target)
}

func read(r io.Reader, contentType, location string) (*FetchResult, error) {
	start := time.Now()
	body, err := decode(r, contentType)
	if err != nil {
		return nil, err
	}
	return &FetchResult{HTML: body, FinalURL: location, FetchTime: time.Since(start)}, nil
}

// decode converts the page to UTF-8. Many Japanese sites still serve
// Shift_JIS or EUC-JP, declared in the header or a meta tag.
func decode(r io.Reader, contentType string) (string, error) {
	cr, err := charset.NewReader(r, contentType)
	if err != nil {
		return "", fmt.Errorf("detecting charset: %w", err)
	}
	body, err := io.ReadAll(cr)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return string(body), nil
}

// Simple fetches a URL using standard HTTP (fast, low bandwidth).
func Simple(ctx context.Context, url string) (*FetchResult, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept-Language", "ja,en;q=0.8")

	client := &http.Client{
		Timeout: Timeout(),
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}

	body, err := decode(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		HTML:        body,
		FinalURL:    resp.Request.URL.String(), // Capture final URL after redirects
		UsedBrowser: false,
		FetchTime:   time.Since(start),
	}, nil
}

// stealthScript hides the most common headless Chrome markers.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {
    get: () => undefined,
});
Object.defineProperty(navigator, 'languages', {
    get: () => ['ja-JP', 'ja', 'en'],
});
`

// WithBrowser fetches a URL using headless Chrome to execute JavaScript.
// This is slower but handles script-rendered content.
func WithBrowser(ctx context.Context, targetURL string) (*FetchResult, error) {
	start := time.Now()

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", "new"),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(1280, 1024),
	}

	// Add custom Chrome path if specified
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()

	// Browser fetches get extra time
	timeout := Timeout() + 15*time.Second
	bctx, cancel := context.WithTimeout(allocCtx, timeout)
	defer cancel()

	bctx, cancel = chromedp.NewContext(bctx)
	defer cancel()

	var html string
	var finalURL string
	err := chromedp.Run(bctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		network.SetExtraHTTPHeaders(network.Headers(map[string]interface{}{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "ja,en;q=0.8",
		})),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Wait for client-side rendering to settle
		chromedp.Sleep(2*time.Second),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var title string
			if err := chromedp.Title(&title).Do(ctx); err != nil {
				return nil // Ignore errors, continue
			}
			// If Cloudflare challenge detected, wait longer
			if title == "Just a moment..." {
				return chromedp.Sleep(5 * time.Second).Do(ctx)
			}
			return nil
		}),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return nil, fmt.Errorf("browser fetch: %w", err)
	}

	return &FetchResult{
		HTML:        html,
		FinalURL:    finalURL,
		UsedBrowser: true,
		FetchTime:   time.Since(start),
	}, nil
}

// IsBlockedResponse checks if the HTML indicates a blocked/challenged page.
func IsBlockedResponse(html string) (bool, string) {
	switch {
	case strings.Contains(html, "Just a moment..."), strings.Contains(html, "cf-browser-verification"):
		return true, "Cloudflare challenge"
	case strings.Contains(html, "captcha-delivery.com"):
		return true, "DataDome bot protection"
	case strings.Contains(html, "recaptcha") && len(html) < 10000:
		return true, "reCAPTCHA challenge"
	}
	return false, ""
}

// Smart tries simple HTTP first and falls back to the browser when the page
// is blocked or looks like an empty script shell.
func Smart(ctx context.Context, targetURL string) (*FetchResult, error) {
	result, err := Simple(ctx, targetURL)
	if err == nil {
		blocked, _ := IsBlockedResponse(result.HTML)
		if !blocked && !scriptShell(result.HTML) {
			return result, nil
		}
	}

	result, err = WithBrowser(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	if blocked, reason := IsBlockedResponse(result.HTML); blocked {
		return result, fmt.Errorf("blocked: %s", reason)
	}
	return result, nil
}

// scriptShell reports pages that are mostly a mount point for scripts.
func scriptShell(html string) bool {
	return len(html) < 5000 && strings.Contains(html, "<script") &&
		(strings.Contains(html, `id="root"`) || strings.Contains(html, `id="app"`) || strings.Contains(html, `id="__next"`))
}
