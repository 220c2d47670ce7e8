package rentfaster

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"rental-scraper/config"
	"rental-scraper/utils"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// Page is the result of loading one listing URL.
type Page struct {
	Markup string
	Status int
}

// Fetcher loads a single URL. Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

var _ Fetcher = (*Browser)(nil)

// Browser is a Fetcher backed by one Chrome process. Each Fetch opens its
// own tab, so workers never share page state.
type Browser struct {
	logger *utils.Logger

	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancelBrows context.CancelFunc

	settle    *utils.DelayRange
	challenge *utils.DelayRange
}

// NewBrowser starts Chrome with the configured headless mode.
func NewBrowser(cfg *config.Config, logger *utils.Logger) (*Browser, error) {
	chromeBin := cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[browser] Using browser binary: %s (headless=%v)", chromeBin, cfg.Headless)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	// The first Run launches the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser: start chrome: %w", err)
	}

	seed := time.Now().UnixNano()
	return &Browser{
		logger:      logger,
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		browserCtx:  browserCtx,
		cancelBrows: cancelBrowser,
		settle:      utils.NewDelayRange(3*time.Second, 7*time.Second, seed),
		challenge:   utils.NewDelayRange(5*time.Second, 10*time.Second, seed+1),
	}, nil
}

// Fetch navigates a fresh tab to url and returns the rendered document.
// The deadline on ctx bounds the whole operation.
func (b *Browser) Fetch(ctx context.Context, url string) (*Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	// Tie the tab to the caller's deadline.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("browser: prepare tab: %w", err)
	}

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("browser: navigate %s: %w", url, ctx.Err())
		}
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	status := 0
	if resp != nil {
		status = int(resp.Status)
	}

	var bodyText string
	if err := chromedp.Run(tabCtx,
		chromedp.Sleep(b.settle.Next()),
		chromedp.Text("body", &bodyText, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("browser: wait for %s: %w", url, err)
	}

	// Challenge pages usually clear themselves after a few seconds.
	if _, ok := ChallengeMarker(bodyText); ok {
		b.logger.Debug("[browser] Challenge page on %s, waiting", url)
		if err := chromedp.Run(tabCtx, chromedp.Sleep(b.challenge.Next())); err != nil {
			return nil, fmt.Errorf("browser: wait out challenge on %s: %w", url, err)
		}
	}

	var markup string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("browser: read document %s: %w", url, err)
	}

	return &Page{Markup: markup, Status: status}, nil
}

// Close shuts down the tab context and the Chrome process.
func (b *Browser) Close() error {
	b.cancelBrows()
	b.cancelAlloc()
	return nil
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
