package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
)

// Selectors that identify pages the executor must not automate.
var (
	loginSelectors = []string{
		`input[type="password"]:visible`,
		`form[action*="login" i]:visible`,
		`form[action*="signin" i]:visible`,
	}
	challengeSelectors = []string{
		`iframe[src*="captcha"]`,
		`iframe[src*="challenges.cloudflare.com"]`,
		`#challenge-form`,
		`.g-recaptcha`,
		`.h-captcha`,
		`[data-sitekey]`,
	}
)

// PlaywrightOptions configures the Playwright driver.
type PlaywrightOptions struct {
	Headless bool
	// Install downloads the driver and Chromium on first use.
	Install bool
	// Timeout is the default timeout for page operations.
	Timeout time.Duration
}

// PlaywrightDriver drives a shared Chromium instance. Every page gets its own
// browser context so runs never share cookies or storage.
type PlaywrightDriver struct {
	opts   PlaywrightOptions
	logger *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightDriver creates a driver. The browser is started on the first NewPage.
func NewPlaywrightDriver(opts PlaywrightOptions, logger *slog.Logger) *PlaywrightDriver {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &PlaywrightDriver{opts: opts, logger: logger}
}

func (d *PlaywrightDriver) start() (playwright.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil && d.browser.IsConnected() {
		return d.browser, nil
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if d.pw == nil {
		if d.opts.Install {
			if err := playwright.Install(runOpts); err != nil {
				return nil, fmt.Errorf("failed to install playwright: %w", err)
			}
		}

		pw, err := playwright.Run(runOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}
		d.pw = pw
	}

	browser, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	d.browser = browser

	d.logger.Info("browser started", slog.Bool("headless", d.opts.Headless))
	return browser, nil
}

// NewPage opens a page in a fresh browser context. Top-level navigations are checked
// against opts.Guard and aborted when rejected.
func (d *PlaywrightDriver) NewPage(ctx context.Context, opts automationDomain.PageOptions) (automationDomain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := d.start()
	if err != nil {
		return nil, err
	}

	bctx, err := browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(d.opts.Timeout.Milliseconds()))

	p := &playwrightPage{page: page, bctx: bctx, opts: opts}

	if opts.Guard != nil {
		err := bctx.Route("**/*", func(route playwright.Route) {
			request := route.Request()
			if request.IsNavigationRequest() {
				if err := opts.Guard(request.URL()); err != nil {
					p.block(err)
					_ = route.Abort("blockedbyclient")
					return
				}
			}
			_ = route.Continue()
		})
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to install navigation guard: %w", err)
		}
	}

	return p, nil
}

// Close shuts the browser and the Playwright driver down.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.browser != nil {
		errs = append(errs, d.browser.Close())
		d.browser = nil
	}
	if d.pw != nil {
		errs = append(errs, d.pw.Stop())
		d.pw = nil
	}
	return errors.Join(errs...)
}

type playwrightPage struct {
	page playwright.Page
	bctx playwright.BrowserContext
	opts automationDomain.PageOptions

	mu      sync.Mutex
	blocked error
}

func (p *playwrightPage) block(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blocked == nil {
		p.blocked = err
	}
}

func (p *playwrightPage) blockedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked
}

// do runs op and returns early when ctx is done. A cancelled operation closes the
// page, which makes the pending Playwright call fail and return.
func (p *playwrightPage) do(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- op()
	}()

	select {
	case err := <-done:
		if blocked := p.blockedErr(); blocked != nil {
			return blocked
		}
		return err
	case <-ctx.Done():
		_ = p.page.Close()
		<-done
		return ctx.Err()
	}
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	return p.do(ctx, func() error {
		if _, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return fmt.Errorf("navigation failed: %w", err)
		}
		return p.inspect(true)
	})
}

func (p *playwrightPage) Fill(ctx context.Context, selector, value string) error {
	return p.do(ctx, func() error {
		locator := p.page.Locator(selector)
		if err := locator.Fill(""); err != nil {
			return fmt.Errorf("fill %s failed: %w", selector, err)
		}

		for _, r := range value {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := locator.PressSequentially(string(r)); err != nil {
				return fmt.Errorf("typing into %s failed: %w", selector, err)
			}
			if p.opts.KeyDelay != nil {
				if err := sleep(ctx, p.opts.KeyDelay()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (p *playwrightPage) Upload(ctx context.Context, selector, path string) error {
	return p.do(ctx, func() error {
		if err := p.page.Locator(selector).SetInputFiles(path); err != nil {
			return fmt.Errorf("upload to %s failed: %w", selector, err)
		}
		return nil
	})
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	return p.do(ctx, func() error {
		if err := p.page.Locator(selector).Click(); err != nil {
			return fmt.Errorf("click %s failed: %w", selector, err)
		}
		return p.inspect(false)
	})
}

func (p *playwrightPage) WaitFor(ctx context.Context, selector string) error {
	return p.do(ctx, func() error {
		if err := p.page.Locator(selector).WaitFor(playwright.LocatorWaitForOptions{
			State: playwright.WaitForSelectorStateVisible,
		}); err != nil {
			return fmt.Errorf("waiting for %s failed: %w", selector, err)
		}
		return nil
	})
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Close() error {
	return errors.Join(p.page.Close(), p.bctx.Close())
}

// inspect reports ErrChallenge or, when checkLogin is set, ErrNeedsLogin for the
// page currently loaded.
func (p *playwrightPage) inspect(checkLogin bool) error {
	if present(p.page, challengeSelectors) {
		return automationDomain.ErrChallenge
	}
	if checkLogin && present(p.page, loginSelectors) {
		return automationDomain.ErrNeedsLogin
	}
	return nil
}

func present(page playwright.Page, selectors []string) bool {
	count, err := page.Locator(strings.Join(selectors, ", ")).Count()
	return err == nil && count > 0
}
