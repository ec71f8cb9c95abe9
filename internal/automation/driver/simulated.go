// Package driver provides browser drivers for the automation executor.
package driver

import (
	"context"
	"sync"
	"time"

	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
)

// Simulated operation names, used as keys of SimulatedDriver.Fail and in Calls.
const (
	OpNavigate = "navigate"
	OpFill     = "fill"
	OpUpload   = "upload"
	OpClick    = "click"
	OpWaitFor  = "wait_for"
)

// SimulatedDriver runs without a browser. Navigation is still checked against the
// guard, typing still honours the key delay, and any operation can be made to fail.
type SimulatedDriver struct {
	// Fail maps an operation name to the error it returns.
	Fail map[string]error
	// Latency is added to every operation.
	Latency time.Duration

	mu    sync.Mutex
	calls []string
}

// NewSimulatedDriver creates a simulated driver with no failures.
func NewSimulatedDriver() *SimulatedDriver {
	return &SimulatedDriver{Fail: map[string]error{}}
}

// NewPage opens a simulated page.
func (d *SimulatedDriver) NewPage(ctx context.Context, opts automationDomain.PageOptions) (automationDomain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &simulatedPage{driver: d, opts: opts, url: "about:blank"}, nil
}

// Close is a no-op.
func (d *SimulatedDriver) Close() error {
	return nil
}

// Calls returns the operations performed so far, as "op selector" strings.
func (d *SimulatedDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *SimulatedDriver) perform(ctx context.Context, op, arg string) error {
	if d.Latency > 0 {
		if err := sleep(ctx, d.Latency); err != nil {
			return err
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	d.calls = append(d.calls, op+" "+arg)
	err := d.Fail[op]
	d.mu.Unlock()

	return err
}

type simulatedPage struct {
	driver *SimulatedDriver
	opts   automationDomain.PageOptions

	mu     sync.Mutex
	url    string
	closed bool
}

func (p *simulatedPage) Navigate(ctx context.Context, url string) error {
	if p.opts.Guard != nil {
		if err := p.opts.Guard(url); err != nil {
			return err
		}
	}
	if err := p.driver.perform(ctx, OpNavigate, url); err != nil {
		return err
	}

	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *simulatedPage) Fill(ctx context.Context, selector, value string) error {
	if p.opts.KeyDelay != nil {
		for range value {
			if err := sleep(ctx, p.opts.KeyDelay()); err != nil {
				return err
			}
		}
	}
	return p.driver.perform(ctx, OpFill, selector)
}

func (p *simulatedPage) Upload(ctx context.Context, selector, _ string) error {
	return p.driver.perform(ctx, OpUpload, selector)
}

func (p *simulatedPage) Click(ctx context.Context, selector string) error {
	return p.driver.perform(ctx, OpClick, selector)
}

func (p *simulatedPage) WaitFor(ctx context.Context, selector string) error {
	return p.driver.perform(ctx, OpWaitFor, selector)
}

func (p *simulatedPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *simulatedPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
