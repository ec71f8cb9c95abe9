package domain

import (
	"context"
	"time"
)

// NavigationGuard approves a navigation target before the browser requests it.
type NavigationGuard func(targetURL string) error

// PageOptions configures a page opened for one run.
type PageOptions struct {
	// Guard is consulted for every top-level navigation, including redirects.
	Guard NavigationGuard
	// KeyDelay returns the pause inserted after each typed character.
	KeyDelay func() time.Duration
}

// Driver opens browser pages. Implementations must be safe for concurrent use.
type Driver interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Page is one browser tab owned by a single run. Methods block until the interaction
// completes or ctx is done.
type Page interface {
	// Navigate loads url and reports ErrNeedsLogin or ErrChallenge when the loaded
	// page asks for credentials or shows a bot challenge.
	Navigate(ctx context.Context, url string) error
	// Fill clears the input matched by selector and types value.
	Fill(ctx context.Context, selector, value string) error
	// Upload attaches the file at path to the file input matched by selector.
	Upload(ctx context.Context, selector, path string) error
	// Click clicks the element matched by selector. It reports ErrChallenge when the
	// click surfaces a bot challenge.
	Click(ctx context.Context, selector string) error
	// WaitFor waits until selector is visible.
	WaitFor(ctx context.Context, selector string) error
	// URL returns the current page URL.
	URL() string
	Close() error
}
