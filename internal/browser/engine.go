// Package browser defines the capability surface the runtime consumes from a
// browser automation driver. The concrete binding lives outside this module;
// this package carries the interfaces, the error vocabulary used for failure
// classification, and a scripted in-memory engine for tests and replay.
package browser

import (
	"context"
	"errors"

	"github.com/kairi-dev/kairi/internal/recipe"
)

// Sentinel errors drivers should wrap so failures classify precisely.
// Anything else is classified heuristically from the error text.
var (
	ErrTargetNotFound = errors.New("target not found")
	ErrNavigation     = errors.New("navigation failed")
	ErrCaptcha        = errors.New("captcha or 2fa challenge")
	ErrCanvas         = errors.New("target is on a non-dom surface")
)

// Engine is the minimal capability contract every driver provides.
type Engine interface {
	// Goto navigates to a URL.
	Goto(ctx context.Context, url string) error

	// Act performs a concrete interaction. The boolean reports whether the
	// target was located and acted upon.
	Act(ctx context.Context, action recipe.ActionRef) (bool, error)

	// Observe asks the driver to propose candidate actions for a natural
	// language instruction, optionally scoped to a selector.
	Observe(ctx context.Context, instruction, scope string) ([]recipe.ActionRef, error)

	// Extract pulls structured data from the page per an optional schema,
	// optionally scoped to a selector.
	Extract(ctx context.Context, schema map[string]any, scope string) (any, error)

	// Screenshot captures the page, or just the element when selector is
	// non-empty.
	Screenshot(ctx context.Context, selector string) ([]byte, error)

	// CurrentURL returns the page URL at the moment of the call.
	CurrentURL(ctx context.Context) (string, error)

	// CurrentTitle returns the page title at the moment of the call.
	CurrentTitle(ctx context.Context) (string, error)
}

// FallbackCapableEngine is the optional extended capability: the driver
// itself knows how to walk a selector entry's fallback chain. The recovery
// pipeline checks for this before doing its own fallback iteration.
type FallbackCapableEngine interface {
	Engine

	// ActWithFallback tries the action's selector, then the entry's primary
	// and fallbacks, returning true on the first that works.
	ActWithFallback(ctx context.Context, action recipe.ActionRef, entry recipe.SelectorEntry) (bool, error)
}

// Closer is implemented by drivers that hold external resources.
type Closer interface {
	Close(ctx context.Context) error
}
