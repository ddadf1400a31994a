package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kairi-dev/kairi/internal/recipe"
)

// Element is one interactable node on a scripted page.
type Element struct {
	// Hidden marks the element present but not visible.
	Hidden bool

	// GotoOnAct navigates the page when the element is acted on.
	GotoOnAct string

	// Err is returned verbatim when the element is acted on.
	Err error
}

// Page is one scripted page state.
type Page struct {
	URL      string
	Title    string
	Text     string
	Elements map[string]Element

	// Observations are returned by Observe regardless of instruction.
	Observations []recipe.ActionRef

	// Extracts maps a scope selector ("" for the whole page) to the value
	// Extract returns.
	Extracts map[string]any
}

// Scripted is an in-memory Engine for tests and trace replay. Pages are
// registered up front; navigation switches between them. It implements the
// extended fallback capability.
type Scripted struct {
	mu      sync.Mutex
	pages   map[string]*Page
	current *Page

	// Strict makes navigation to an unregistered URL fail instead of
	// synthesizing a blank page.
	Strict bool

	// Actions records every ActionRef attempted, for assertions.
	Actions []recipe.ActionRef
}

// NewScripted creates an empty scripted engine.
func NewScripted() *Scripted {
	return &Scripted{pages: make(map[string]*Page)}
}

// AddPage registers a page by URL.
func (s *Scripted) AddPage(p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Elements == nil {
		p.Elements = make(map[string]Element)
	}
	s.pages[p.URL] = p
}

// Goto implements Engine.
func (s *Scripted) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if url == "" {
		return fmt.Errorf("%w: empty url", ErrNavigation)
	}
	p, ok := s.pages[url]
	if !ok {
		if s.Strict {
			return fmt.Errorf("%w: no page at %s", ErrNavigation, url)
		}
		p = &Page{URL: url, Elements: make(map[string]Element)}
		s.pages[url] = p
	}
	s.current = p
	return nil
}

// Act implements Engine.
func (s *Scripted) Act(ctx context.Context, action recipe.ActionRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()

	s.Actions = append(s.Actions, action)
	if s.current == nil {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: no page loaded", ErrTargetNotFound)
	}
	el, ok := s.current.Elements[action.Selector]
	if !ok || el.Hidden {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrTargetNotFound, action.Selector)
	}
	if el.Err != nil {
		s.mu.Unlock()
		return false, el.Err
	}
	dest := el.GotoOnAct
	s.mu.Unlock()

	if dest != "" {
		if err := s.Goto(ctx, dest); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ActWithFallback implements FallbackCapableEngine: the action's own
// selector first, then the entry's primary, then each fallback.
func (s *Scripted) ActWithFallback(ctx context.Context, action recipe.ActionRef, entry recipe.SelectorEntry) (bool, error) {
	selectors := append([]string{action.Selector, entry.Primary}, entry.Fallbacks...)
	seen := make(map[string]bool, len(selectors))
	var lastErr error
	for _, sel := range selectors {
		if sel == "" || seen[sel] {
			continue
		}
		seen[sel] = true
		attempt := action
		attempt.Selector = sel
		ok, err := s.Act(ctx, attempt)
		if ok {
			return true, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: all selectors exhausted", ErrTargetNotFound)
	}
	return false, lastErr
}

// Observe implements Engine.
func (s *Scripted) Observe(ctx context.Context, instruction, scope string) ([]recipe.ActionRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, nil
	}
	return s.current.Observations, nil
}

// Extract implements Engine.
func (s *Scripted) Extract(ctx context.Context, schema map[string]any, scope string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Extracts == nil {
		return nil, nil
	}
	return s.current.Extracts[scope], nil
}

// Screenshot implements Engine. Element screenshots fail when the selector
// is absent or hidden, which is what expectation checks rely on.
func (s *Scripted) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, fmt.Errorf("%w: no page loaded", ErrNavigation)
	}
	if selector != "" {
		el, ok := s.current.Elements[selector]
		if !ok || el.Hidden {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, selector)
		}
	}
	// A tiny placeholder; content is irrelevant to the runtime.
	return []byte("PNG:" + s.current.URL + ":" + selector), nil
}

// CurrentURL implements Engine.
func (s *Scripted) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", nil
	}
	return s.current.URL, nil
}

// CurrentTitle implements Engine.
func (s *Scripted) CurrentTitle(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", nil
	}
	return s.current.Title, nil
}

// PageText returns the current page's scripted text, used by text_contains
// expectations through Extract in real drivers.
func (s *Scripted) PageText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Text
}

// ActedOn reports whether any recorded action used the selector.
func (s *Scripted) ActedOn(selector string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.Actions {
		if a.Selector == selector {
			return true
		}
	}
	return false
}

// SelectorsTried returns the distinct selectors attempted, in order.
func (s *Scripted) SelectorsTried() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	seen := make(map[string]bool)
	for _, a := range s.Actions {
		if !seen[a.Selector] {
			seen[a.Selector] = true
			out = append(out, a.Selector)
		}
	}
	return out
}

var _ FallbackCapableEngine = (*Scripted)(nil)

// String describes the engine state for debug logs.
func (s *Scripted) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(s.pages))
	for u := range s.pages {
		urls = append(urls, u)
	}
	cur := "<none>"
	if s.current != nil {
		cur = s.current.URL
	}
	return fmt.Sprintf("scripted{current: %s, pages: %s}", cur, strings.Join(urls, ", "))
}
