// Package httpbrowser is a minimal page driver that fetches pages over plain
// HTTP. It gives the engine something real to drive without a browser
// binary: navigation loads the document and reads its title, while clicks,
// typing, selection and scrolling are recorded against the page.
package httpbrowser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	bferrors "github.com/randalmurphal/browseflow/pkg/browseflow/errors"
	"github.com/randalmurphal/browseflow/pkg/browseflow/nodes"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
)

// maxBodyBytes caps how much of a document is read.
const maxBodyBytes = 4 << 20

// defaultScroll is the scroll distance when an action names none.
const defaultScroll = 500

// ErrPageClosed is reported for actions on a closed page.
var ErrPageClosed = errors.New("page closed")

// PageState is a copy of what a page currently shows.
type PageState struct {
	URL     string            `json:"url"`
	Title   string            `json:"title"`
	Status  int               `json:"status"`
	ScrollY int               `json:"scroll_y"`
	Form    map[string]string `json:"form"`
	Clicks  []string          `json:"clicks"`
	History []string          `json:"history"`
}

// Page is the per-session handle.
type Page struct {
	sessionID string

	mu     sync.Mutex
	state  PageState
	closed bool
}

// NewPage returns a blank page.
func NewPage(sessionID string) *Page {
	return &Page{
		sessionID: sessionID,
		state:     PageState{URL: "about:blank", Form: map[string]string{}},
	}
}

// Close implements session.Handle.
func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// State returns a copy of the page state.
func (p *Page) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Form = make(map[string]string, len(p.state.Form))
	for k, v := range p.state.Form {
		s.Form[k] = v
	}
	s.Clicks = append([]string(nil), p.state.Clicks...)
	s.History = append([]string(nil), p.state.History...)
	return s
}

func (p *Page) update(fn func(s *PageState)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	fn(&p.state)
	return nil
}

// Browser creates pages and executes actions against them.
type Browser struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// Option configures a Browser.
type Option func(*Browser)

// WithHTTPClient sets the client used for navigation.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Browser) {
		if c != nil {
			b.client = c
		}
	}
}

// WithTimeout bounds each page load.
func WithTimeout(d time.Duration) Option {
	return func(b *Browser) {
		if d > 0 {
			b.client.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(b *Browser) {
		b.userAgent = ua
	}
}

// WithLogger sets the browser logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Browser) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Browser.
func New(opts ...Option) *Browser {
	b := &Browser{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "browseflow/1.0",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Factory returns a session factory producing blank pages.
func (b *Browser) Factory() session.Factory {
	return func(_ context.Context, sessionID string) (session.Handle, error) {
		b.logger.Debug("page opened", slog.String("session_id", sessionID))
		return NewPage(sessionID), nil
	}
}

// Execute implements nodes.ActionExecutor.
func (b *Browser) Execute(ctx context.Context, h session.Handle, a nodes.Action) nodes.ActionResult {
	p, ok := h.(*Page)
	if !ok {
		return nodes.Failed(a, "handle %T is not an HTTP page", h)
	}

	var (
		res map[string]any
		err error
	)
	switch a.Type {
	case nodes.ActionNavigate:
		res, err = b.navigate(ctx, p, a.Param("url"))
	case nodes.ActionClick:
		res, err = click(p, a.Param("selector"))
	case nodes.ActionTypeText:
		res, err = fill(p, a.Param("selector"), a.Param("text"))
	case nodes.ActionSelect:
		res, err = fill(p, a.Param("selector"), a.Param("value"))
	case nodes.ActionScroll:
		res, err = scroll(p, a.Number("amount", defaultScroll))
	case nodes.ActionWait:
		res, err = wait(ctx, a.Number("timeout", 1))
	case nodes.ActionScreenshot:
		err = errors.New("screenshots are not supported by the HTTP driver")
	default:
		err = fmt.Errorf("unknown action type %q", a.Type)
	}
	if err != nil {
		return nodes.FailedWith(a, err)
	}
	return nodes.ActionResult{Action: a, Success: true, Result: res}
}

func (b *Browser) navigate(ctx context.Context, p *Page, rawURL string) (map[string]any, error) {
	if rawURL == "" {
		return nil, errors.New("navigate requires a url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &bferrors.PageError{URL: rawURL, Status: resp.StatusCode}
	}
	title := ""
	if strings.Contains(resp.Header.Get("Content-Type"), "html") || resp.Header.Get("Content-Type") == "" {
		title = extractTitle(io.LimitReader(resp.Body, maxBodyBytes))
	}
	finalURL := resp.Request.URL.String()

	err = p.update(func(s *PageState) {
		s.URL = finalURL
		s.Title = title
		s.Status = resp.StatusCode
		s.ScrollY = 0
		s.Form = map[string]string{}
		s.History = append(s.History, finalURL)
	})
	if err != nil {
		return nil, err
	}

	b.logger.Debug("page loaded",
		slog.String("session_id", p.sessionID),
		slog.String("url", finalURL),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	return map[string]any{"url": finalURL, "title": title, "status": resp.StatusCode}, nil
}

func click(p *Page, selector string) (map[string]any, error) {
	if selector == "" {
		return nil, errors.New("click requires a selector")
	}
	var url string
	err := p.update(func(s *PageState) {
		s.Clicks = append(s.Clicks, selector)
		url = s.URL
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"selector": selector, "url": url}, nil
}

func fill(p *Page, selector, value string) (map[string]any, error) {
	if selector == "" {
		return nil, errors.New("a selector is required")
	}
	err := p.update(func(s *PageState) {
		s.Form[selector] = value
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"selector": selector, "value": value}, nil
}

func scroll(p *Page, amount float64) (map[string]any, error) {
	var y int
	err := p.update(func(s *PageState) {
		s.ScrollY += int(amount)
		if s.ScrollY < 0 {
			s.ScrollY = 0
		}
		y = s.ScrollY
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"scroll_y": y}, nil
}

func wait(ctx context.Context, seconds float64) (map[string]any, error) {
	d := time.Duration(seconds * float64(time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return map[string]any{"waited": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// extractTitle returns the text of the first <title> element.
func extractTitle(r io.Reader) string {
	z := html.NewTokenizer(r)
	inTitle := false
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == "title" {
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if inTitle && string(name) == "title" {
				return strings.Join(strings.Fields(b.String()), " ")
			}
		case html.TextToken:
			if inTitle {
				b.Write(z.Text())
			}
		}
	}
}
