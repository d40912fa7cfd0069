package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/rahul/replayer/internal/recorder"
)

// CDPEventSource records interactions in a tab opened at a start URL.
type CDPEventSource struct {
	launcher *CDPLauncher
	url      string
	logger   *log.Logger

	mu  sync.Mutex
	tab context.Context
}

// EventSource returns a recorder source that opens a tab at url.
func (l *CDPLauncher) EventSource(url string) *CDPEventSource {
	return &CDPEventSource{launcher: l, url: url, logger: l.logger.WithPrefix("capture")}
}

// Attach opens the tab, installs the capture script on every document and
// reports clicks, value changes and main-frame navigations. In cross-context
// scope it also reports tabs opened from the recorded one.
func (s *CDPEventSource) Attach(ctx context.Context, scope recorder.Scope, fn func(recorder.RawEvent)) (func() error, error) {
	tab, cancel, err := s.launcher.newTab()
	if err != nil {
		return nil, err
	}

	chromedp.ListenTarget(tab, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name != captureBinding {
				return
			}
			raw, err := parseCapture(e.Payload)
			if err != nil {
				s.logger.Debug("dropping capture event", "error", err)
				return
			}
			fn(raw)
		case *page.EventFrameNavigated:
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			fn(recorder.RawEvent{Kind: recorder.KindNavigate, URL: e.Frame.URL, Timestamp: time.Now()})
		}
	})

	if scope.CrossContext {
		tabTarget := chromedp.FromContext(tab).Target.TargetID
		chromedp.ListenBrowser(tab, func(ev any) {
			e, ok := ev.(*target.EventTargetCreated)
			if !ok || e.TargetInfo == nil || e.TargetInfo.Type != "page" {
				return
			}
			if e.TargetInfo.OpenerID != tabTarget {
				return
			}
			fn(recorder.RawEvent{Kind: recorder.KindTabOpened, URL: e.TargetInfo.URL, Timestamp: time.Now()})
		})
	}

	err = run(ctx, tab, s.launcher.opts.ActionTimeout,
		runtime.AddBinding(captureBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(captureJS).Do(ctx)
			return err
		}),
		chromedp.Navigate(s.url),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start capture at %s: %w", s.url, err)
	}
	s.logger.Info("capturing", "url", s.url, "cross_context", scope.CrossContext)

	s.mu.Lock()
	s.tab = tab
	s.mu.Unlock()
	return func() error {
		s.mu.Lock()
		s.tab = nil
		s.mu.Unlock()
		cancel()
		return nil
	}, nil
}

// Snapshot returns the outer HTML and URL of the page being recorded, for
// naming the recording.
func (s *CDPEventSource) Snapshot(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()
	if tab == nil {
		return "", "", errors.New("capture not attached")
	}
	var html, u string
	err := run(ctx, tab, 10*time.Second,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&u),
	)
	return html, u, err
}
