package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/rahul/replayer/internal/agent"
	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/rpc"
)

const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
)

// CDPLauncher runs one Chrome process and opens a tab per execution context.
type CDPLauncher struct {
	opts   Options
	logger *log.Logger

	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewCDPLauncher(opts Options) *CDPLauncher {
	opts = opts.withDefaults()
	return &CDPLauncher{opts: opts, logger: opts.Logger.WithPrefix("chromedp")}
}

func (l *CDPLauncher) Name() string {
	return BackendChromedp
}

// browser starts Chrome on first use, or again after it went away.
func (l *CDPLauncher) browser() (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browserCtx != nil {
		select {
		case <-l.browserCtx.Done():
			l.cleanup()
		default:
			return l.browserCtx, nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if l.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.opts.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ChromePath))
	}

	l.allocCtx, l.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	l.browserCtx, l.browserCancel = chromedp.NewContext(l.allocCtx)

	if err := chromedp.Run(l.browserCtx); err != nil {
		l.cleanup()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	l.logger.Debug("browser started", "headless", l.opts.Headless)
	return l.browserCtx, nil
}

func (l *CDPLauncher) cleanup() {
	if l.browserCancel != nil {
		l.browserCancel()
	}
	if l.allocCancel != nil {
		l.allocCancel()
	}
	l.browserCtx = nil
	l.allocCtx = nil
}

// Close shuts the browser down.
func (l *CDPLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup()
	return nil
}

// newTab opens a blank tab that outlives ctx.
func (l *CDPLauncher) newTab() (context.Context, context.CancelFunc, error) {
	b, err := l.browser()
	if err != nil {
		return nil, nil, err
	}
	tab, cancel := chromedp.NewContext(b)
	if err := chromedp.Run(tab); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open tab: %w", err)
	}
	return tab, cancel, nil
}

// Open creates a tab at url with its own message channel and step executor.
func (l *CDPLauncher) Open(ctx context.Context, url string) (executor.ExecutionContext, error) {
	tab, cancel, err := l.newTab()
	if err != nil {
		return nil, err
	}

	err = run(ctx, tab, l.opts.ActionTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(agentJS).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}

	bus := rpc.NewBus()
	driver := &CDPDriver{tab: tab, timeout: l.opts.ActionTimeout, screenshotDir: l.opts.ScreenshotDir}
	return &cdpContext{
		tab:    tab,
		cancel: cancel,
		bus:    bus,
		exec:   agent.NewExecutor(driver, bus, l.logger),
		logger: l.logger,
	}, nil
}

// run executes actions in tab, aborting when ctx is done or timeout
// elapses. Cancelling the derived context leaves the tab open.
func run(ctx, tab context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	actx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(actx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

type cdpContext struct {
	tab    context.Context
	cancel context.CancelFunc
	bus    *rpc.Bus
	exec   *agent.Executor
	logger *log.Logger
	once   sync.Once
}

func (c *cdpContext) URL(ctx context.Context) (string, error) {
	var u string
	err := run(ctx, c.tab, 5*time.Second, chromedp.Location(&u))
	return u, err
}

func (c *cdpContext) Ready(ctx context.Context) (bool, error) {
	var ok bool
	err := run(ctx, c.tab, 5*time.Second, chromedp.Evaluate(readyStateJS, &ok))
	return ok, err
}

// InjectAgent installs the DOM helper in the current document and starts
// answering step requests.
func (c *cdpContext) InjectAgent(ctx context.Context) error {
	if err := run(ctx, c.tab, 5*time.Second, chromedp.Evaluate(agentJS, nil)); err != nil {
		return fmt.Errorf("inject agent: %w", err)
	}
	c.exec.Start(c.tab)
	return nil
}

func (c *cdpContext) AgentPresent(ctx context.Context) (bool, error) {
	if !c.exec.Running() {
		return false, nil
	}
	var ok bool
	err := run(ctx, c.tab, 5*time.Second, chromedp.Evaluate(agentPresentJS, &ok))
	return ok, err
}

func (c *cdpContext) Channel() rpc.Channel {
	return c.bus
}

func (c *cdpContext) Close() error {
	c.once.Do(func() {
		c.exec.Stop()
		c.bus.Close()
		c.cancel()
	})
	return nil
}

// CDPDriver performs steps in a tab through the injected DOM helper.
type CDPDriver struct {
	tab           context.Context
	timeout       time.Duration
	screenshotDir string
}

func (d *CDPDriver) Goto(ctx context.Context, url string) error {
	return run(ctx, d.tab, d.timeout, chromedp.Navigate(url))
}

func (d *CDPDriver) perform(ctx context.Context, action, sel, value string) error {
	expr, err := performExpression(action, sel, value)
	if err != nil {
		return err
	}
	var res performResult
	if err := run(ctx, d.tab, d.timeout, chromedp.Evaluate(expr, &res)); err != nil {
		return fmt.Errorf("%s %s: %w", action, sel, err)
	}
	return res.err(sel)
}

func (d *CDPDriver) Click(ctx context.Context, sel string) error {
	return d.perform(ctx, "click", sel, "")
}

func (d *CDPDriver) Fill(ctx context.Context, sel, value string) error {
	return d.perform(ctx, "fill", sel, value)
}

func (d *CDPDriver) Type(ctx context.Context, sel, value string) error {
	return d.perform(ctx, "type", sel, value)
}

func (d *CDPDriver) Select(ctx context.Context, sel, value string) error {
	return d.perform(ctx, "select", sel, value)
}

func (d *CDPDriver) Hover(ctx context.Context, sel string) error {
	return d.perform(ctx, "hover", sel, "")
}

func (d *CDPDriver) Wait(ctx context.Context, dur time.Duration) error {
	return agent.Sleep(ctx, dur)
}

func (d *CDPDriver) Screenshot(ctx context.Context, name string) (string, error) {
	var buf []byte
	if err := run(ctx, d.tab, d.timeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	return saveScreenshot(d.screenshotDir, name, buf)
}
