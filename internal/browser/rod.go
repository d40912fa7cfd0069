package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/rahul/replayer/internal/agent"
	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/rpc"
	"github.com/rahul/replayer/internal/selector"
)

// RodLauncher drives Chrome with go-rod's native element automation. It
// needs no in-page helper: the step executor acts through rod elements.
type RodLauncher struct {
	opts   Options
	logger *log.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func NewRodLauncher(opts Options) *RodLauncher {
	opts = opts.withDefaults()
	return &RodLauncher{opts: opts, logger: opts.Logger.WithPrefix("rod")}
}

func (l *RodLauncher) Name() string {
	return BackendRod
}

func (l *RodLauncher) connect() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser != nil {
		return l.browser, nil
	}

	lc := launcher.New().
		Headless(l.opts.Headless).
		Set("disable-dev-shm-usage")
	if l.opts.ChromePath != "" {
		lc = lc.Bin(l.opts.ChromePath)
	}
	if l.opts.NoSandbox {
		lc = lc.Set("no-sandbox")
	}

	controlURL, err := lc.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lc.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	l.launcher = lc
	l.browser = b
	l.logger.Debug("browser launched", "control_url", controlURL)
	return b, nil
}

func (l *RodLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.browser != nil {
		err = l.browser.Close()
		l.browser = nil
	}
	if l.launcher != nil {
		l.launcher.Cleanup()
		l.launcher = nil
	}
	return err
}

func (l *RodLauncher) Open(ctx context.Context, url string) (executor.ExecutionContext, error) {
	b, err := l.connect()
	if err != nil {
		return nil, err
	}
	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open page %s: %w", url, err)
	}
	// Detach the page from the launch context so it outlives it.
	page = page.Context(context.Background())

	bus := rpc.NewBus()
	driver := &RodDriver{page: page, timeout: l.opts.ActionTimeout, screenshotDir: l.opts.ScreenshotDir}
	return &rodContext{
		page: page,
		bus:  bus,
		exec: agent.NewExecutor(driver, bus, l.logger),
	}, nil
}

type rodContext struct {
	page *rod.Page
	bus  *rpc.Bus
	exec *agent.Executor
	once sync.Once
}

func (c *rodContext) URL(ctx context.Context) (string, error) {
	info, err := c.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (c *rodContext) Ready(ctx context.Context) (bool, error) {
	res, err := c.page.Context(ctx).Eval(`() => document.readyState === "complete"`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// InjectAgent starts the native executor; nothing is installed in the page.
func (c *rodContext) InjectAgent(ctx context.Context) error {
	c.exec.Start(context.Background())
	return nil
}

func (c *rodContext) AgentPresent(ctx context.Context) (bool, error) {
	return c.exec.Running(), nil
}

func (c *rodContext) Channel() rpc.Channel {
	return c.bus
}

func (c *rodContext) Close() error {
	var err error
	c.once.Do(func() {
		c.exec.Stop()
		c.bus.Close()
		err = c.page.Close()
	})
	return err
}

// RodDriver performs steps with rod element APIs.
type RodDriver struct {
	page          *rod.Page
	timeout       time.Duration
	screenshotDir string
}

func (d *RodDriver) bind(ctx context.Context) *rod.Page {
	return d.page.Context(ctx).Timeout(d.timeout)
}

// element returns the first selector candidate present in the page.
func (d *RodDriver) element(ctx context.Context, sel string) (*rod.Element, error) {
	p := d.bind(ctx)
	for _, c := range selector.Candidates(sel) {
		if strings.HasPrefix(c, "role=") {
			continue
		}
		has, el, err := p.Has(c)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if has {
			return el, nil
		}
	}
	if role, name, ok := parseRole(sel); ok {
		lookup := d.page.Context(ctx).Timeout(2 * time.Second)
		if el, err := lookup.ElementR(roleQuery(role), "/^"+regexp.QuoteMeta(name)+"$/"); err == nil {
			return el, nil
		}
	}
	return nil, agent.NotFound(sel)
}

func (d *RodDriver) Goto(ctx context.Context, url string) error {
	p := d.bind(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := p.WaitLoad(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (d *RodDriver) Click(ctx context.Context, sel string) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (d *RodDriver) Fill(ctx context.Context, sel, value string) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (d *RodDriver) Type(ctx context.Context, sel, value string) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("type failed: %w", err)
	}
	return nil
}

func (d *RodDriver) Select(ctx context.Context, sel, value string) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	// Try the option text first, then the value attribute.
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		if err := el.Select([]string{fmt.Sprintf(`[value="%s"]`, value)}, true, rod.SelectorTypeCSSSector); err != nil {
			return fmt.Errorf("select failed: %w", err)
		}
	}
	return nil
}

func (d *RodDriver) Hover(ctx context.Context, sel string) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (d *RodDriver) Wait(ctx context.Context, dur time.Duration) error {
	return agent.Sleep(ctx, dur)
}

func (d *RodDriver) Screenshot(ctx context.Context, name string) (string, error) {
	buf, err := d.bind(ctx).Screenshot(false, nil)
	if err != nil {
		return "", fmt.Errorf("failed to take screenshot: %w", err)
	}
	return saveScreenshot(d.screenshotDir, name, buf)
}
