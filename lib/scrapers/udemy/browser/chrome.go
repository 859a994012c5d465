package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// the navigator.webdriver flag gives the automation away to the
// anti-bot checks, drop it before any page script runs
const hideWebdriverScript = `const newProto = navigator.__proto__;
delete newProto.webdriver;
navigator.__proto__ = newProto;`

type ChromeOptions struct {
	ExecPath string
	Headless bool
}

// steps with no element timeout still need a ceiling, a page whose load
// event never fires would otherwise block the run forever
const defaultStepTimeout = time.Second * 45

// the capture log is consulted through short-lived marks only, cap it so
// a long multi-course run does not retain every request ever observed
const requestLogLimit = 2048

// Chrome drives a real Chrome instance over the devtools protocol and
// records every outbound request, the Go analogue of selenium's
// performance log.
type Chrome struct {
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	browserCtx  context.Context

	mu        sync.Mutex
	requests  []CapturedRequest
	discarded int
}

func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
		browserCtx:  browserCtx,
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		c.recordRequest(CapturedRequest{
			Method: req.Request.Method,
			Url:    req.Request.URL,
		})
	})

	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		ctxCancel()
		allocCancel()
		return nil, &DriverError{Op: "start", Err: err}
	}

	return c, nil
}

// stepContext derives the deadline context a single devtools action runs
// on. Actions must run on the browser's own context chain, so the
// caller's cancellation is relayed into the derived context instead of
// merged. A zero timeout falls back to the default step ceiling.
func stepContext(ctx, browserCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// run executes actions against the browser context. Every step carries a
// deadline and observes the caller's cancellation mid-action, so an
// interrupted run never hangs inside the driver.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := stepContext(ctx, c.browserCtx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *Chrome) outcome(op string, value string, err error) Outcome {
	if err == nil {
		return Ok(value)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut()
	}
	return Fault(&DriverError{Op: op, Err: err})
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	err := c.run(ctx, 0, chromedp.Navigate(url))
	if err != nil {
		return &DriverError{Op: "navigate", Err: err}
	}
	return nil
}

func (c *Chrome) CurrentUrl(ctx context.Context) (string, error) {
	var location string
	err := c.run(ctx, 0, chromedp.Location(&location))
	if err != nil {
		return "", &DriverError{Op: "current url", Err: err}
	}
	return location, nil
}

func (c *Chrome) Title(ctx context.Context) (string, error) {
	var title string
	err := c.run(ctx, 0, chromedp.Title(&title))
	if err != nil {
		return "", &DriverError{Op: "title", Err: err}
	}
	return title, nil
}

func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) Outcome {
	err := c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch))
	return c.outcome("wait visible", "", err)
}

func (c *Chrome) Click(ctx context.Context, selector string, timeout time.Duration) Outcome {
	err := c.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Click(selector, chromedp.BySearch),
	)
	return c.outcome("click", "", err)
}

func (c *Chrome) Text(ctx context.Context, selector string, timeout time.Duration) Outcome {
	var text string
	err := c.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Text(selector, &text, chromedp.BySearch),
	)
	return c.outcome("text", text, err)
}

func (c *Chrome) Attribute(ctx context.Context, selector, name string, timeout time.Duration) Outcome {
	var value string
	var found bool
	err := c.run(ctx, timeout,
		chromedp.WaitReady(selector, chromedp.BySearch),
		chromedp.AttributeValue(selector, name, &value, &found, chromedp.BySearch),
	)
	if err == nil && !found {
		return TimedOut()
	}
	return c.outcome("attribute", value, err)
}

func (c *Chrome) Evaluate(ctx context.Context, script string) error {
	err := c.run(ctx, 0, chromedp.Evaluate(script, nil))
	if err != nil {
		return &DriverError{Op: "evaluate", Err: err}
	}
	return nil
}

func (c *Chrome) recordRequest(req CapturedRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.requests) > requestLogLimit {
		drop := len(c.requests) / 2
		copy(c.requests, c.requests[drop:])
		c.requests = c.requests[:len(c.requests)-drop]
		c.discarded += drop
	}
}

func (c *Chrome) RequestMark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded + len(c.requests)
}

func (c *Chrome) RequestsSince(mark int) []CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := mark - c.discarded
	if start < 0 {
		// entries under the mark were trimmed away, return the whole
		// retained window
		start = 0
	}
	if start > len(c.requests) {
		start = len(c.requests)
	}
	out := make([]CapturedRequest, len(c.requests)-start)
	copy(out, c.requests[start:])
	return out
}

func (c *Chrome) SetCookies(ctx context.Context, cookies []Cookie) error {
	actions := make([]chromedp.Action, 0, len(cookies))
	for _, cookie := range cookies {
		actions = append(actions, network.SetCookie(cookie.Name, cookie.Value).
			WithDomain(cookie.Domain))
	}
	err := c.run(ctx, time.Second*10, actions...)
	if err != nil {
		return &DriverError{Op: "set cookies", Err: err}
	}
	return nil
}

func (c *Chrome) Close(ctx context.Context) error {
	err := chromedp.Cancel(c.browserCtx)
	c.ctxCancel()
	c.allocCancel()
	if err != nil {
		return &DriverError{Op: "close", Err: err}
	}
	return nil
}
