// Package browser wraps the automation handle the solver drives. The
// interface exists so the solving logic can be exercised against a fake,
// the real implementation lives in chrome.go.
package browser

import (
	"context"
	"fmt"
	"time"
)

// Outcome reports the result of a single wait-and-act step. Expected
// "element not found within deadline" cases come back as Timeout instead
// of an error so callers can compose steps without exception-style
// control flow.
type Outcome struct {
	// Value carries the step's payload (element text, attribute value)
	// when the step produces one.
	Value   string
	Timeout bool
	Err     error
}

func (o Outcome) Ok() bool {
	return !o.Timeout && o.Err == nil
}

func Ok(value string) Outcome {
	return Outcome{Value: value}
}

func TimedOut() Outcome {
	return Outcome{Timeout: true}
}

func Fault(err error) Outcome {
	return Outcome{Err: err}
}

// DriverError is a browser-session-level fault, as opposed to a missing
// element. It aborts the remaining work for the current course.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("browser driver: %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// CapturedRequest is one outbound network request observed by the browser
// while a page was being driven.
type CapturedRequest struct {
	Method string
	Url    string
}

type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Browser is the automation handle consumed by the solver and the catalog
// resolver. Selectors are XPath expressions. The handle is owned by a
// single control goroutine for the whole run and is never shared.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	CurrentUrl(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// WaitVisible blocks until the selector matches a visible element
	// or the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) Outcome
	Click(ctx context.Context, selector string, timeout time.Duration) Outcome
	Text(ctx context.Context, selector string, timeout time.Duration) Outcome
	Attribute(ctx context.Context, selector, name string, timeout time.Duration) Outcome

	// Evaluate runs a script in the page, discarding its result.
	Evaluate(ctx context.Context, script string) error

	// RequestMark returns a watermark into the captured request log,
	// RequestsSince returns every request observed after that mark.
	RequestMark() int
	RequestsSince(mark int) []CapturedRequest

	SetCookies(ctx context.Context, cookies []Cookie) error
	Close(ctx context.Context) error
}
