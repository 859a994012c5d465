// Package enroll claims free course offers through the browser, applying
// the configured language, category and price filters before committing.
package enroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coursewatcher/lib/scrapers/udemy/browser"
	"coursewatcher/lib/scrapers/udemy/core"
	"coursewatcher/lib/stats"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/udemy/enroll")

const (
	captchaXPath     = `//*[@id="px-captcha"]`
	courseLocale     = "//div[@data-purpose='lead-course-locale']"
	buyCourseButton  = "//button[@data-purpose='buy-this-course-button']"
	checkoutTotal    = "//div[contains(@data-purpose, 'total-amount-summary')]//span[2]"
	listedPriceXPath = "//div[starts-with(@class, 'order-summary--original-price-text')]//span"
)

type Status int

const (
	StatusEnrolled Status = iota
	StatusAlreadyEnrolled
	StatusUnwantedLanguage
	StatusUnwantedCategory
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusEnrolled:
		return "enrolled"
	case StatusAlreadyEnrolled:
		return "already enrolled"
	case StatusUnwantedLanguage:
		return "unwanted language"
	case StatusUnwantedCategory:
		return "unwanted category"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

type Options struct {
	// Languages lists the accepted course languages, empty accepts all.
	Languages []string
	// Categories lists the wanted course categories, empty accepts all.
	Categories []string
}

// Enroller drives the course landing page to claim an offer. It only
// needs the browser, enrollment has no usable API surface.
type Enroller struct {
	browser browser.Browser
	stats   *stats.RunStatistics
	opts    Options
}

func New(b browser.Browser, st *stats.RunStatistics, opts Options) *Enroller {
	return &Enroller{browser: b, stats: st, opts: opts}
}

// Enroll opens the course landing page and claims the offer when it
// passes every filter. The returned status says why enrollment did or
// did not happen.
func (e *Enroller) Enroll(ctx context.Context, rawLink string) (Status, error) {
	ctx, span := tracer.Start(ctx, "enroller:Enroll")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "link",
		Value: attribute.StringValue(rawLink),
	})

	err := e.browser.Navigate(ctx, rawLink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open course page")
		return 0, err
	}

	if outcome := e.browser.WaitVisible(ctx, captchaXPath, time.Second*2); outcome.Ok() {
		span.SetStatus(codes.Error, "anti-bot challenge")
		return 0, core.ErrRobotDetected
	}

	title, err := e.browser.Title(ctx)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "checking course offer", "title", title, "link", rawLink)

	ok, err := e.checkLanguage(ctx, title)
	if err != nil {
		return 0, err
	}
	if !ok {
		e.stats.AddUnwantedLanguage()
		return StatusUnwantedLanguage, nil
	}

	ok, err = e.checkCategory(ctx, title)
	if err != nil {
		return 0, err
	}
	if !ok {
		e.stats.AddUnwantedCategory()
		return StatusUnwantedCategory, nil
	}

	// no buy button means the course is already owned
	outcome := e.browser.Click(ctx, buyCourseButton, time.Second*10)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "failed to probe buy button")
		return 0, outcome.Err
	}
	if outcome.Timeout {
		slog.InfoContext(ctx, "course is already purchased", "title", title)
		e.stats.AddAlreadyEnrolled()
		return StatusAlreadyEnrolled, nil
	}

	free, err := e.checkPrice(ctx, title)
	if err != nil {
		return 0, err
	}
	if !free {
		e.stats.AddExpired()
		return StatusExpired, nil
	}

	slog.InfoContext(ctx, "successfully enrolled", "title", title)
	e.stats.AddEnrolled()
	return StatusEnrolled, nil
}

// checkLanguage reads the locale element off the landing page. A missing
// element passes the filter, rejecting on a layout change would drop
// every course.
func (e *Enroller) checkLanguage(ctx context.Context, title string) (bool, error) {
	if len(e.opts.Languages) == 0 {
		return true, nil
	}

	outcome := e.browser.Text(ctx, courseLocale, time.Second*10)
	if outcome.Err != nil {
		return false, outcome.Err
	}
	if outcome.Timeout {
		slog.WarnContext(ctx, "language element not found, accepting course", "title", title)
		return true, nil
	}

	for _, language := range e.opts.Languages {
		if outcome.Value == language {
			return true, nil
		}
	}
	slog.InfoContext(ctx, "course language not wanted",
		"title", title, "language", outcome.Value)
	return false, nil
}

// checkCategory scans the breadcrumb trail for any of the wanted
// categories.
func (e *Enroller) checkCategory(ctx context.Context, title string) (bool, error) {
	if len(e.opts.Categories) == 0 {
		return true, nil
	}

	for _, category := range e.opts.Categories {
		selector := fmt.Sprintf(
			"//*[contains(@class, 'udlite-breadcrumb')]//*[contains(@class, 'udlite-heading-sm')][normalize-space(text())='%s']",
			category,
		)
		outcome := e.browser.WaitVisible(ctx, selector, time.Second*2)
		if outcome.Err != nil {
			return false, outcome.Err
		}
		if outcome.Ok() {
			return true, nil
		}
	}
	slog.InfoContext(ctx, "course does not have a wanted category", "title", title)
	return false, nil
}

// checkPrice verifies the checkout total is actually zero and records
// the listed price towards the savings tally.
func (e *Enroller) checkPrice(ctx context.Context, title string) (bool, error) {
	outcome := e.browser.Text(ctx, checkoutTotal, time.Second*10)
	if outcome.Err != nil {
		return false, outcome.Err
	}
	if !outcome.Timeout {
		price, ok := ParsePrice(outcome.Value)
		if !ok || price.Amount > 0 {
			slog.InfoContext(ctx, "offer has expired, course is no longer free",
				"title", title, "price", outcome.Value)
			return false, nil
		}
	}

	outcome = e.browser.Text(ctx, listedPriceXPath, time.Second*10)
	if outcome.Err != nil {
		return false, outcome.Err
	}
	if outcome.Ok() {
		if price, ok := ParsePrice(outcome.Value); ok {
			e.stats.RecordPrice(price.Amount, price.Currency)
		}
	}
	return true, nil
}
