// Package watcher ties the pipeline together: resolve every course link,
// enroll where needed, then remediate each course to completion.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"coursewatcher/lib/scrapers/udemy/catalog"
	"coursewatcher/lib/scrapers/udemy/completion"
	"coursewatcher/lib/scrapers/udemy/core"
	"coursewatcher/lib/scrapers/udemy/enroll"
	"coursewatcher/lib/stats"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/udemy/watcher")

type Watcher struct {
	client   *core.Client
	resolver *catalog.Resolver
	tracker  *completion.Tracker
	enroller *enroll.Enroller
	stats    *stats.RunStatistics
}

func New(
	client *core.Client,
	resolver *catalog.Resolver,
	tracker *completion.Tracker,
	enroller *enroll.Enroller,
	st *stats.RunStatistics,
) *Watcher {
	return &Watcher{
		client:   client,
		resolver: resolver,
		tracker:  tracker,
		enroller: enroller,
		stats:    st,
	}
}

// EnrolledCourseLinks builds dashboard-redirect links for every course
// the account is already enrolled in, the default work list when no
// links file is given.
func (w *Watcher) EnrolledCourseLinks(ctx context.Context) ([]string, error) {
	ids, err := w.client.EnrolledCourseIds(ctx)
	if err != nil {
		return nil, err
	}
	links := make([]string, 0, len(ids))
	for _, id := range ids {
		links = append(links, fmt.Sprintf(
			"https://%s.udemy.com/course-dashboard-redirect/?course_id=%d",
			w.client.Domain, id,
		))
	}
	return links, nil
}

// Run processes every link once and returns the links that could not be
// brought to full completion. Cancelling the context stops the run after
// the in-flight course. An anti-bot challenge or a dead browser session
// aborts the whole run.
func (w *Watcher) Run(ctx context.Context, links []string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "watcher:Run")
	defer span.End()

	links = dedupe(links)
	span.SetAttributes(attribute.KeyValue{
		Key:   "links",
		Value: attribute.IntValue(len(links)),
	})
	slog.InfoContext(ctx, "starting watch run", "links", len(links))

	var errorLinks []string
	for _, link := range links {
		select {
		case <-ctx.Done():
			slog.WarnContext(ctx, "run interrupted, stopping",
				"remaining", len(links)-len(errorLinks))
			return errorLinks, ctx.Err()
		default:
		}

		err := w.processLink(ctx, link)
		if err != nil {
			// an anti-bot challenge poisons the whole session, a
			// browser fault only loses the current course
			if errors.Is(err, core.ErrRobotDetected) || errors.Is(err, context.Canceled) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "aborting run")
				return errorLinks, err
			}
			slog.ErrorContext(ctx, "failed to process course link",
				"link", link, "err", err)
			errorLinks = append(errorLinks, link)
		}
	}

	if len(errorLinks) > 0 {
		slog.WarnContext(ctx, "some courses could not be completed",
			"error_links", errorLinks)
	}
	slog.InfoContext(ctx, "watch run finished",
		"links", len(links), "failed", len(errorLinks))
	return errorLinks, nil
}

// processLink runs one link through the pipeline. Unknown courses go
// through enrollment first, filtered-out and expired offers are not
// errors.
func (w *Watcher) processLink(ctx context.Context, link string) error {
	ctx, span := tracer.Start(ctx, "watcher:processLink")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "link",
		Value: attribute.StringValue(link),
	})

	endpoint, courseId, err := w.resolver.Resolve(ctx, link)

	var notFound *core.CourseNotFoundError
	if errors.As(err, &notFound) {
		slog.InfoContext(ctx, "not an enrolled course, attempting enrollment", "link", link)

		status, err := w.enroller.Enroll(ctx, link)
		if err != nil {
			return err
		}
		switch status {
		case enroll.StatusEnrolled, enroll.StatusAlreadyEnrolled:
		default:
			slog.InfoContext(ctx, "skipping course", "link", link, "status", status.String())
			return nil
		}

		endpoint, courseId, err = w.resolver.Resolve(ctx, link)
		if err != nil {
			return fmt.Errorf("resolve after enrollment: %w", err)
		}
	} else if err != nil {
		return err
	}

	outcome, err := w.tracker.Remediate(ctx, courseId, endpoint)
	if err != nil {
		return err
	}
	for _, itemErr := range outcome.Errors {
		if errors.Is(itemErr, core.ErrRobotDetected) {
			return itemErr
		}
	}
	if !outcome.Done() {
		return fmt.Errorf("course %d stuck at %d%% completion",
			courseId, outcome.After.CompletionRatio)
	}
	return nil
}

func dedupe(links []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(links))
	for _, link := range links {
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}
