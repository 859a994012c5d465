package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"coursewatcher/lib/scrapers/udemy/browser"
	"coursewatcher/lib/scrapers/udemy/core"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dgraph-io/badger/v4"
)

var tracer = otel.Tracer("scrapers/udemy/catalog")

// the SPA mounts its entrypoint on this element, its data-module-args
// attribute carries the course id as json once the client-side loader
// has rendered
const appLoaderXPath = "//div[starts-with(@class, 'ud-app-loader')][@data-module-args]"

// Resolver turns raw course links into (lectures endpoint, course id)
// pairs. Direct links resolve by pattern match, SPA-hydrated ones need
// the page rendered first.
type Resolver struct {
	client  *core.Client
	browser browser.Browser
	cache   idCache

	dashboardRedirect *regexp.Regexp
	numericCourse     *regexp.Regexp
}

type ResolverOptions struct {
	// optional badger handle for the resolved-id cache
	Cache *badger.DB
}

func NewResolver(client *core.Client, b browser.Browser, opts ResolverOptions) *Resolver {
	domain := regexp.QuoteMeta(client.Domain)
	return &Resolver{
		client:  client,
		browser: b,
		cache:   idCache{db: opts.Cache},
		dashboardRedirect: regexp.MustCompile(fmt.Sprintf(
			`^https://(www\.)?%s\.udemy\.com/course-dashboard-redirect/\?course_id=(?P<id>\d+)$`,
			domain,
		)),
		numericCourse: regexp.MustCompile(fmt.Sprintf(
			`https://(www\.)?%s\.udemy\.com/course/(?P<id>\d+)/?$`,
			domain,
		)),
	}
}

// ExtractCourseId pulls the course id straight out of a link when it has
// one of the known direct shapes.
func (r *Resolver) ExtractCourseId(rawLink string) (int64, bool) {
	for _, pattern := range []*regexp.Regexp{r.dashboardRedirect, r.numericCourse} {
		groups := pattern.FindStringSubmatch(rawLink)
		if groups == nil {
			continue
		}
		idStr := groups[pattern.SubexpIndex("id")]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		return id, true
	}
	return 0, false
}

// Resolve returns the lectures listing endpoint and canonical id for a
// raw course link. Resolution order: cache, pattern match, plain fetch
// of the page, browser-rendered fallback.
func (r *Resolver) Resolve(ctx context.Context, rawLink string) (string, int64, error) {
	ctx, span := tracer.Start(ctx, "resolver:Resolve")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "link",
		Value: attribute.StringValue(rawLink),
	})

	if id, ok := r.cache.get(ctx, rawLink); ok {
		span.SetStatus(codes.Ok, "CACHE HIT")
		return r.client.LecturesEndpoint(id), id, nil
	}

	if id, ok := r.ExtractCourseId(rawLink); ok {
		r.cache.set(ctx, rawLink, id)
		return r.client.LecturesEndpoint(id), id, nil
	}

	id, err := r.courseIdFromPage(ctx, rawLink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve course id")
		return "", 0, err
	}

	r.cache.set(ctx, rawLink, id)
	return r.client.LecturesEndpoint(id), id, nil
}

type moduleArgs struct {
	CourseId int64 `json:"courseId"`
}

// courseIdFromPage fetches the course page and digs the id out of the
// app loader element. A plain fetch is tried first, when the loader only
// materializes after client-side rendering the browser takes over.
func (r *Resolver) courseIdFromPage(ctx context.Context, rawLink string) (int64, error) {
	ctx, span := tracer.Start(ctx, "resolver:courseIdFromPage")
	defer span.End()

	res, err := r.client.Http.R().
		SetContext(ctx).
		Get(rawLink)
	if err == nil && !res.IsError() {
		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err == nil {
			if doc.Find("#px-captcha").Length() > 0 {
				span.SetStatus(codes.Error, "anti-bot challenge")
				return 0, core.ErrRobotDetected
			}
			attr := doc.Find("div.ud-app-loader[data-module-args]").AttrOr("data-module-args", "")
			if id, ok := parseModuleArgs(attr); ok {
				return id, nil
			}
		}
	}

	if r.browser == nil {
		return 0, &core.CourseNotFoundError{Link: rawLink}
	}

	slog.DebugContext(ctx, "falling back to browser resolution", "link", rawLink)

	err = r.browser.Navigate(ctx, rawLink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load page")
		return 0, err
	}
	outcome := r.browser.Attribute(ctx, appLoaderXPath, "data-module-args", time.Second*10)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "failed to read app loader attribute")
		return 0, outcome.Err
	}
	if outcome.Timeout {
		return 0, &core.CourseNotFoundError{Link: rawLink}
	}
	if id, ok := parseModuleArgs(outcome.Value); ok {
		return id, nil
	}
	return 0, &core.CourseNotFoundError{Link: rawLink}
}

func parseModuleArgs(attr string) (int64, bool) {
	if attr == "" {
		return 0, false
	}
	var args moduleArgs
	err := json.Unmarshal([]byte(attr), &args)
	if err != nil || args.CourseId == 0 {
		return 0, false
	}
	return args.CourseId, true
}
