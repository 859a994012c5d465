package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"coursewatcher/lib/scrapers/udemy/core"
	"coursewatcher/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseUrl string) *core.Client {
	t.Helper()
	parsed, err := url.Parse(baseUrl)
	require.NoError(t, err)
	return &core.Client{
		Domain:  "www",
		BaseUrl: parsed,
		Http:    resty.New().SetBaseURL(baseUrl),
	}
}

func TestExtractCourseId(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/catalog")
	defer cleanup()

	r := NewResolver(testClient(t, "https://www.udemy.com"), nil, ResolverOptions{})

	id, ok := r.ExtractCourseId("https://www.udemy.com/course-dashboard-redirect/?course_id=12345")
	require.True(t, ok)
	require.Equal(t, int64(12345), id)

	id, ok = r.ExtractCourseId("https://www.udemy.com/course/67890/")
	require.True(t, ok)
	require.Equal(t, int64(67890), id)

	_, ok = r.ExtractCourseId("https://www.udemy.com/course/learn-go-from-scratch/")
	require.False(t, ok)

	// a different tenant's links never match
	_, ok = r.ExtractCourseId("https://elsewhere.udemy.com/course/67890/")
	require.False(t, ok)
}

func TestResolveDirectLink(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/catalog")
	defer cleanup()

	client := testClient(t, "https://www.udemy.com")
	r := NewResolver(client, nil, ResolverOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	endpoint, id, err := r.Resolve(ctx, "https://www.udemy.com/course-dashboard-redirect/?course_id=12345")
	require.NoError(t, err)
	require.Equal(t, int64(12345), id)
	require.Equal(t, client.LecturesEndpoint(12345), endpoint)
}

func TestResolveFromRenderedPage(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/catalog")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="ud-app-loader thing" data-module-args='{"courseId": 67890}'></div>
		</body></html>`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	r := NewResolver(client, nil, ResolverOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	endpoint, id, err := r.Resolve(ctx, server.URL+"/course/learn-go-from-scratch/")
	require.NoError(t, err)
	require.Equal(t, int64(67890), id)
	require.Equal(t, client.LecturesEndpoint(67890), endpoint)
}

func TestResolveRobotDetected(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/catalog")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="px-captcha"></div></body></html>`)
	}))
	defer server.Close()

	r := NewResolver(testClient(t, server.URL), nil, ResolverOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, _, err := r.Resolve(ctx, server.URL+"/course/learn-go-from-scratch/")
	require.ErrorIs(t, err, core.ErrRobotDetected)
}

func TestResolveNotFound(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/catalog")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>nothing here</body></html>`)
	}))
	defer server.Close()

	r := NewResolver(testClient(t, server.URL), nil, ResolverOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, _, err := r.Resolve(ctx, server.URL+"/course/learn-go-from-scratch/")
	var notFound *core.CourseNotFoundError
	require.ErrorAs(t, err, &notFound)
}
