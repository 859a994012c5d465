package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"coursewatcher/lib/scrapers/udemy/browser"
	"coursewatcher/lib/scrapers/udemy/core"
	"coursewatcher/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

// fakeBrowser scripts element behavior per selector and records every
// interaction, standing in for a live driver.
type fakeBrowser struct {
	mu sync.Mutex

	currentUrl string
	navigated  []string
	clicked    []string

	// selectors that report a timeout instead of succeeding
	missing map[string]bool
	// invoked after a successful click, used to simulate the page
	// firing requests in response
	clickHook func(selector string)

	requests []browser.CapturedRequest
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeBrowser) CurrentUrl(ctx context.Context) (string, error) {
	return f.currentUrl, nil
}

func (f *fakeBrowser) Title(ctx context.Context) (string, error) {
	return "fake page", nil
}

func (f *fakeBrowser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) browser.Outcome {
	if f.missing[selector] {
		return browser.TimedOut()
	}
	return browser.Ok("")
}

func (f *fakeBrowser) Click(ctx context.Context, selector string, timeout time.Duration) browser.Outcome {
	if f.missing[selector] {
		return browser.TimedOut()
	}
	f.mu.Lock()
	f.clicked = append(f.clicked, selector)
	hook := f.clickHook
	f.mu.Unlock()
	if hook != nil {
		hook(selector)
	}
	return browser.Ok("")
}

func (f *fakeBrowser) Text(ctx context.Context, selector string, timeout time.Duration) browser.Outcome {
	if f.missing[selector] {
		return browser.TimedOut()
	}
	return browser.Ok("")
}

func (f *fakeBrowser) Attribute(ctx context.Context, selector, name string, timeout time.Duration) browser.Outcome {
	if f.missing[selector] {
		return browser.TimedOut()
	}
	return browser.Ok("")
}

func (f *fakeBrowser) Evaluate(ctx context.Context, script string) error {
	return nil
}

func (f *fakeBrowser) RequestMark() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBrowser) RequestsSince(mark int) []browser.CapturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mark < 0 || mark > len(f.requests) {
		mark = len(f.requests)
	}
	out := make([]browser.CapturedRequest, len(f.requests)-mark)
	copy(out, f.requests[mark:])
	return out
}

func (f *fakeBrowser) addRequest(method, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, browser.CapturedRequest{Method: method, Url: url})
}

func (f *fakeBrowser) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	return nil
}

func (f *fakeBrowser) Close(ctx context.Context) error {
	return nil
}

func testClient(t *testing.T, server *httptest.Server) *core.Client {
	t.Helper()
	baseUrl, err := url.Parse(server.URL)
	require.NoError(t, err)
	return &core.Client{
		Domain:  "www",
		BaseUrl: baseUrl,
		Http:    resty.New().SetBaseURL(server.URL),
	}
}

func TestAnswerIndexes(t *testing.T) {
	require.Equal(t, []int{0, 2}, answerIndexes([]string{"a", "c"}))
	require.Equal(t, []int{1}, answerIndexes([]string{"b"}))
	require.Nil(t, answerIndexes([]string{"", "1"}))
	require.Nil(t, answerIndexes(nil))
}

func TestCapturedAttemptId(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/solver")
	defer cleanup()

	fake := &fakeBrowser{}
	s := New(&core.Client{Domain: "www"}, fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	fake.addRequest("GET", "https://www.udemy.com/api-2.0/some-other-endpoint/")
	fake.addRequest("POST", "https://www.udemy.com/api-2.0/users/me/subscribed-courses/42/user-attempted-quizzes/9001/assessment-answers/")
	// the same submission observed twice is still one attempt
	fake.addRequest("POST", "https://www.udemy.com/api-2.0/users/me/subscribed-courses/42/user-attempted-quizzes/9001/assessment-answers/")

	id, err := s.capturedAttemptId(ctx, 7, 0)
	require.NoError(t, err)
	require.Equal(t, int64(9001), id)
}

func TestCapturedAttemptIdAmbiguous(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/solver")
	defer cleanup()

	fake := &fakeBrowser{}
	s := New(&core.Client{Domain: "www"}, fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	fake.addRequest("POST", "https://www.udemy.com/api-2.0/users/me/subscribed-courses/42/user-attempted-quizzes/9001/assessment-answers/")
	fake.addRequest("POST", "https://www.udemy.com/api-2.0/users/me/subscribed-courses/42/user-attempted-quizzes/9002/assessment-answers/")

	_, err := s.capturedAttemptId(ctx, 7, 0)
	var ambiguous *core.AmbiguousAssessmentError
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, int64(7), ambiguous.QuizId)
	require.Len(t, ambiguous.Matches, 2)
}

func TestSolveFirstWithDriverClicksAnswerOptions(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/solver")
	defer cleanup()

	fake := &fakeBrowser{
		currentUrl: "https://www.udemy.com/course/go-basics/learn/lecture/1#overview",
	}
	fake.clickHook = func(selector string) {
		if selector == nextQuestionXPath {
			fake.addRequest("POST", "https://www.udemy.com/api-2.0/users/me/subscribed-courses/42/user-attempted-quizzes/9001/assessment-answers/")
		}
	}
	s := New(&core.Client{Domain: "www"}, fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	a := core.Assessment{
		Class:           "assessment",
		Id:              100,
		CorrectResponse: json.RawMessage(`["a", "c"]`),
		InitialId:       7,
		InitialType:     core.QuizTypeMultiple,
	}
	id, err := s.solveFirstWithDriver(ctx, 42, a)
	require.NoError(t, err)
	require.Equal(t, int64(9001), id)

	require.Contains(t, fake.navigated, "https://www.udemy.com/course/42/")
	require.Contains(t, fake.navigated, "https://www.udemy.com/course/go-basics/learn/quiz/7#overview")

	// options are clicked at their letter positions, 1-based in XPath
	require.Contains(t, fake.clicked, "(//ul[@aria-labelledby='question-prompt']/li)[1]")
	require.Contains(t, fake.clicked, "(//ul[@aria-labelledby='question-prompt']/li)[3]")
	require.NotContains(t, fake.clicked, "(//ul[@aria-labelledby='question-prompt']/li)[2]")
}

func TestSolveCourseReplaysAndFinalizesPracticeTest(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/solver")
	defer cleanup()

	var mu sync.Mutex
	var submissions []core.AnswerPayload
	submissionsAtStop := -1

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/subscriber-curriculum-items/"):
			fmt.Fprint(w, `{"results": [{"_class": "quiz", "id": 7, "type": "practice-test"}]}`)
		case strings.HasSuffix(r.URL.Path, "/quizzes/7/assessments/"):
			fmt.Fprint(w, `{"results": [
				{"_class": "assessment", "id": 100, "correct_response": ["a"]},
				{"_class": "assessment", "id": 101, "correct_response": ["b"]}
			]}`)
		case strings.HasSuffix(r.URL.Path, "/user-attempted-quizzes/latest"):
			fmt.Fprint(w, `{"_class": "user_attempted_quiz", "id": 555}`)
		case strings.HasSuffix(r.URL.Path, "/user-attempted-quizzes/555/assessment-answers/"):
			var payload core.AnswerPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			mu.Lock()
			submissions = append(submissions, payload)
			mu.Unlock()
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fake := &fakeBrowser{
		currentUrl: "https://www.udemy.com/course/go-basics/learn/lecture/1#overview",
		missing:    map[string]bool{unpauseTestXPath: true},
	}
	fake.clickHook = func(selector string) {
		if selector == stopTestXPath {
			mu.Lock()
			submissionsAtStop = len(submissions)
			mu.Unlock()
		}
	}

	s := New(testClient(t, server), fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	require.NoError(t, s.SolveCourse(ctx, 42))

	require.Len(t, submissions, 2)
	for _, payload := range submissions {
		require.GreaterOrEqual(t, payload.Duration, 1)
		require.LessOrEqual(t, payload.Duration, 150)
	}
	require.Equal(t, int64(100), submissions[0].AssessmentId)
	require.Equal(t, int64(101), submissions[1].AssessmentId)

	// the finalize sequence runs only after the last member answer
	require.Equal(t, 2, submissionsAtStop)
	require.Contains(t, fake.clicked, stopTestXPath)
	require.Contains(t, fake.clicked, confirmSubmitXPath)
	require.Contains(t, fake.navigated, "https://www.udemy.com/course/go-basics/learn/quiz/7/test#overview")
}

func TestSolveCourseFinalizesOverHttpWhenSubmitFlowStalls(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/solver")
	defer cleanup()

	var mu sync.Mutex
	patched := false

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/subscriber-curriculum-items/"):
			fmt.Fprint(w, `{"results": [{"_class": "quiz", "id": 7, "type": "practice-test"}]}`)
		case strings.HasSuffix(r.URL.Path, "/quizzes/7/assessments/"):
			fmt.Fprint(w, `{"results": [{"_class": "assessment", "id": 100, "correct_response": ["a"]}]}`)
		case strings.HasSuffix(r.URL.Path, "/user-attempted-quizzes/latest"):
			fmt.Fprint(w, `{"_class": "user_attempted_quiz", "id": 555}`)
		case strings.HasSuffix(r.URL.Path, "/user-attempted-quizzes/555/assessment-answers/"):
			fmt.Fprint(w, `{}`)
		case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/quizzes/7/user-attempted-quizzes/555/"):
			mu.Lock()
			patched = true
			mu.Unlock()
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	// the stop button works but the confirmation dialog never renders,
	// finishing the test must fall back to the direct patch
	fake := &fakeBrowser{
		currentUrl: "https://www.udemy.com/course/go-basics/learn/lecture/1#overview",
		missing: map[string]bool{
			unpauseTestXPath:   true,
			confirmSubmitXPath: true,
		},
	}

	s := New(testClient(t, server), fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	require.NoError(t, s.SolveCourse(ctx, 42))

	mu.Lock()
	defer mu.Unlock()
	require.True(t, patched)
}

func TestSolveCourseMixesReplayAndDriverPaths(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/solver")
	defer cleanup()

	var mu sync.Mutex
	replays := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/subscriber-curriculum-items/"):
			fmt.Fprint(w, `{"results": [
				{"_class": "quiz", "id": 7, "type": "simple-quiz"},
				{"_class": "quiz", "id": 8, "type": "simple-quiz"}
			]}`)
		case strings.HasSuffix(r.URL.Path, "/quizzes/7/assessments/"):
			fmt.Fprint(w, `{"results": [{"_class": "assessment", "id": 100, "correct_response": ["a"]}]}`)
		case strings.HasSuffix(r.URL.Path, "/quizzes/8/assessments/"):
			fmt.Fprint(w, `{"results": [{"_class": "assessment", "id": 200, "correct_response": ["b"]}]}`)
		case strings.HasSuffix(r.URL.Path, "/quizzes/7/user-attempted-quizzes/latest"):
			fmt.Fprint(w, `{"_class": "user_attempted_quiz", "id": 555}`)
		case strings.HasSuffix(r.URL.Path, "/quizzes/8/user-attempted-quizzes/latest"):
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, "/progress/"):
			fmt.Fprint(w, `{"completed_assignment_ids": []}`)
		case strings.HasSuffix(r.URL.Path, "/user-attempted-quizzes/555/assessment-answers/"):
			mu.Lock()
			replays++
			mu.Unlock()
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fake := &fakeBrowser{
		currentUrl: "https://www.udemy.com/course/go-basics/learn/lecture/1#overview",
	}
	fake.clickHook = func(selector string) {
		if selector == nextQuestionXPath {
			fake.addRequest("POST", "https://www.udemy.com/api-2.0/users/me/subscribed-courses/42/user-attempted-quizzes/9002/assessment-answers/")
		}
	}

	s := New(testClient(t, server), fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	require.NoError(t, s.SolveCourse(ctx, 42))

	// the quiz with history replays over HTTP, the other one goes
	// through the browser
	require.Equal(t, 1, replays)
	require.Contains(t, fake.navigated, "https://www.udemy.com/course/go-basics/learn/quiz/8#overview")
	require.NotContains(t, fake.navigated, "https://www.udemy.com/course/go-basics/learn/quiz/7#overview")
}

func TestSolveCourseSkipsUnknownContainerType(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:udemy/solver")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/subscriber-curriculum-items/"):
			fmt.Fprint(w, `{"results": [{"_class": "quiz", "id": 7, "type": "futuristic-quiz"}]}`)
		case strings.HasSuffix(r.URL.Path, "/quizzes/7/assessments/"):
			fmt.Fprint(w, `{"results": [{"_class": "assessment", "id": 100, "correct_response": ["a"]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fake := &fakeBrowser{}
	s := New(testClient(t, server), fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	require.NoError(t, s.SolveCourse(ctx, 42))
	require.Empty(t, fake.navigated)
	require.Empty(t, fake.clicked)
}
