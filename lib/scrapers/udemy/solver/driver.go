package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"coursewatcher/lib/scrapers/udemy/browser"
	"coursewatcher/lib/scrapers/udemy/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	startOrResumeQuizXPath = "//button[@data-purpose='start-or-resume-quiz']"
	startQuizXPath         = "//button[@data-purpose='start-quiz']"
	questionPromptXPath    = "//ul[@aria-labelledby='question-prompt']"
	nextQuestionXPath      = "//button[@data-purpose='next-question-button']"
	goToNextQuestionXPath  = "//button[@data-purpose='go-to-next-question']"

	checkCodeXPath     = "//button[@data-purpose='check-button']"
	codeFeedbackXPath  = "//div[@data-purpose='feedback-title']"
	goToNextXPath      = "//div[@data-purpose='go-to-next']"
	codeEditorXPath    = `//*[@id="editor"]`
	unpauseTestXPath   = "//button[@data-purpose='unpause-test']"
	stopTestXPath      = "//button[@data-purpose='stop']"
	confirmSubmitXPath = "//button[@data-purpose='submit-confirm-modal']"
)

const stepTimeout = time.Second * 10

// realCourseSlug navigates to the bare /course/{id}/ link and lets the
// player redirect to the canonical slug url, which the quiz pages are
// keyed on.
func (s *Solver) realCourseSlug(ctx context.Context, courseId int64) (string, error) {
	ctx, span := tracer.Start(ctx, "solver:realCourseSlug")
	defer span.End()

	err := s.browser.Navigate(ctx, fmt.Sprintf(
		"https://%s.udemy.com/course/%d/", s.client.Domain, courseId,
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open course page")
		return "", err
	}

	// the redirect lands on the player, give it a moment to settle
	deadline := time.Now().Add(stepTimeout)
	for {
		current, err := s.browser.CurrentUrl(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read current url")
			return "", err
		}
		groups := s.quizPage.FindStringSubmatch(current)
		if groups != nil {
			return groups[s.quizPage.SubexpIndex("slug")], nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("course %d never redirected to the player, got %q", courseId, current)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond * 500):
		}
	}
}

func (s *Solver) quizPageUrl(slug string, quizId int64, practiceTest bool) string {
	suffix := "#overview"
	if practiceTest {
		suffix = "/test#overview"
	}
	return fmt.Sprintf("https://%s.udemy.com/course/%s/learn/quiz/%d%s",
		s.client.Domain, slug, quizId, suffix)
}

// clickWithFallback tries the primary selector first and the fallback
// only if the primary never appears. Page variants render one or the
// other.
func (s *Solver) clickWithFallback(ctx context.Context, primary, fallback string) browser.Outcome {
	outcome := s.browser.Click(ctx, primary, stepTimeout)
	if outcome.Timeout {
		return s.browser.Click(ctx, fallback, stepTimeout)
	}
	return outcome
}

// solveFirstWithDriver answers one never-attempted assessment through the
// browser and returns the real attempt id captured from the submission
// request the page fires.
func (s *Solver) solveFirstWithDriver(ctx context.Context, courseId int64, a core.Assessment) (int64, error) {
	ctx, span := tracer.Start(ctx, "solver:solveFirstWithDriver")
	defer span.End()
	span.SetAttributes(
		attribute.KeyValue{Key: "quiz_id", Value: attribute.Int64Value(a.InitialId)},
		attribute.KeyValue{Key: "assessment_id", Value: attribute.Int64Value(a.Id)},
	)

	slug, err := s.realCourseSlug(ctx, courseId)
	if err != nil {
		return 0, err
	}

	err = s.browser.Navigate(ctx, s.quizPageUrl(slug, a.InitialId, a.InitialType == core.QuizTypePracticeTest))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open quiz page")
		return 0, err
	}

	if outcome := s.clickWithFallback(ctx, startOrResumeQuizXPath, startQuizXPath); outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "failed to start quiz")
		return 0, outcome.Err
	}
	// a missing start button means the quiz resumed straight into a
	// question, keep going

	if outcome := s.browser.WaitVisible(ctx, questionPromptXPath, stepTimeout); !outcome.Ok() {
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, "question prompt never rendered")
			return 0, outcome.Err
		}
		return 0, fmt.Errorf("quiz %d: question prompt never rendered", a.InitialId)
	}

	for _, index := range answerIndexes(a.CorrectLetters()) {
		// XPath positions are 1-based
		selector := fmt.Sprintf("(%s/li)[%d]", questionPromptXPath, index+1)
		outcome := s.browser.Click(ctx, selector, stepTimeout)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, "failed to click answer option")
			return 0, outcome.Err
		}
		if outcome.Timeout {
			return 0, fmt.Errorf("quiz %d: answer option %d not present", a.InitialId, index+1)
		}
	}

	// advancing to the next question fires the assessment-answers POST,
	// watch the request log from here
	mark := s.browser.RequestMark()
	if outcome := s.clickWithFallback(ctx, nextQuestionXPath, goToNextQuestionXPath); !outcome.Ok() {
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, "failed to advance past question")
			return 0, outcome.Err
		}
		return 0, fmt.Errorf("quiz %d: no next-question button", a.InitialId)
	}

	return s.capturedAttemptId(ctx, a.InitialId, mark)
}

// capturedAttemptId digs the real attempt id out of the submission POST
// the page emitted. Exactly one distinct id must have been captured.
func (s *Solver) capturedAttemptId(ctx context.Context, quizId int64, mark int) (int64, error) {
	// the POST fires asynchronously after the click
	var ids []int64
	seen := map[int64]bool{}
	deadline := time.Now().Add(stepTimeout)
	for {
		for _, req := range s.browser.RequestsSince(mark) {
			if req.Method != "POST" {
				continue
			}
			groups := s.answerUrl.FindStringSubmatch(req.Url)
			if groups == nil {
				continue
			}
			id, err := strconv.ParseInt(groups[s.answerUrl.SubexpIndex("id")], 10, 64)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if len(ids) > 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Millisecond * 250):
		}
	}

	if len(ids) == 0 {
		return 0, fmt.Errorf("quiz %d: no answer submission captured", quizId)
	}
	if len(ids) > 1 {
		matches := make([]string, 0, len(ids))
		for _, id := range ids {
			matches = append(matches, strconv.FormatInt(id, 10))
		}
		return 0, &core.AmbiguousAssessmentError{QuizId: quizId, Matches: matches}
	}
	return ids[0], nil
}

// solveCodingExercise types the known solution into the in-page editor
// and runs the checker. There is no replay endpoint for these.
func (s *Solver) solveCodingExercise(ctx context.Context, courseId int64, a core.Assessment) error {
	ctx, span := tracer.Start(ctx, "solver:solveCodingExercise")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "quiz_id",
		Value: attribute.Int64Value(a.InitialId),
	})

	if len(a.Prompt.SolutionFiles) == 0 {
		slog.InfoContext(ctx, "coding exercise has no solution files, skipping",
			"quiz_id", a.InitialId)
		return nil
	}

	slug, err := s.realCourseSlug(ctx, courseId)
	if err != nil {
		return err
	}
	err = s.browser.Navigate(ctx, s.quizPageUrl(slug, a.InitialId, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open coding exercise")
		return err
	}

	for _, file := range a.Prompt.SolutionFiles {
		tab := fmt.Sprintf("//button//div[contains(text(), '%s')]", file.FileName)
		outcome := s.browser.Click(ctx, tab, time.Second*15)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, "failed to open solution file tab")
			return outcome.Err
		}
		if outcome.Timeout {
			// single-file exercises render no tab bar
			slog.DebugContext(ctx, "no tab for solution file",
				"quiz_id", a.InitialId, "file", file.FileName)
		}

		if outcome := s.browser.WaitVisible(ctx, codeEditorXPath, stepTimeout); !outcome.Ok() {
			if outcome.Err != nil {
				return outcome.Err
			}
			return fmt.Errorf("quiz %d: editor never rendered", a.InitialId)
		}

		// the editor is an ace instance, setValue replaces the buffer
		content, err := json.Marshal(file.Content)
		if err != nil {
			return err
		}
		err = s.browser.Evaluate(ctx, fmt.Sprintf(`ace.edit("editor").setValue(%s)`, content))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to inject solution")
			return err
		}
	}

	if outcome := s.browser.Click(ctx, checkCodeXPath, stepTimeout); !outcome.Ok() {
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("quiz %d: no check button", a.InitialId)
	}
	if outcome := s.browser.WaitVisible(ctx, codeFeedbackXPath, time.Second*30); !outcome.Ok() {
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("quiz %d: checker produced no feedback", a.InitialId)
	}
	if outcome := s.browser.Click(ctx, goToNextXPath, stepTimeout); outcome.Err != nil {
		return outcome.Err
	}
	return nil
}

// finalizePracticeTest stops and submits a fully-answered practice test.
// Finalizing an already-submitted test is a no-op.
func (s *Solver) finalizePracticeTest(ctx context.Context, courseId, quizId int64) error {
	ctx, span := tracer.Start(ctx, "solver:finalizePracticeTest")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "quiz_id",
		Value: attribute.Int64Value(quizId),
	})

	slug, err := s.realCourseSlug(ctx, courseId)
	if err != nil {
		return err
	}
	err = s.browser.Navigate(ctx, s.quizPageUrl(slug, quizId, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open practice test")
		return err
	}

	if outcome := s.browser.Click(ctx, unpauseTestXPath, stepTimeout); outcome.Err != nil {
		return outcome.Err
	}
	// no unpause button just means the test was never paused

	outcome := s.browser.Click(ctx, stopTestXPath, stepTimeout)
	if outcome.Err != nil {
		return outcome.Err
	}
	if outcome.Timeout {
		// already stopped and submitted on an earlier run
		slog.DebugContext(ctx, "practice test already finalized", "quiz_id", quizId)
		return nil
	}

	outcome = s.browser.Click(ctx, confirmSubmitXPath, stepTimeout)
	if outcome.Err != nil {
		return outcome.Err
	}
	if outcome.Timeout {
		return fmt.Errorf("quiz %d: submit confirmation never appeared", quizId)
	}
	return nil
}

// markCompletedFallback patches the attempt record over HTTP when the
// in-page submit flow could not be driven to completion.
func (s *Solver) markCompletedFallback(ctx context.Context, courseId, quizId, attemptId int64) error {
	ctx, span := tracer.Start(ctx, "solver:markCompletedFallback")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "quiz_id",
		Value: attribute.Int64Value(quizId),
	})

	if attemptId == 0 {
		return fmt.Errorf("quiz %d: no attempt record to mark completed", quizId)
	}

	status, body, err := s.client.MarkQuizCompleted(ctx, courseId, quizId, attemptId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark quiz completed")
		return err
	}
	if status < 200 || status >= 300 {
		slog.WarnContext(ctx, "mark-completed patch rejected",
			"quiz_id", quizId,
			"attempt_id", attemptId,
			"status", status,
			"body", body)
		return fmt.Errorf("quiz %d: mark-completed patch rejected with status %d", quizId, status)
	}

	slog.DebugContext(ctx, "practice test marked completed over http",
		"quiz_id", quizId, "attempt_id", attemptId)
	return nil
}
