package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"coursewatcher/lib/scrapers/udemy/browser"
	"coursewatcher/lib/scrapers/udemy/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/udemy/solver")

// per-assessment solve states
type solveState int

const (
	stateUnseen solveState = iota
	stateResolvedViaHistory
	stateResolvedViaDriver
	stateSubmitted
	stateDone
	stateSkipped
)

func (s solveState) String() string {
	switch s {
	case stateUnseen:
		return "unseen"
	case stateResolvedViaHistory:
		return "resolved-via-history"
	case stateResolvedViaDriver:
		return "resolved-via-driver"
	case stateSubmitted:
		return "submitted"
	case stateDone:
		return "done"
	case stateSkipped:
		return "skipped"
	}
	return "unknown"
}

// Solver answers every unanswered assessment of a course. Previously
// solved quizzes replay their recorded answer over plain HTTP, first-time
// solves drive the browser to discover the real attempt id.
type Solver struct {
	client  *core.Client
	browser browser.Browser

	// answerUrl matches the assessment-answers POST a driver solve is
	// expected to emit exactly once
	answerUrl *regexp.Regexp
	// quizPage matches a rendered course player url and captures the
	// course slug
	quizPage *regexp.Regexp
}

func New(client *core.Client, b browser.Browser) *Solver {
	domain := regexp.QuoteMeta(client.Domain)
	return &Solver{
		client:  client,
		browser: b,
		answerUrl: regexp.MustCompile(fmt.Sprintf(
			`^https://(www\.)?%s\.udemy\.com/api-2\.0/users/me/subscribed-courses/\d+/user-attempted-quizzes/(?P<id>\d+)/assessment-answers/?$`,
			domain,
		)),
		quizPage: regexp.MustCompile(fmt.Sprintf(
			`^https://(www\.)?%s\.udemy\.com/course/(?P<slug>.+[^/])/learn/(?:quiz|lecture|practice)/\d+.*$`,
			domain,
		)),
	}
}

// SolveCourse walks every quiz container of the course and answers its
// member assessments. Item-level failures are logged and skipped, a
// browser-session fault or an anti-bot challenge aborts the remaining
// items and is returned to the caller.
func (s *Solver) SolveCourse(ctx context.Context, courseId int64) error {
	ctx, span := tracer.Start(ctx, "solver:SolveCourse")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "course_id",
		Value: attribute.Int64Value(courseId),
	})

	containers, err := s.client.QuizContainers(ctx, courseId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list quiz containers")
		return err
	}

	var assessments []core.Assessment
	for _, container := range containers {
		members, err := s.client.Assessments(ctx, container)
		if err != nil {
			slog.WarnContext(ctx, "failed to list assessments, skipping container",
				"course_id", courseId, "quiz_id", container.Id, "err", err)
			continue
		}
		assessments = append(assessments, members...)
	}
	if len(assessments) == 0 {
		return nil
	}

	// practice-test containers finalize only once every member has been
	// answered, so count members per container up front
	memberCounts := map[int64]int{}
	for _, a := range assessments {
		if a.InitialType == core.QuizTypePracticeTest {
			memberCounts[a.InitialId]++
		}
	}
	submitted := map[int64]int{}
	attempts := map[int64]int64{}

	for _, a := range assessments {
		state, attemptId, err := s.solveAssessment(ctx, courseId, a)
		if err != nil {
			var driverErr *browser.DriverError
			if errors.As(err, &driverErr) || errors.Is(err, core.ErrRobotDetected) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "aborting remaining assessments")
				return err
			}

			var ambiguous *core.AmbiguousAssessmentError
			if errors.As(err, &ambiguous) {
				slog.ErrorContext(ctx, "ambiguous captured submission, skipping assessment",
					"course_id", courseId, "quiz_id", a.InitialId, "err", err)
				continue
			}

			slog.WarnContext(ctx, "failed to solve assessment",
				"course_id", courseId,
				"assessment_id", a.Id,
				"quiz_id", a.InitialId,
				"err", err)
			continue
		}

		slog.DebugContext(ctx, "assessment handled",
			"assessment_id", a.Id,
			"quiz_id", a.InitialId,
			"state", state.String())

		if attemptId != 0 {
			attempts[a.InitialId] = attemptId
		}
		if a.InitialType != core.QuizTypePracticeTest || state == stateSkipped {
			continue
		}
		submitted[a.InitialId]++
		if submitted[a.InitialId] == memberCounts[a.InitialId] {
			err := s.finalizePracticeTest(ctx, courseId, a.InitialId)
			if err != nil {
				var driverErr *browser.DriverError
				if errors.As(err, &driverErr) {
					return err
				}
				err = s.markCompletedFallback(ctx, courseId, a.InitialId, attempts[a.InitialId])
				if err != nil {
					slog.WarnContext(ctx, "failed to finalize practice test",
						"course_id", courseId, "quiz_id", a.InitialId, "err", err)
					continue
				}
			}
			slog.InfoContext(ctx, "practice test completed",
				"course_id", courseId, "quiz_id", a.InitialId)
		}
	}

	return nil
}

// solveAssessment runs one assessment through its states:
// unseen -> resolved-via-history|resolved-via-driver -> submitted -> done
// The resolved attempt id is returned alongside the state so the caller
// can finalize the containing practice test.
func (s *Solver) solveAssessment(ctx context.Context, courseId int64, a core.Assessment) (solveState, int64, error) {
	ctx, span := tracer.Start(ctx, "solver:solveAssessment")
	defer span.End()

	state := stateUnseen

	switch a.InitialType {
	case core.QuizTypeSimple, core.QuizTypeMultiple, core.QuizTypePracticeTest:
	case core.QuizTypeCoding:
		// the coding editor has no replay endpoint, every solve is
		// driver-based
		err := s.solveCodingExercise(ctx, courseId, a)
		if err != nil {
			return state, 0, err
		}
		return stateDone, 0, nil
	default:
		slog.InfoContext(ctx, "no solving strategy for container type, skipping",
			"quiz_id", a.InitialId, "type", a.InitialType)
		return stateSkipped, 0, nil
	}

	attemptId, hasHistory, err := s.client.LatestQuizAttempt(ctx, courseId, a.InitialId)
	if err != nil {
		return state, 0, err
	}

	if hasHistory {
		state = stateResolvedViaHistory
		err = s.replayAnswer(ctx, courseId, attemptId, a)
		if err != nil {
			return state, attemptId, err
		}
		return stateSubmitted, attemptId, nil
	}

	completed, err := s.client.CompletedAssignmentIds(ctx, courseId)
	if err != nil {
		return state, 0, err
	}
	for _, id := range completed {
		if id == a.InitialId {
			return stateSkipped, 0, nil
		}
	}

	realId, err := s.solveFirstWithDriver(ctx, courseId, a)
	if err != nil {
		return state, 0, err
	}
	state = stateResolvedViaDriver

	slog.InfoContext(ctx, "discovered real assessment id",
		"quiz_id", a.InitialId, "attempt_id", realId)
	return state, realId, nil
}

// answerIndexes maps the answer letters onto zero-based option indexes,
// 'a' is the first option.
func answerIndexes(letters []string) []int {
	var indexes []int
	for _, letter := range letters {
		if len(letter) == 0 {
			continue
		}
		c := letter[0]
		if c < 'a' || c > 'z' {
			continue
		}
		indexes = append(indexes, int(c-'a'))
	}
	return indexes
}
