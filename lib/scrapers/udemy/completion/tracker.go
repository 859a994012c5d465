package completion

import (
	"context"
	"fmt"
	"log/slog"

	"coursewatcher/lib/scrapers/udemy/core"
	"coursewatcher/lib/scrapers/udemy/solver"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RemediationOutcome records a course's completion state before and
// after one remediation pass, plus the item-level failures collected
// along the way.
type RemediationOutcome struct {
	Before core.CourseDetails
	After  core.CourseDetails
	Errors []error
}

func (o RemediationOutcome) Done() bool {
	return o.After.CompletionRatio == 100
}

// Tracker decides what an incomplete course still needs and applies it:
// lecture completions always, assessment solving only when the course
// has quizzes. The solver runs at most once per course per process, a
// second pass over a still-incomplete course would only repeat the same
// work.
type Tracker struct {
	client     *core.Client
	solver     *solver.Solver
	dispatcher *Dispatcher

	solved map[int64]bool
}

func NewTracker(client *core.Client, sv *solver.Solver) *Tracker {
	return &Tracker{
		client:     client,
		solver:     sv,
		dispatcher: NewDispatcher(client),
		solved:     map[int64]bool{},
	}
}

// Remediate brings one course as close to 100% completion as this pass
// can. The returned outcome always carries the before state, the error
// return is reserved for failures that prevented remediation entirely.
func (t *Tracker) Remediate(ctx context.Context, courseId int64, lecturesEndpoint string) (RemediationOutcome, error) {
	ctx, span := tracer.Start(ctx, "tracker:Remediate")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "course_id",
		Value: attribute.Int64Value(courseId),
	})

	outcome := RemediationOutcome{}

	details, err := t.client.CourseDetails(ctx, courseId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course details")
		return outcome, err
	}
	outcome.Before = details
	outcome.After = details

	if details.CompletionRatio == 100 {
		slog.InfoContext(ctx, "course already complete",
			"course_id", courseId, "title", details.Title)
		return outcome, nil
	}

	slog.InfoContext(ctx, "remediating course",
		"course_id", courseId,
		"title", details.Title,
		"completion_ratio", details.CompletionRatio,
		"num_quizzes", details.NumQuizzes)

	lectureIds, err := t.client.LectureIds(ctx, lecturesEndpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list lectures")
		return outcome, err
	}

	for _, result := range t.dispatcher.CompleteLectures(ctx, courseId, lectureIds) {
		if result.Err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Errorf(
				"lecture %d: %w", result.LectureId, result.Err))
			continue
		}
		if result.Status < 200 || result.Status >= 300 {
			outcome.Errors = append(outcome.Errors, fmt.Errorf(
				"lecture %d: status %d: %s", result.LectureId, result.Status, result.Body))
		}
	}

	if details.NumQuizzes > 0 {
		err := t.solveOnce(ctx, courseId)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "assessment solving failed")
			outcome.Errors = append(outcome.Errors, err)
		}
	}

	after, err := t.client.CourseDetails(ctx, courseId)
	if err != nil {
		// completions may well have landed, report what we know
		outcome.Errors = append(outcome.Errors, fmt.Errorf(
			"re-query course details: %w", err))
		return outcome, nil
	}
	outcome.After = after

	slog.InfoContext(ctx, "remediation pass finished",
		"course_id", courseId,
		"before", outcome.Before.CompletionRatio,
		"after", outcome.After.CompletionRatio,
		"errors", len(outcome.Errors))
	return outcome, nil
}

func (t *Tracker) solveOnce(ctx context.Context, courseId int64) error {
	if t.solved[courseId] {
		slog.DebugContext(ctx, "solver already ran for course, skipping",
			"course_id", courseId)
		return nil
	}
	if t.solver == nil {
		slog.WarnContext(ctx, "course has quizzes but no solver is configured",
			"course_id", courseId)
		return nil
	}
	t.solved[courseId] = true
	return t.solver.SolveCourse(ctx, courseId)
}
