package solver

import (
	"context"
	"fmt"
	"log/slog"

	"coursewatcher/lib/scrapers/udemy/core"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// replayAnswer resubmits the known correct response over plain HTTP
// against the existing attempt record. The duration is randomized so
// replays do not all claim the same solve time.
func (s *Solver) replayAnswer(ctx context.Context, courseId, attemptId int64, a core.Assessment) error {
	ctx, span := tracer.Start(ctx, "solver:replayAnswer")
	defer span.End()
	span.SetAttributes(
		attribute.KeyValue{Key: "assessment_id", Value: attribute.Int64Value(a.Id)},
		attribute.KeyValue{Key: "attempt_id", Value: attribute.Int64Value(attemptId)},
	)

	duration, err := random.IntRange(1, 150)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to draw answer duration")
		return err
	}

	status, body, err := s.client.SubmitAnswer(ctx, courseId, attemptId, core.AnswerPayload{
		AssessmentId: a.Id,
		Response:     a.CorrectResponse,
		Duration:     duration,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit answer")
		return err
	}
	if status < 200 || status >= 300 {
		slog.WarnContext(ctx, "answer submission rejected",
			"assessment_id", a.Id,
			"attempt_id", attemptId,
			"status", status,
			"body", body)
		return fmt.Errorf("assessment %d: submission rejected with status %d", a.Id, status)
	}

	slog.DebugContext(ctx, "answer replayed",
		"assessment_id", a.Id, "attempt_id", attemptId, "duration", duration)
	return nil
}
