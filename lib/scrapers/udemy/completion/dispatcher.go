package completion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"coursewatcher/lib/scrapers/udemy/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("scrapers/udemy/completion")

const defaultWorkers = 10

// Result is the outcome of one lecture completion POST. Status and Body
// are whatever the platform returned, Err is set only on transport
// failures.
type Result struct {
	LectureId int64
	Status    int
	Body      string
	Err       error
}

// Dispatcher fans lecture completion requests out over a fixed worker
// pool. Lectures complete independently so order does not matter.
type Dispatcher struct {
	client  *core.Client
	workers int
}

func NewDispatcher(client *core.Client) *Dispatcher {
	return &Dispatcher{client: client, workers: defaultWorkers}
}

// CompleteLectures marks every given lecture complete and returns one
// Result per lecture, in input order.
func (d *Dispatcher) CompleteLectures(ctx context.Context, courseId int64, lectureIds []int64) []Result {
	ctx, span := tracer.Start(ctx, "dispatcher:CompleteLectures")
	defer span.End()
	span.SetAttributes(
		attribute.KeyValue{Key: "course_id", Value: attribute.Int64Value(courseId)},
		attribute.KeyValue{Key: "lectures", Value: attribute.IntValue(len(lectureIds))},
	)

	start := time.Now()
	results := make([]Result, len(lectureIds))
	jobs := make(chan int)

	// completions are idempotent and cheap, so a run interrupt lets
	// in-flight submissions finish instead of tearing them down
	postCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	workers := d.workers
	if workers > len(lectureIds) {
		workers = len(lectureIds)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				lectureId := lectureIds[i]
				status, body, err := d.client.MarkLectureComplete(postCtx, courseId, lectureId)
				results[i] = Result{
					LectureId: lectureId,
					Status:    status,
					Body:      body,
					Err:       err,
				}
			}
		}()
	}

	for i := range lectureIds {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	slog.InfoContext(ctx, "lecture completion batch finished",
		"course_id", courseId,
		"lectures", len(lectureIds),
		"elapsed", time.Since(start))
	return results
}
